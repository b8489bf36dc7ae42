// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cloudkms seals local key material with Cloud KMS.
package cloudkms

import (
	"context"
	"fmt"
	"hash/crc32"
	"strings"
	"sync"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/zaturn/zaturn-go/client/errs"
)

// URIPrefix marks a key URI as a Cloud KMS key name.
const URIPrefix = "gcp-kms://"

// Client defines an interface compatible with Cloud KMS client.
type Client interface {
	Encrypt(context.Context, *kmspb.EncryptRequest, ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(context.Context, *kmspb.DecryptRequest, ...gax.CallOption) (*kmspb.DecryptResponse, error)
	Close() error
}

// KeyName strips URIPrefix from a key URI.
func KeyName(uri string) (string, error) {
	if !strings.HasPrefix(uri, URIPrefix) || len(uri) == len(URIPrefix) {
		return "", errs.Errorf(errs.Configuration, errs.Keystore, "%q is not a %s key URI", uri, URIPrefix)
	}
	return strings.TrimPrefix(uri, URIPrefix), nil
}

func crc32c(data []byte) uint32 {
	t := crc32.MakeTable(crc32.Castagnoli)
	return crc32.Checksum(data, t)
}

// WrapOpts holds the inputs of WrapKey.
type WrapOpts struct {
	Plaintext []byte
	KeyName   string
	RPCOpts   []gax.CallOption
}

// WrapKey encrypts opts.Plaintext with the named Cloud KMS key, verifying
// CRC32C checksums in both directions.
func WrapKey(ctx context.Context, client Client, opts WrapOpts) ([]byte, error) {
	if client == nil {
		return nil, errs.E(errs.Configuration, errs.Keystore, "nil client specified")
	}
	req := &kmspb.EncryptRequest{
		Name:            opts.KeyName,
		Plaintext:       opts.Plaintext,
		PlaintextCrc32C: wrapperspb.Int64(int64(crc32c(opts.Plaintext))),
	}

	result, err := client.Encrypt(ctx, req, opts.RPCOpts...)
	if err != nil {
		return nil, errs.E(errs.Transport, errs.Keystore, fmt.Errorf("failed to encrypt: %w", err))
	}

	if !result.GetVerifiedPlaintextCrc32C() {
		return nil, errs.E(errs.Crypto, errs.Keystore, "Encrypt: request corrupted in-transit")
	}
	if int64(crc32c(result.GetCiphertext())) != result.GetCiphertextCrc32C().GetValue() {
		return nil, errs.E(errs.Crypto, errs.Keystore, "Encrypt: response corrupted in-transit")
	}
	return result.GetCiphertext(), nil
}

// UnwrapOpts holds the inputs of UnwrapKey.
type UnwrapOpts struct {
	Ciphertext []byte
	KeyName    string
	RPCOpts    []gax.CallOption
}

// UnwrapKey decrypts a ciphertext produced by WrapKey.
func UnwrapKey(ctx context.Context, client Client, opts UnwrapOpts) ([]byte, error) {
	if client == nil {
		return nil, errs.E(errs.Configuration, errs.Keystore, "nil client specified")
	}
	req := &kmspb.DecryptRequest{
		Name:             opts.KeyName,
		Ciphertext:       opts.Ciphertext,
		CiphertextCrc32C: wrapperspb.Int64(int64(crc32c(opts.Ciphertext))),
	}

	result, err := client.Decrypt(ctx, req, opts.RPCOpts...)
	if err != nil {
		return nil, errs.E(errs.Transport, errs.Keystore, fmt.Errorf("failed to decrypt ciphertext: %w", err))
	}

	if int64(crc32c(result.GetPlaintext())) != result.GetPlaintextCrc32C().GetValue() {
		return nil, errs.E(errs.Crypto, errs.Keystore, "Decrypt: response corrupted in-transit")
	}
	return result.GetPlaintext(), nil
}

// ClientFactory caches KMS clients by JSON credentials.
type ClientFactory struct {
	Version string

	mu           sync.Mutex
	clients      map[string]Client
	newKMSClient func(context.Context, ...option.ClientOption) (*kms.KeyManagementClient, error)
}

// NewClientFactory returns a factory whose clients report version in their user agent.
func NewClientFactory(version string) *ClientFactory {
	return &ClientFactory{
		Version:      version,
		clients:      make(map[string]Client),
		newKMSClient: kms.NewKeyManagementClient,
	}
}

func (m *ClientFactory) createClient(ctx context.Context, credentials string) (Client, error) {
	// Set user agent for Cloud KMS API calls.
	ua := "ZATURN/"
	if m.Version != "" {
		ua += m.Version
	} else {
		ua += "dev"
	}

	opts := []option.ClientOption{option.WithUserAgent(ua)}

	// If credentials were specified, include them in the options.
	if len(credentials) != 0 {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentials)))
	}

	return m.newKMSClient(ctx, opts...)
}

// Client returns a KMS Client initialized with the provided credentials,
// reusing an earlier one for the same credentials.
func (m *ClientFactory) Client(ctx context.Context, credentials string) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clients == nil {
		m.clients = make(map[string]Client)
	}
	client, ok := m.clients[credentials]
	if !ok {
		var err error
		client, err = m.createClient(ctx, credentials)
		if err != nil {
			return nil, errs.E(errs.Configuration, errs.Keystore, fmt.Errorf("error creating new KMS client: %w", err))
		}
		m.clients[credentials] = client
	}
	return client, nil
}

// Close closes every cached client.
func (m *ClientFactory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for creds, client := range m.clients {
		if err := client.Close(); err != nil {
			return err
		}
		delete(m.clients, creds)
	}
	return nil
}
