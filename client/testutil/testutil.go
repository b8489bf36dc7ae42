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

// Package testutil contains utilities for unit tests.
package testutil

import (
	"context"
	"hash/crc32"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/zaturn/zaturn-go/client/errs"
	"github.com/zaturn/zaturn-go/client/node"
	"github.com/zaturn/zaturn-go/client/sessioncrypto"
)

var (
	gcpKMSPrefix = "gcp-kms://"

	// TestKEKName is a test key name for a KEK.
	TestKEKName = "projects/test/locations/test/keyRings/test/cryptoKeys/test"
	// TestKEKURI is a test KEK URI corresponding to TestKEKName.
	TestKEKURI = gcpKMSPrefix + TestKEKName
)

// FakeNode is an in-memory node.Node with failure injection.
type FakeNode struct {
	NodeID string
	Keys   *sessioncrypto.KeyPair

	// Errors returned by the corresponding calls when set.
	PublicKeyErr error
	StoreErr     error
	CheckErr     error
	RetrieveErr  error
	// CorruptRetrieve flips a bit of every retrieved part.
	CorruptRetrieve bool

	PublicKeyCalls atomic.Int32
	StoreCalls     atomic.Int32

	mu     sync.Mutex
	parts  map[string][]byte
	tokens map[string]string
}

var _ node.Node = (*FakeNode)(nil)

// NewFakeNode returns a FakeNode with a fresh key pair.
func NewFakeNode(id string) *FakeNode {
	keys, err := sessioncrypto.NewKeyPair()
	if err != nil {
		panic(err)
	}
	return &FakeNode{
		NodeID: id,
		Keys:   keys,
		parts:  make(map[string][]byte),
		tokens: make(map[string]string),
	}
}

// ID returns NodeID.
func (f *FakeNode) ID() string { return f.NodeID }

// PublicKey returns the node's public key or PublicKeyErr.
func (f *FakeNode) PublicKey(ctx context.Context) ([]byte, error) {
	f.PublicKeyCalls.Add(1)
	if f.PublicKeyErr != nil {
		return nil, f.PublicKeyErr
	}
	return append([]byte(nil), f.Keys.Public[:]...), nil
}

// StorePart records data or returns StoreErr.
func (f *FakeNode) StorePart(ctx context.Context, token, id string, slot int, data []byte) error {
	f.StoreCalls.Add(1)
	if f.StoreErr != nil {
		return f.StoreErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := node.StorageKey(id, slot)
	f.parts[key] = append([]byte(nil), data...)
	f.tokens[key] = token
	return nil
}

// CheckPart reports whether a part was stored.
func (f *FakeNode) CheckPart(ctx context.Context, token, id string, slot int) (bool, error) {
	if f.CheckErr != nil {
		return false, f.CheckErr
	}
	_, ok := f.Part(id, slot)
	return ok, nil
}

// RetrievePart returns a stored part, errs.NotFound, or RetrieveErr.
func (f *FakeNode) RetrievePart(ctx context.Context, token, id string, slot int) ([]byte, error) {
	if f.RetrieveErr != nil {
		return nil, f.RetrieveErr
	}
	data, ok := f.Part(id, slot)
	if !ok {
		return nil, errs.E(errs.NotFound, errs.Node, errs.At(f.NodeID, slot))
	}
	if f.CorruptRetrieve {
		data[len(data)-1] ^= 0x01
	}
	return data, nil
}

// Part returns a copy of the stored ciphertext of a slot.
func (f *FakeNode) Part(id string, slot int) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.parts[node.StorageKey(id, slot)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Token returns the token a slot was stored with.
func (f *FakeNode) Token(id string, slot int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[node.StorageKey(id, slot)]
}

// Delete removes a stored slot.
func (f *FakeNode) Delete(id string, slot int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.parts, node.StorageKey(id, slot))
}

// NumParts returns the number of stored slots.
func (f *FakeNode) NumParts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.parts)
}

// FakeNodes returns n fake nodes with ids "node-0", "node-1", ...
func FakeNodes(n int) []*FakeNode {
	out := make([]*FakeNode, n)
	for i := range out {
		out[i] = NewFakeNode("node-" + strconv.Itoa(i))
	}
	return out
}

// AsNodes converts fakes to the node.Node interface.
func AsNodes(fakes []*FakeNode) []node.Node {
	out := make([]node.Node, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

func crc32c(data []byte) uint32 {
	t := crc32.MakeTable(crc32.Castagnoli)
	return crc32.Checksum(data, t)
}

// FakeKeyManagementClient is a fake version of Cloud KMS Key Management client.
type FakeKeyManagementClient struct {
	kms.KeyManagementClient

	EncryptFunc func(context.Context, *kmspb.EncryptRequest, ...gax.CallOption) (*kmspb.EncryptResponse, error)
	DecryptFunc func(context.Context, *kmspb.DecryptRequest, ...gax.CallOption) (*kmspb.DecryptResponse, error)
}

// FakeKMSWrap returns a fake wrapped key: the plaintext reversed, followed by the
// last path element of the key name.
func FakeKMSWrap(unwrapped []byte, name string) []byte {
	out := make([]byte, 0, len(unwrapped)+len(name))
	for i := len(unwrapped) - 1; i >= 0; i-- {
		out = append(out, unwrapped[i])
	}
	return append(out, name[strings.LastIndexByte(name, '/')+1:]...)
}

// FakeKMSUnwrap reverses FakeKMSWrap, returning nonsense for a wrong key name.
func FakeKMSUnwrap(wrapped []byte, name string) []byte {
	suffix := name[strings.LastIndexByte(name, '/')+1:]
	if !strings.HasSuffix(string(wrapped), suffix) {
		return []byte("nonsenseee")
	}
	body := wrapped[:len(wrapped)-len(suffix)]
	out := make([]byte, 0, len(body))
	for i := len(body) - 1; i >= 0; i-- {
		out = append(out, body[i])
	}
	return out
}

// ValidEncryptResponse returns a fake successful response for CloudKMS Encrypt.
func ValidEncryptResponse(req *kmspb.EncryptRequest) *kmspb.EncryptResponse {
	wrapped := FakeKMSWrap(req.GetPlaintext(), req.GetName())

	return &kmspb.EncryptResponse{
		Name:                    req.GetName(),
		Ciphertext:              wrapped,
		CiphertextCrc32C:        wrapperspb.Int64(int64(crc32c(wrapped))),
		VerifiedPlaintextCrc32C: true,
	}
}

// Encrypt calls EncryptFunc if applicable. Otherwise returns a fake Encrypt response.
func (f *FakeKeyManagementClient) Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error) {
	if f.EncryptFunc != nil {
		return f.EncryptFunc(ctx, req, opts...)
	}

	return ValidEncryptResponse(req), nil
}

// ValidDecryptResponse returns a fake successful response for CloudKMS Decrypt.
func ValidDecryptResponse(req *kmspb.DecryptRequest) *kmspb.DecryptResponse {
	unwrapped := FakeKMSUnwrap(req.GetCiphertext(), req.GetName())

	return &kmspb.DecryptResponse{
		Plaintext:       unwrapped,
		PlaintextCrc32C: wrapperspb.Int64(int64(crc32c(unwrapped))),
	}
}

// Decrypt calls DecryptFunc if applicable. Otherwise returns a fake Decrypt response.
func (f *FakeKeyManagementClient) Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error) {
	if f.DecryptFunc != nil {
		return f.DecryptFunc(ctx, req, opts...)
	}

	return ValidDecryptResponse(req), nil
}

// Close is a no-op. Needed to implement the KMS Client interface.
func (f *FakeKeyManagementClient) Close() error {
	return nil
}
