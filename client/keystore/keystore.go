// Copyright 2024 Google LLC
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

// Package keystore persists the local key pair so that a recovery started by
// one process can be completed by another. The private key is optionally
// sealed with a Cloud KMS key.
package keystore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	glog "github.com/golang/glog"
	"sigs.k8s.io/yaml"

	"github.com/zaturn/zaturn-go/client/cloudkms"
	"github.com/zaturn/zaturn-go/client/errs"
	"github.com/zaturn/zaturn-go/client/sessioncrypto"
)

const fileVersion = 1

// Sealer protects the private key at rest.
type Sealer interface {
	// URI identifies the sealing key; it is recorded in the key file.
	URI() string
	Seal(ctx context.Context, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KMSSealer seals with a Cloud KMS symmetric key.
type KMSSealer struct {
	Client  cloudkms.Client
	KeyName string
}

// NewKMSSealer returns a sealer for a "gcp-kms://" key URI, obtaining the KMS
// client from factory.
func NewKMSSealer(ctx context.Context, factory *cloudkms.ClientFactory, kekURI, credentials string) (*KMSSealer, error) {
	name, err := cloudkms.KeyName(kekURI)
	if err != nil {
		return nil, err
	}
	client, err := factory.Client(ctx, credentials)
	if err != nil {
		return nil, err
	}
	return &KMSSealer{Client: client, KeyName: name}, nil
}

// URI returns the key URI.
func (s *KMSSealer) URI() string { return cloudkms.URIPrefix + s.KeyName }

// Seal wraps plaintext with the KMS key.
func (s *KMSSealer) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	return cloudkms.WrapKey(ctx, s.Client, cloudkms.WrapOpts{Plaintext: plaintext, KeyName: s.KeyName})
}

// Open unwraps ciphertext with the KMS key.
func (s *KMSSealer) Open(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return cloudkms.UnwrapKey(ctx, s.Client, cloudkms.UnwrapOpts{Ciphertext: ciphertext, KeyName: s.KeyName})
}

type keyFile struct {
	Version       int    `json:"version"`
	PublicKey     []byte `json:"publicKey"`
	PrivateKey    []byte `json:"privateKey,omitempty"`
	SealedPrivate []byte `json:"sealedPrivateKey,omitempty"`
	KEKURI        string `json:"kekUri,omitempty"`
}

// Save writes kp to path with mode 0600, replacing any existing file. When
// sealer is non-nil only the sealed private key is written.
func Save(ctx context.Context, path string, kp *sessioncrypto.KeyPair, sealer Sealer) error {
	if kp == nil {
		return errs.E(errs.Configuration, errs.Keystore, "no key pair to save")
	}
	f := keyFile{Version: fileVersion, PublicKey: kp.Public[:]}
	if sealer != nil {
		sealed, err := sealer.Seal(ctx, kp.Private[:])
		if err != nil {
			return fmt.Errorf("sealing private key: %w", err)
		}
		f.SealedPrivate = sealed
		f.KEKURI = sealer.URI()
	} else {
		f.PrivateKey = kp.Private[:]
	}
	out, err := yaml.Marshal(f)
	if err != nil {
		return errs.E(errs.Keystore, fmt.Errorf("marshaling key file: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".zaturn-key-*")
	if err != nil {
		return errs.E(errs.Keystore, err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return errs.E(errs.Keystore, err)
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return errs.E(errs.Keystore, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.E(errs.Keystore, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errs.E(errs.Keystore, err)
	}
	glog.Infof("Saved key pair to %s", path)
	return nil
}

// Load reads a key pair written by Save. sealer must be non-nil if the file
// holds a sealed private key.
func Load(ctx context.Context, path string, sealer Sealer) (*sessioncrypto.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.E(errs.NotFound, errs.Keystore, err)
		}
		return nil, errs.E(errs.Keystore, err)
	}
	var f keyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errs.E(errs.Configuration, errs.Keystore, fmt.Errorf("parsing key file %s: %w", path, err))
	}
	if f.Version != fileVersion {
		return nil, errs.Errorf(errs.Configuration, errs.Keystore, "unsupported key file version %d", f.Version)
	}

	private := f.PrivateKey
	if len(f.SealedPrivate) > 0 {
		if sealer == nil {
			return nil, errs.Errorf(errs.Configuration, errs.Keystore, "key file %s is sealed with %s; no KEK configured", path, f.KEKURI)
		}
		if private, err = sealer.Open(ctx, f.SealedPrivate); err != nil {
			return nil, fmt.Errorf("unsealing private key: %w", err)
		}
	}
	return sessioncrypto.NewKeyPairFromBytes(f.PublicKey, private)
}
