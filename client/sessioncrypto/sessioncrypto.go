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

// Package sessioncrypto derives per-node session keys by X25519 key agreement
// and seals shard payloads with XSalsa20-Poly1305. The construction matches
// libsodium's crypto_box_beforenm / crypto_box_easy_afternm, so nodes built on
// libsodium interoperate.
package sessioncrypto

import (
	"bytes"
	"crypto/sha512"
	"fmt"
	"io"

	"github.com/google/tink/go/subtle/random"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/zaturn/zaturn-go/client/errs"
)

const (
	// KeySize is the size of public, private and session keys.
	KeySize = 32
	// SeedSize is the size of the seed accepted by KeyPairFromSeed.
	SeedSize = 32
	// NonceSize is the size of the nonce prepended to every ciphertext.
	NonceSize = 24
	// Overhead is the size of the authentication tag.
	Overhead = box.Overhead
)

// KeyPair is the local X25519 identity.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// SessionKey is a symmetric key shared with one node.
type SessionKey [KeySize]byte

// NewKeyPair generates a key pair from crypto/rand.
func NewKeyPair() (*KeyPair, error) {
	return newKeyPair(nil)
}

// KeyPairFromSeed derives a key pair deterministically from a 32-byte seed,
// as crypto_box_seed_keypair does: the private key is the first half of
// SHA-512(seed).
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != SeedSize {
		return nil, errs.Errorf(errs.Crypto, errs.CryptoLayer, "seed length %d, want %d", len(seed), SeedSize)
	}
	digest := sha512.Sum512(seed)
	return newKeyPair(bytes.NewReader(digest[:KeySize]))
}

func newKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = bytes.NewReader(random.GetRandomBytes(KeySize))
	}
	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return nil, errs.E(errs.Crypto, errs.CryptoLayer, fmt.Errorf("generating key pair: %w", err))
	}
	return &KeyPair{Public: *pub, Private: *priv}, nil
}

// NewKeyPairFromBytes validates and copies raw key material.
func NewKeyPairFromBytes(public, private []byte) (*KeyPair, error) {
	if len(public) != KeySize || len(private) != KeySize {
		return nil, errs.Errorf(errs.Crypto, errs.CryptoLayer, "key lengths %d/%d, want %d", len(public), len(private), KeySize)
	}
	kp := &KeyPair{}
	copy(kp.Public[:], public)
	copy(kp.Private[:], private)
	derived, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, errs.E(errs.Crypto, errs.CryptoLayer, err)
	}
	if !bytes.Equal(derived, kp.Public[:]) {
		return nil, errs.E(errs.Crypto, errs.CryptoLayer, "public key does not match private key")
	}
	return kp, nil
}

// DeriveSessionKey computes the key shared between ownPrivate and peerPublic:
// X25519 followed by HSalsa20. The result is the same on both sides.
func DeriveSessionKey(ownPrivate, peerPublic []byte) (SessionKey, error) {
	if len(ownPrivate) != KeySize {
		return SessionKey{}, errs.Errorf(errs.Crypto, errs.CryptoLayer, "private key length %d, want %d", len(ownPrivate), KeySize)
	}
	if len(peerPublic) != KeySize {
		return SessionKey{}, errs.Errorf(errs.Crypto, errs.CryptoLayer, "public key length %d, want %d", len(peerPublic), KeySize)
	}
	// Reject low-order peer points, which would give an all-zero shared secret.
	if _, err := curve25519.X25519(ownPrivate, peerPublic); err != nil {
		return SessionKey{}, errs.E(errs.Crypto, errs.CryptoLayer, err)
	}
	var priv, pub [KeySize]byte
	copy(priv[:], ownPrivate)
	copy(pub[:], peerPublic)
	var key SessionKey
	box.Precompute((*[KeySize]byte)(&key), &pub, &priv)
	return key, nil
}

// Encrypt seals message under key and returns nonce || ciphertext.
func Encrypt(message []byte, key SessionKey) ([]byte, error) {
	var nonce [NonceSize]byte
	copy(nonce[:], random.GetRandomBytes(NonceSize))
	out := make([]byte, NonceSize, NonceSize+len(message)+Overhead)
	copy(out, nonce[:])
	return box.SealAfterPrecomputation(out, message, &nonce, (*[KeySize]byte)(&key)), nil
}

// Decrypt opens a message produced by Encrypt. Tampering, a wrong key and
// truncated input are all reported as errs.Crypto.
func Decrypt(message []byte, key SessionKey) ([]byte, error) {
	if len(message) < NonceSize+Overhead {
		return nil, errs.Errorf(errs.Crypto, errs.CryptoLayer, "ciphertext length %d is shorter than %d", len(message), NonceSize+Overhead)
	}
	var nonce [NonceSize]byte
	copy(nonce[:], message[:NonceSize])
	plain, ok := box.OpenAfterPrecomputation(nil, message[NonceSize:], &nonce, (*[KeySize]byte)(&key))
	if !ok {
		return nil, errs.E(errs.Crypto, errs.CryptoLayer, "message authentication failed")
	}
	return plain, nil
}
