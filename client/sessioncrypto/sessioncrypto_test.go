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

package sessioncrypto

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zaturn/zaturn-go/client/errs"
)

func mustKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair() err = %v, want nil", err)
	}
	return kp
}

func TestSessionKeyIsSymmetric(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)

	ab, err := DeriveSessionKey(a.Private[:], b.Public[:])
	if err != nil {
		t.Fatalf("DeriveSessionKey(a, b) err = %v, want nil", err)
	}
	ba, err := DeriveSessionKey(b.Private[:], a.Public[:])
	if err != nil {
		t.Fatalf("DeriveSessionKey(b, a) err = %v, want nil", err)
	}
	if diff := cmp.Diff(ab, ba); diff != "" {
		t.Fatalf("session keys differ (-ab +ba):\n%s", diff)
	}

	msg := []byte("shard payload")
	ct, err := Encrypt(msg, ab)
	if err != nil {
		t.Fatalf("Encrypt() err = %v, want nil", err)
	}
	pt, err := Decrypt(ct, ba)
	if err != nil {
		t.Fatalf("Decrypt() err = %v, want nil", err)
	}
	if !bytes.Equal(pt, msg) {
		t.Errorf("Decrypt() = %q, want %q", pt, msg)
	}
}

func TestSessionKeyIsDeterministic(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)
	k1, err := DeriveSessionKey(a.Private[:], b.Public[:])
	if err != nil {
		t.Fatalf("DeriveSessionKey() err = %v, want nil", err)
	}
	k2, err := DeriveSessionKey(a.Private[:], b.Public[:])
	if err != nil {
		t.Fatalf("DeriveSessionKey() err = %v, want nil", err)
	}
	if k1 != k2 {
		t.Errorf("DeriveSessionKey() is not deterministic")
	}
}

func TestKeyPairFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x01}, SeedSize)
	a, err := KeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("KeyPairFromSeed() err = %v, want nil", err)
	}
	b, err := KeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("KeyPairFromSeed() err = %v, want nil", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("KeyPairFromSeed() not deterministic (-first +second):\n%s", diff)
	}
	if _, err := NewKeyPairFromBytes(a.Public[:], a.Private[:]); err != nil {
		t.Errorf("NewKeyPairFromBytes(seeded pair) err = %v, want nil", err)
	}
	if _, err := KeyPairFromSeed(seed[1:]); errs.KindOf(err) != errs.Crypto {
		t.Errorf("KeyPairFromSeed(short) err = %v, want kind %v", err, errs.Crypto)
	}
}

func TestNewKeyPairFromBytesRejectsMismatch(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)
	if _, err := NewKeyPairFromBytes(a.Public[:], b.Private[:]); errs.KindOf(err) != errs.Crypto {
		t.Errorf("NewKeyPairFromBytes(mismatched) err = %v, want kind %v", err, errs.Crypto)
	}
	if _, err := NewKeyPairFromBytes(a.Public[:4], a.Private[:]); errs.KindOf(err) != errs.Crypto {
		t.Errorf("NewKeyPairFromBytes(short) err = %v, want kind %v", err, errs.Crypto)
	}
}

func TestEncryptLayout(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)
	key, err := DeriveSessionKey(a.Private[:], b.Public[:])
	if err != nil {
		t.Fatalf("DeriveSessionKey() err = %v, want nil", err)
	}
	msg := make([]byte, 37)
	c1, err := Encrypt(msg, key)
	if err != nil {
		t.Fatalf("Encrypt() err = %v, want nil", err)
	}
	c2, err := Encrypt(msg, key)
	if err != nil {
		t.Fatalf("Encrypt() err = %v, want nil", err)
	}
	if got, want := len(c1), NonceSize+len(msg)+Overhead; got != want {
		t.Errorf("len(Encrypt()) = %d, want %d", got, want)
	}
	if bytes.Equal(c1[:NonceSize], c2[:NonceSize]) {
		t.Errorf("Encrypt() reused a nonce")
	}
}

func TestDecryptFailures(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)
	c := mustKeyPair(t)
	key, err := DeriveSessionKey(a.Private[:], b.Public[:])
	if err != nil {
		t.Fatalf("DeriveSessionKey() err = %v, want nil", err)
	}
	wrong, err := DeriveSessionKey(a.Private[:], c.Public[:])
	if err != nil {
		t.Fatalf("DeriveSessionKey() err = %v, want nil", err)
	}
	ct, err := Encrypt([]byte("payload"), key)
	if err != nil {
		t.Fatalf("Encrypt() err = %v, want nil", err)
	}
	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0x80
	badNonce := append([]byte(nil), ct...)
	badNonce[0] ^= 0x01

	testCases := []struct {
		name string
		msg  []byte
		key  SessionKey
	}{
		{name: "tampered ciphertext", msg: tampered, key: key},
		{name: "tampered nonce", msg: badNonce, key: key},
		{name: "wrong key", msg: ct, key: wrong},
		{name: "truncated", msg: ct[:NonceSize+Overhead-1], key: key},
		{name: "empty", msg: nil, key: key},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decrypt(tc.msg, tc.key); errs.KindOf(err) != errs.Crypto {
				t.Errorf("Decrypt() err = %v, want kind %v", err, errs.Crypto)
			}
		})
	}
}

func TestDeriveSessionKeyRejectsBadKeys(t *testing.T) {
	a := mustKeyPair(t)
	testCases := []struct {
		name       string
		private    []byte
		peerPublic []byte
	}{
		{name: "short private", private: a.Private[:31], peerPublic: a.Public[:]},
		{name: "long public", private: a.Private[:], peerPublic: make([]byte, 33)},
		{name: "low order public", private: a.Private[:], peerPublic: make([]byte, KeySize)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DeriveSessionKey(tc.private, tc.peerPublic); errs.KindOf(err) != errs.Crypto {
				t.Errorf("DeriveSessionKey() err = %v, want kind %v", err, errs.Crypto)
			}
		})
	}
}
