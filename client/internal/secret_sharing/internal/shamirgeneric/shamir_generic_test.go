// Copyright 2022 Google LLC
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

package shamirgeneric_test

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/zaturn/zaturn-go/client/internal/secret_sharing/finitefield"
	"github.com/zaturn/zaturn-go/client/internal/secret_sharing/internal/field/gf8"
	"github.com/zaturn/zaturn-go/client/internal/secret_sharing/internal/shamirgeneric"
	"github.com/zaturn/zaturn-go/client/internal/secret_sharing/secrets"
)

func getRandomBytes(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		t.Fatalf("Failed to read random bytes: %v", err)
	}
	return b
}

func createMetadata(threshold, numShares int) secrets.Metadata {
	return secrets.Metadata{
		Field:     finitefield.GF8,
		NumShares: numShares,
		Threshold: threshold,
	}
}

func TestSplitReconstructWorks(t *testing.T) {
	secret := []byte("abcdefghijklmnopqrstuvwxyz123456")
	split, err := shamirgeneric.SplitSecret(createMetadata(4, 6), secret, gf8.New())
	if err != nil {
		t.Fatalf("shamirgeneric.SplitSecret() err = %v, want nil", err)
	}
	recon, err := shamirgeneric.Reconstruct(split, gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := recon, secret; !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", hex.EncodeToString(got), hex.EncodeToString(want))
	}
}

func TestSplitReconstructMaximumShares(t *testing.T) {
	secret := getRandomBytes(t, 127)
	split, err := shamirgeneric.SplitSecret(createMetadata(200, shamirgeneric.MaxShares), secret, gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	split.Shares = split.Shares[55:]
	recon, err := shamirgeneric.Reconstruct(split, gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := recon, secret; !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", hex.EncodeToString(got), hex.EncodeToString(want))
	}
}

func TestSplitAssignsOneIndexedX(t *testing.T) {
	split, err := shamirgeneric.SplitSecret(createMetadata(2, 5), []byte("secret"), gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range split.Shares {
		if s.X != i+1 {
			t.Errorf("Shares[%d].X = %d, want %d", i, s.X, i+1)
		}
		if len(s.Value) != len("secret") {
			t.Errorf("len(Shares[%d].Value) = %d, want %d", i, len(s.Value), len("secret"))
		}
	}
}

func TestThresholdOneSharesEqualSecret(t *testing.T) {
	secret := []byte("abcdefghijklmnopqrstuvwxyz123456")
	split, err := shamirgeneric.SplitSecret(createMetadata(1, 3), secret, gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range split.Shares {
		if !bytes.Equal(s.Value, secret) {
			t.Errorf("Shares[%d].Value = %x, want %x", i, s.Value, secret)
		}
	}
}

func TestSingleShareIsSecret(t *testing.T) {
	secret := []byte("abcdefghijklmnopqrstuvwxyz123456")
	split, err := shamirgeneric.SplitSecret(createMetadata(1, 1), secret, gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	if len(split.Shares) != 1 {
		t.Fatalf("len(Shares) = %d, want 1", len(split.Shares))
	}
	if !bytes.Equal(split.Shares[0].Value, secret) {
		t.Errorf("Shares[0].Value = %x, want %x", split.Shares[0].Value, secret)
	}
	recon, err := shamirgeneric.Reconstruct(split, gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recon, secret) {
		t.Errorf("got %x, want %x", recon, secret)
	}
}

func removeAtIndex(s []secrets.Share, index int) []secrets.Share {
	return append(s[:index], s[index+1:]...)
}

func swap(s []secrets.Share, i int, j int) {
	s[i], s[j] = s[j], s[i]
}

func TestReconstructWithoutAllShares(t *testing.T) {
	secret := []byte("abcdefghijklmnopqrstuvwxyz123456")
	split, err := shamirgeneric.SplitSecret(createMetadata(4, 6), secret, gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	split.Shares = removeAtIndex(split.Shares, 5)
	split.Shares = removeAtIndex(split.Shares, 0)
	recon, err := shamirgeneric.Reconstruct(split, gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := recon, secret; !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", hex.EncodeToString(got), hex.EncodeToString(want))
	}
	// swapping the order shouldn't matter.
	swap(split.Shares, 0, 2)
	recon, err = shamirgeneric.Reconstruct(split, gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := recon, secret; !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", hex.EncodeToString(got), hex.EncodeToString(want))
	}
}

func TestReconstructWithAlteredValueFails(t *testing.T) {
	secret := getRandomBytes(t, 32)
	split, err := shamirgeneric.SplitSecret(createMetadata(2, 3), secret, gf8.New())
	if err != nil {
		t.Fatalf("shamirgeneric.SplitSecret() err = %v, want nil", err)
	}
	split.Shares = split.Shares[:2]
	split.Shares[0].Value = getRandomBytes(t, len(split.Shares[0].Value))
	recon, err := shamirgeneric.Reconstruct(split, gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := recon, secret; bytes.Equal(got, want) {
		t.Errorf("reconstructing altered value should fail")
	}
}

func TestReconstructWithFewerSharesThanThresholdReturnsWrongBytes(t *testing.T) {
	secret := []byte("abcdefghijklmnopqrstuvwxyz123456")
	splitSecret, err := shamirgeneric.SplitSecret(createMetadata(4, 6), secret, gf8.New())
	if err != nil {
		t.Fatal(err)
	}
	splitSecret.Shares = splitSecret.Shares[:3]
	recon, err := shamirgeneric.Reconstruct(splitSecret, gf8.New())
	if err != nil {
		t.Fatalf("Reconstruct() err = %v, want nil", err)
	}
	if bytes.Equal(recon, secret) {
		t.Errorf("Reconstruct() with 3 of threshold 4 shares recovered the secret")
	}
}

func TestReconstructRejectsInvalidShares(t *testing.T) {
	for _, tc := range []struct {
		name   string
		shares []secrets.Share
	}{
		{
			name: "no shares",
		},
		{
			name:   "zero X",
			shares: []secrets.Share{{Value: []byte{1}, X: 0}, {Value: []byte{2}, X: 1}},
		},
		{
			name:   "X out of field",
			shares: []secrets.Share{{Value: []byte{1}, X: 256}, {Value: []byte{2}, X: 1}},
		},
		{
			name:   "empty value",
			shares: []secrets.Share{{Value: []byte{}, X: 1}, {Value: []byte{2}, X: 2}},
		},
		{
			name:   "different lengths",
			shares: []secrets.Share{{Value: []byte{1, 2}, X: 1}, {Value: []byte{2}, X: 2}},
		},
		{
			name:   "duplicate X",
			shares: []secrets.Share{{Value: []byte{1}, X: 2}, {Value: []byte{2}, X: 2}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			split := secrets.Split{Shares: tc.shares, Metadata: createMetadata(2, 2)}
			if _, err := shamirgeneric.Reconstruct(split, gf8.New()); err == nil {
				t.Errorf("Reconstruct() err = nil, want error")
			}
		})
	}
}

func TestSplitRejectsInvalidInput(t *testing.T) {
	for _, tc := range []struct {
		name     string
		secret   []byte
		metadata secrets.Metadata
	}{
		{name: "empty secret", secret: nil, metadata: createMetadata(2, 3)},
		{name: "zero shares", secret: []byte("s"), metadata: createMetadata(1, 0)},
		{name: "too many shares", secret: []byte("s"), metadata: createMetadata(2, 256)},
		{name: "zero threshold", secret: []byte("s"), metadata: createMetadata(0, 3)},
		{name: "threshold above shares", secret: []byte("s"), metadata: createMetadata(4, 3)},
		{name: "unknown field", secret: []byte("s"), metadata: secrets.Metadata{NumShares: 3, Threshold: 2}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := shamirgeneric.SplitSecret(tc.metadata, tc.secret, gf8.New()); err == nil {
				t.Errorf("SplitSecret() err = nil, want error")
			}
		})
	}
}
