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

package keystore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/google/go-cmp/cmp"
	"github.com/googleapis/gax-go/v2"

	"github.com/zaturn/zaturn-go/client/errs"
	"github.com/zaturn/zaturn-go/client/sessioncrypto"
	"github.com/zaturn/zaturn-go/client/testutil"
)

func newKeyPair(t *testing.T) *sessioncrypto.KeyPair {
	t.Helper()
	kp, err := sessioncrypto.NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair() err = %v, want nil", err)
	}
	return kp
}

func TestSaveLoadRoundTrip(t *testing.T) {
	testCases := []struct {
		name   string
		sealer Sealer
	}{
		{name: "plain"},
		{name: "kms sealed", sealer: &KMSSealer{Client: &testutil.FakeKeyManagementClient{}, KeyName: testutil.TestKEKName}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "key.yaml")
			want := newKeyPair(t)

			if err := Save(ctx, path, want, tc.sealer); err != nil {
				t.Fatalf("Save() err = %v, want nil", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("os.Stat() err = %v", err)
			}
			if mode := info.Mode().Perm(); mode != 0600 {
				t.Errorf("key file mode = %o, want 600", mode)
			}

			got, err := Load(ctx, path, tc.sealer)
			if err != nil {
				t.Fatalf("Load() err = %v, want nil", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Load() returned diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSealedFileOmitsPrivateKey(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "key.yaml")
	sealer := &KMSSealer{Client: &testutil.FakeKeyManagementClient{}, KeyName: testutil.TestKEKName}
	if err := Save(ctx, path, newKeyPair(t), sealer); err != nil {
		t.Fatalf("Save() err = %v, want nil", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile() err = %v", err)
	}
	if strings.Contains(string(data), "privateKey:") {
		t.Errorf("sealed key file contains a plaintext private key:\n%s", data)
	}
	if !strings.Contains(string(data), testutil.TestKEKURI) {
		t.Errorf("sealed key file does not record the KEK URI:\n%s", data)
	}
	if _, err := Load(ctx, path, nil); errs.KindOf(err) != errs.Configuration {
		t.Errorf("Load(no sealer) err = %v, want kind %v", err, errs.Configuration)
	}
}

func TestLoadFailures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatalf("os.WriteFile() err = %v", err)
		}
		return p
	}
	a, b := newKeyPair(t), newKeyPair(t)
	mismatched := filepath.Join(dir, "mismatched.yaml")
	if err := Save(ctx, mismatched, &sessioncrypto.KeyPair{Public: a.Public, Private: b.Private}, nil); err != nil {
		t.Fatalf("Save() err = %v, want nil", err)
	}

	testCases := []struct {
		name     string
		path     string
		wantKind errs.Kind
	}{
		{name: "missing", path: filepath.Join(dir, "absent.yaml"), wantKind: errs.NotFound},
		{name: "garbage", path: write("garbage.yaml", "{{{"), wantKind: errs.Configuration},
		{name: "wrong version", path: write("v2.yaml", "version: 2\n"), wantKind: errs.Configuration},
		{name: "mismatched keys", path: mismatched, wantKind: errs.Crypto},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(ctx, tc.path, nil); errs.KindOf(err) != tc.wantKind {
				t.Errorf("Load() err = %v, want kind %v", err, tc.wantKind)
			}
		})
	}
}

func TestLoadWithFailingKMS(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "key.yaml")
	good := &KMSSealer{Client: &testutil.FakeKeyManagementClient{}, KeyName: testutil.TestKEKName}
	if err := Save(ctx, path, newKeyPair(t), good); err != nil {
		t.Fatalf("Save() err = %v, want nil", err)
	}
	bad := &KMSSealer{
		Client: &testutil.FakeKeyManagementClient{
			DecryptFunc: func(context.Context, *kmspb.DecryptRequest, ...gax.CallOption) (*kmspb.DecryptResponse, error) {
				return nil, context.DeadlineExceeded
			},
		},
		KeyName: testutil.TestKEKName,
	}
	if _, err := Load(ctx, path, bad); errs.KindOf(err) != errs.Transport {
		t.Errorf("Load() err = %v, want kind %v", err, errs.Transport)
	}
}
