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

package shares

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/google/tink/go/subtle/random"

	"github.com/zaturn/zaturn-go/client/errs"
)

func uniformGroups(n, members, threshold int) []GroupSpec {
	groups := make([]GroupSpec, n)
	for i := range groups {
		groups[i] = GroupSpec{MemberCount: members, MemberThreshold: threshold}
	}
	return groups
}

func TestSplitJoinRoundTrip(t *testing.T) {
	testCases := []struct {
		name           string
		secretLen      int
		groups         []GroupSpec
		groupThreshold int
	}{
		{name: "single byte single group", secretLen: 1, groups: uniformGroups(1, 1, 1), groupThreshold: 1},
		{name: "one group several members", secretLen: 32, groups: uniformGroups(1, 5, 3), groupThreshold: 1},
		{name: "three nodes default", secretLen: 32, groups: uniformGroups(3, 2, 2), groupThreshold: 2},
		{name: "mixed groups", secretLen: 64, groups: []GroupSpec{{1, 1}, {3, 2}, {5, 5}, {16, 1}}, groupThreshold: 3},
		{name: "maximum", secretLen: MaxSecretSize, groups: uniformGroups(MaxGroups, MaxMembers, 9), groupThreshold: 16},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			secret := random.GetRandomBytes(uint32(tc.secretLen))
			parts, err := Split(secret, tc.groups, tc.groupThreshold)
			if err != nil {
				t.Fatalf("Split() err = %v, want nil", err)
			}
			if len(parts) != len(tc.groups) {
				t.Fatalf("Split() returned %d groups, want %d", len(parts), len(tc.groups))
			}
			for i, p := range parts {
				if len(p) != tc.groups[i].MemberCount {
					t.Errorf("group %d has %d shards, want %d", i, len(p), tc.groups[i].MemberCount)
				}
			}
			got, err := Join(parts)
			if err != nil {
				t.Fatalf("Join() err = %v, want nil", err)
			}
			if !bytes.Equal(got, secret) {
				t.Errorf("Join() = %x, want %x", got, secret)
			}
		})
	}
}

func TestJoinWithMinimumQuorum(t *testing.T) {
	secret := random.GetRandomBytes(48)
	groups := []GroupSpec{{5, 3}, {4, 2}, {3, 3}, {2, 1}}
	parts, err := Split(secret, groups, 2)
	if err != nil {
		t.Fatalf("Split() err = %v, want nil", err)
	}
	// Groups 1 and 3, each with exactly its member threshold, taken from the end.
	quorum := [][][]byte{
		nil,
		parts[1][len(parts[1])-2:],
		nil,
		parts[3][1:],
	}
	got, err := Join(quorum)
	if err != nil {
		t.Fatalf("Join() err = %v, want nil", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("Join() = %x, want %x", got, secret)
	}
}

func TestSplitShardsShareIdentifier(t *testing.T) {
	parts, err := Split([]byte("secret"), uniformGroups(3, 3, 2), 2)
	if err != nil {
		t.Fatalf("Split() err = %v, want nil", err)
	}
	id := parts[0][0][:2]
	for i, p := range parts {
		for j, shard := range p {
			if !bytes.Equal(shard[:2], id) {
				t.Errorf("shard %d/%d identifier = %x, want %x", i, j, shard[:2], id)
			}
		}
	}
}

func TestSingleGroupSingleMemberCarriesSecret(t *testing.T) {
	secret := []byte("unchanged")
	parts, err := Split(secret, uniformGroups(1, 1, 1), 1)
	if err != nil {
		t.Fatalf("Split() err = %v, want nil", err)
	}
	if got := parts[0][0][headerSize:]; !bytes.Equal(got, secret) {
		t.Errorf("shard value = %q, want %q", got, secret)
	}
}

func TestTwoByTwoScenario(t *testing.T) {
	secret := bytes.Repeat([]byte{0xaa}, 16)
	parts, err := Split(secret, uniformGroups(2, 2, 2), 2)
	if err != nil {
		t.Fatalf("Split() err = %v, want nil", err)
	}
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		t.Fatalf("Split() shape = %d groups, want 2x2", len(parts))
	}
	for i, p := range parts {
		for j, shard := range p {
			if len(shard) != headerSize+len(secret) {
				t.Errorf("shard %d/%d length = %d, want %d", i, j, len(shard), headerSize+len(secret))
			}
			if !bytes.Equal(shard[:2], parts[0][0][:2]) {
				t.Errorf("shard %d/%d does not share the split identifier", i, j)
			}
		}
	}

	got, err := Join(parts)
	if err != nil {
		t.Fatalf("Join(all) err = %v, want nil", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("Join(all) = %x, want %x", got, secret)
	}

	oneMemberEach := [][][]byte{parts[0][:1], parts[1][1:]}
	_, err = Join(oneMemberEach)
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.ThresholdNotMet || e.Satisfied != 1 || e.Required != 2 {
		t.Errorf("Join(one member per group) err = %v, want member threshold error 1/2", err)
	}

	oneGroup := [][][]byte{parts[0], nil}
	_, err = Join(oneGroup)
	if !errors.As(err, &e) || e.Kind != errs.ThresholdNotMet || e.Satisfied != 1 || e.Required != 2 {
		t.Errorf("Join(one group) err = %v, want group threshold error 1/2", err)
	}
}

func TestJoinRejectsMixedSplits(t *testing.T) {
	secret := []byte("mixed")
	a, err := Split(secret, uniformGroups(2, 2, 2), 2)
	if err != nil {
		t.Fatalf("Split() err = %v, want nil", err)
	}
	b, err := Split(secret, uniformGroups(2, 2, 2), 2)
	if err != nil {
		t.Fatalf("Split() err = %v, want nil", err)
	}
	// Force a distinct identifier for b so the check is deterministic.
	for _, p := range b {
		for _, shard := range p {
			shard[0], shard[1] = a[0][0][0]^0xff, a[0][0][1]
		}
	}
	c, err := Split(secret, uniformGroups(3, 2, 2), 2)
	if err != nil {
		t.Fatalf("Split() err = %v, want nil", err)
	}
	for _, p := range c {
		for _, shard := range p {
			shard[0], shard[1] = a[0][0][0], a[0][0][1]
		}
	}

	testCases := []struct {
		name  string
		parts [][][]byte
	}{
		{name: "identifier", parts: [][][]byte{a[0], b[1]}},
		{name: "group count", parts: [][][]byte{a[0], c[1]}},
		{name: "duplicate group", parts: [][][]byte{a[0], a[0]}},
		{name: "mixed members", parts: [][][]byte{{a[0][0], b[0][1]}, a[1]}},
		{name: "nothing", parts: [][][]byte{nil, nil}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Join(tc.parts); errs.KindOf(err) != errs.SecretSharing {
				t.Errorf("Join() err = %v, want kind %v", err, errs.SecretSharing)
			}
		})
	}
}

func TestJoinWithCorruptedValueReturnsWrongBytes(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, 32)
	parts, err := Split(secret, uniformGroups(2, 2, 2), 2)
	if err != nil {
		t.Fatalf("Split() err = %v, want nil", err)
	}
	parts[1][0][headerSize] ^= 0x01
	got, err := Join(parts)
	if err != nil {
		t.Fatalf("Join() err = %v, want nil", err)
	}
	if bytes.Equal(got, secret) {
		t.Errorf("Join() with a corrupted value recovered the secret")
	}
}

func TestSplitRejectsInvalidInput(t *testing.T) {
	testCases := []struct {
		name           string
		secret         []byte
		groups         []GroupSpec
		groupThreshold int
	}{
		{name: "empty secret", secret: nil, groups: uniformGroups(1, 1, 1), groupThreshold: 1},
		{name: "oversized secret", secret: make([]byte, MaxSecretSize+1), groups: uniformGroups(1, 1, 1), groupThreshold: 1},
		{name: "no groups", secret: []byte{1}, groups: nil, groupThreshold: 1},
		{name: "too many groups", secret: []byte{1}, groups: uniformGroups(MaxGroups+1, 1, 1), groupThreshold: 1},
		{name: "zero group threshold", secret: []byte{1}, groups: uniformGroups(2, 1, 1), groupThreshold: 0},
		{name: "group threshold above count", secret: []byte{1}, groups: uniformGroups(2, 1, 1), groupThreshold: 3},
		{name: "zero members", secret: []byte{1}, groups: uniformGroups(2, 0, 0), groupThreshold: 1},
		{name: "too many members", secret: []byte{1}, groups: uniformGroups(2, MaxMembers+1, 1), groupThreshold: 1},
		{name: "member threshold above count", secret: []byte{1}, groups: uniformGroups(2, 2, 3), groupThreshold: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Split(tc.secret, tc.groups, tc.groupThreshold); errs.KindOf(err) != errs.SecretSharing {
				t.Errorf("Split() err = %v, want kind %v", err, errs.SecretSharing)
			}
		})
	}
}

func ExampleSplit() {
	secret := []byte("correct horse battery staple")
	parts, err := Split(secret, []GroupSpec{{2, 2}, {2, 2}, {2, 2}}, 2)
	if err != nil {
		panic(err)
	}
	recovered, err := Join([][][]byte{parts[0], nil, parts[2]})
	if err != nil {
		panic(err)
	}
	fmt.Println(string(recovered))
	// Output: correct horse battery staple
}
