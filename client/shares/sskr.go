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
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/golang/glog"
	"github.com/google/tink/go/subtle/random"

	"github.com/zaturn/zaturn-go/client/errs"
	"github.com/zaturn/zaturn-go/client/internal/secret_sharing/finitefield"
	"github.com/zaturn/zaturn-go/client/internal/secret_sharing/secrets"
	"github.com/zaturn/zaturn-go/client/internal/secret_sharing/shamir"
)

// GroupSpec holds one group's sharing parameters.
type GroupSpec struct {
	MemberCount     int
	MemberThreshold int
}

// SSKR is the two-level group/member secret sharing engine.
type SSKR struct{}

// Split calls the package-level Split.
func (SSKR) Split(secret []byte, groups []GroupSpec, groupThreshold int) ([][][]byte, error) {
	return Split(secret, groups, groupThreshold)
}

// Join calls the package-level Join.
func (SSKR) Join(parts [][][]byte) ([]byte, error) {
	return Join(parts)
}

// newIdentifier draws the 16-bit identifier shared by all shards of one split.
func newIdentifier() uint16 {
	return binary.BigEndian.Uint16(random.GetRandomBytes(2))
}

func split(value []byte, n, t int) ([]secrets.Share, error) {
	md := secrets.Metadata{
		Field:     finitefield.GF8,
		NumShares: n,
		Threshold: t,
	}
	s, err := shamir.SplitSecret(md, value)
	if err != nil {
		return nil, errs.E(errs.SecretSharing, errs.Secret, err)
	}
	return s.Shares, nil
}

func reconstruct(shares []secrets.Share) ([]byte, error) {
	sort.Slice(shares, func(i, j int) bool { return shares[i].X < shares[j].X })
	s := secrets.Split{
		Metadata: secrets.Metadata{Field: finitefield.GF8},
		Shares:   shares,
	}
	value, err := shamir.Reconstruct(s)
	if err != nil {
		return nil, errs.E(errs.SecretSharing, errs.Secret, err)
	}
	return value, nil
}

// Split splits secret into len(groups) groups, of which groupThreshold are
// needed to recover it. Group i is itself split into groups[i].MemberCount
// members, of which groups[i].MemberThreshold are needed to recover the group.
//
// The result holds one slice per group and, within it, one encoded shard per member.
func Split(secret []byte, groups []GroupSpec, groupThreshold int) ([][][]byte, error) {
	switch {
	case len(secret) == 0:
		return nil, errs.E(errs.SecretSharing, errs.Secret, "secret must not be empty")
	case len(secret) > MaxSecretSize:
		return nil, errs.Errorf(errs.SecretSharing, errs.Secret, "secret length %d exceeds %d", len(secret), MaxSecretSize)
	case len(groups) == 0 || len(groups) > MaxGroups:
		return nil, errs.Errorf(errs.SecretSharing, errs.Secret, "group count %d out of range 1..%d", len(groups), MaxGroups)
	case groupThreshold < 1 || groupThreshold > len(groups):
		return nil, errs.Errorf(errs.SecretSharing, errs.Secret, "group threshold %d out of range 1..%d", groupThreshold, len(groups))
	}
	for i, g := range groups {
		if g.MemberCount < 1 || g.MemberCount > MaxMembers {
			return nil, errs.Errorf(errs.SecretSharing, errs.Secret, "group %d: member count %d out of range 1..%d", i, g.MemberCount, MaxMembers)
		}
		if g.MemberThreshold < 1 || g.MemberThreshold > g.MemberCount {
			return nil, errs.Errorf(errs.SecretSharing, errs.Secret, "group %d: member threshold %d out of range 1..%d", i, g.MemberThreshold, g.MemberCount)
		}
	}

	groupShares, err := split(secret, len(groups), groupThreshold)
	if err != nil {
		return nil, err
	}
	id := newIdentifier()
	out := make([][][]byte, len(groups))
	for i, g := range groups {
		memberShares, err := split(groupShares[i].Value, g.MemberCount, g.MemberThreshold)
		if err != nil {
			return nil, fmt.Errorf("splitting group %d: %w", i, err)
		}
		shard := GroupShard{
			Identifier:      id,
			GroupThreshold:  groupThreshold,
			GroupCount:      len(groups),
			GroupIndex:      i,
			MemberThreshold: g.MemberThreshold,
			Members:         make([]MemberShard, len(memberShares)),
		}
		for j, m := range memberShares {
			shard.Members[j] = MemberShard{Index: m.X - 1, Value: m.Value}
		}
		if out[i], err = shard.Encode(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Join recovers a secret from the shards produced by Split. parts holds the
// available shards grouped by group; empty groups are skipped.
//
// Join checks the thresholds recorded in the shard headers and that all groups
// come from the same split, but it cannot detect corrupted share values:
// those reconstruct to wrong bytes.
func Join(parts [][][]byte) ([]byte, error) {
	var (
		first       *GroupShard
		groupShares []secrets.Share
		seen        = make(map[int]bool)
	)
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		g, err := Decode(p)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = &g
		} else {
			switch {
			case g.Identifier != first.Identifier:
				return nil, errs.Errorf(errs.SecretSharing, errs.Secret, "group %d identifier %#04x does not match %#04x", g.GroupIndex, g.Identifier, first.Identifier)
			case g.GroupThreshold != first.GroupThreshold || g.GroupCount != first.GroupCount:
				return nil, errs.Errorf(errs.SecretSharing, errs.Secret, "group %d parameters %d-of-%d do not match %d-of-%d", g.GroupIndex, g.GroupThreshold, g.GroupCount, first.GroupThreshold, first.GroupCount)
			}
		}
		if seen[g.GroupIndex] {
			return nil, errs.Errorf(errs.SecretSharing, errs.Secret, "duplicate group index %d", g.GroupIndex)
		}
		seen[g.GroupIndex] = true

		if len(g.Members) < g.MemberThreshold {
			return nil, errs.E(errs.ThresholdNotMet, errs.Secret,
				errs.Counts{Satisfied: len(g.Members), Required: g.MemberThreshold},
				fmt.Sprintf("member threshold not met for group %d", g.GroupIndex))
		}
		memberShares := make([]secrets.Share, len(g.Members))
		for i, m := range g.Members {
			memberShares[i] = secrets.Share{Value: m.Value, X: m.Index + 1}
		}
		value, err := reconstruct(memberShares)
		if err != nil {
			return nil, fmt.Errorf("joining group %d: %w", g.GroupIndex, err)
		}
		groupShares = append(groupShares, secrets.Share{Value: value, X: g.GroupIndex + 1})
	}
	if first == nil {
		return nil, errs.E(errs.SecretSharing, errs.Secret, "no shards to join")
	}
	if len(groupShares) < first.GroupThreshold {
		return nil, errs.E(errs.ThresholdNotMet, errs.Secret,
			errs.Counts{Satisfied: len(groupShares), Required: first.GroupThreshold},
			"group threshold not met")
	}
	glog.V(2).Infof("Joining %d of %d groups (threshold %d)", len(groupShares), first.GroupCount, first.GroupThreshold)
	return reconstruct(groupShares)
}
