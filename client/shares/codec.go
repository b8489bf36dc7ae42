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

// Package shares contains the two-level (group of groups) threshold encoding of
// secrets. Shards follow the SSKR layout:
//
//	0-1  identifier (big-endian)
//	2    (groupThreshold-1)<<4 | (groupCount-1)
//	3    groupIndex<<4 | (memberThreshold-1)
//	4    reserved (high nibble, zero) | memberIndex
//	5..  share value
package shares

import (
	"encoding/binary"
	"fmt"

	"github.com/zaturn/zaturn-go/client/errs"
)

const (
	// MaxSecretSize is the largest secret Split accepts, in bytes.
	MaxSecretSize = 127
	// MaxGroups is the largest number of groups in one split.
	MaxGroups = 16
	// MaxMembers is the largest number of members in one group.
	MaxMembers = 16

	headerSize = 5
)

// MemberShard is one member's fragment of a group share.
type MemberShard struct {
	Index int
	Value []byte
}

// GroupShard is one group's view of a split: the shared header and its members.
type GroupShard struct {
	Identifier      uint16
	GroupThreshold  int
	GroupCount      int
	GroupIndex      int
	MemberThreshold int
	Members         []MemberShard
}

func (g GroupShard) validateHeader() error {
	switch {
	case g.GroupCount < 1 || g.GroupCount > MaxGroups:
		return errs.Errorf(errs.SecretSharing, errs.Secret, "group count %d out of range 1..%d", g.GroupCount, MaxGroups)
	case g.GroupThreshold < 1 || g.GroupThreshold > g.GroupCount:
		return errs.Errorf(errs.SecretSharing, errs.Secret, "group threshold %d out of range 1..%d", g.GroupThreshold, g.GroupCount)
	case g.GroupIndex < 0 || g.GroupIndex >= g.GroupCount:
		return errs.Errorf(errs.SecretSharing, errs.Secret, "group index %d out of range 0..%d", g.GroupIndex, g.GroupCount-1)
	case g.MemberThreshold < 1 || g.MemberThreshold > MaxMembers:
		return errs.Errorf(errs.SecretSharing, errs.Secret, "member threshold %d out of range 1..%d", g.MemberThreshold, MaxMembers)
	}
	return nil
}

// Encode serializes g into one byte slice per member.
func (g GroupShard) Encode() ([][]byte, error) {
	if err := g.validateHeader(); err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Index < 0 || m.Index >= MaxMembers {
			return nil, errs.Errorf(errs.SecretSharing, errs.Secret, "member index %d out of range 0..%d", m.Index, MaxMembers-1)
		}
		b := make([]byte, headerSize, headerSize+len(m.Value))
		binary.BigEndian.PutUint16(b[0:2], g.Identifier)
		b[2] = byte((g.GroupThreshold-1)&0xf)<<4 | byte((g.GroupCount-1)&0xf)
		b[3] = byte(g.GroupIndex&0xf)<<4 | byte((g.MemberThreshold-1)&0xf)
		b[4] = byte(m.Index & 0xf)
		out = append(out, append(b, m.Value...))
	}
	return out, nil
}

func decodeOne(b []byte) (GroupShard, MemberShard, error) {
	if len(b) <= headerSize {
		return GroupShard{}, MemberShard{}, errs.Errorf(errs.SecretSharing, errs.Secret, "shard of %d bytes is too short", len(b))
	}
	if b[4]&0xf0 != 0 {
		return GroupShard{}, MemberShard{}, errs.Errorf(errs.SecretSharing, errs.Secret, "reserved bits set: %#02x", b[4]&0xf0)
	}
	g := GroupShard{
		Identifier:      binary.BigEndian.Uint16(b[0:2]),
		GroupThreshold:  int(b[2]>>4) + 1,
		GroupCount:      int(b[2]&0xf) + 1,
		GroupIndex:      int(b[3] >> 4),
		MemberThreshold: int(b[3]&0xf) + 1,
	}
	if err := g.validateHeader(); err != nil {
		return GroupShard{}, MemberShard{}, err
	}
	value := make([]byte, len(b)-headerSize)
	copy(value, b[headerSize:])
	return g, MemberShard{Index: int(b[4] & 0xf), Value: value}, nil
}

func (g GroupShard) sameHeader(o GroupShard) bool {
	return g.Identifier == o.Identifier &&
		g.GroupThreshold == o.GroupThreshold &&
		g.GroupCount == o.GroupCount &&
		g.GroupIndex == o.GroupIndex &&
		g.MemberThreshold == o.MemberThreshold
}

// Decode parses the shards of one group. Every shard must carry the same
// header; member indexes must be distinct.
func Decode(parts [][]byte) (GroupShard, error) {
	if len(parts) == 0 {
		return GroupShard{}, errs.E(errs.SecretSharing, errs.Secret, "no shards to decode")
	}
	var group GroupShard
	seen := make(map[int]bool, len(parts))
	for i, p := range parts {
		header, member, err := decodeOne(p)
		if err != nil {
			return GroupShard{}, fmt.Errorf("shard %d: %w", i, err)
		}
		if i == 0 {
			group = header
		} else if !group.sameHeader(header) {
			return GroupShard{}, errs.Errorf(errs.SecretSharing, errs.Secret, "shard %d header does not match the rest of group %d", i, group.GroupIndex)
		}
		if seen[member.Index] {
			return GroupShard{}, errs.Errorf(errs.SecretSharing, errs.Secret, "duplicate member index %d in group %d", member.Index, group.GroupIndex)
		}
		seen[member.Index] = true
		group.Members = append(group.Members, member)
	}
	return group, nil
}
