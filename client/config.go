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

package client

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/zaturn/zaturn-go/client/errs"
	"github.com/zaturn/zaturn-go/client/identity"
	"github.com/zaturn/zaturn-go/client/shares"
)

// DefaultConfigName is the configuration file looked up in os.UserConfigDir().
const DefaultConfigName = "zaturn.yaml"

// Configuration bounds and defaults.
const (
	MinGroups                   = 1
	MinGroupThreshold           = 1
	DefaultGroupMembers         = 2
	DefaultGroupMemberThreshold = 2
)

// Config is the client configuration, usually read from a YAML file:
//
//	nodes:
//	  - https://node1.example.com
//	  - https://node2.example.com
//	  - https://node3.example.com
//	groupThreshold: 2
//	keyFile: /home/me/.config/zaturn-key.yaml
//	kekUri: gcp-kms://projects/p/locations/l/keyRings/r/cryptoKeys/k
//	identity:
//	  google:
//	    clientId: 123.apps.googleusercontent.com
//	    redirectUrl: http://localhost:8085/callback
//
// Zero thresholds take defaults derived from the number of nodes.
type Config struct {
	Nodes                []string `json:"nodes"`
	GroupThreshold       int      `json:"groupThreshold,omitempty"`
	GroupMembers         int      `json:"groupMembers,omitempty"`
	GroupMemberThreshold int      `json:"groupMemberThreshold,omitempty"`

	KeyFile        string `json:"keyFile,omitempty"`
	KEKURI         string `json:"kekUri,omitempty"`
	KMSCredentials string `json:"kmsCredentialsFile,omitempty"`

	Identity *IdentityConfig `json:"identity,omitempty"`
}

// IdentityConfig selects one identity provider.
type IdentityConfig struct {
	Google *identity.Google `json:"google,omitempty"`
	Apple  *identity.Apple  `json:"apple,omitempty"`
}

// Provider returns the configured provider.
func (c *IdentityConfig) Provider() (identity.Provider, error) {
	switch {
	case c == nil || (c.Google == nil && c.Apple == nil):
		return nil, errs.E(errs.Configuration, errs.Identity, "no identity provider configured")
	case c.Google != nil && c.Apple != nil:
		return nil, errs.E(errs.Configuration, errs.Identity, "both google and apple identity providers configured")
	case c.Google != nil:
		return *c.Google, nil
	default:
		return *c.Apple, nil
	}
}

// DefaultConfigPath returns DefaultConfigName inside os.UserConfigDir().
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory location: %w", err)
	}
	return filepath.Join(dir, DefaultConfigName), nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.E(errs.Configuration, errs.Zaturn, fmt.Errorf("reading config file: %w", err))
	}
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(b, cfg); err != nil {
		return nil, errs.E(errs.Configuration, errs.Zaturn, fmt.Errorf("parsing config file %s: %w", path, err))
	}
	return cfg, nil
}

// ShareConfig holds the resolved sharing parameters: one group per node.
type ShareConfig struct {
	Groups               int
	GroupThreshold       int
	GroupMembers         int
	GroupMemberThreshold int
}

// Specs returns one GroupSpec per group.
func (s ShareConfig) Specs() []shares.GroupSpec {
	specs := make([]shares.GroupSpec, s.Groups)
	for i := range specs {
		specs[i] = shares.GroupSpec{MemberCount: s.GroupMembers, MemberThreshold: s.GroupMemberThreshold}
	}
	return specs
}

// MembersPerGroup returns GroupMembers for every group.
func (s ShareConfig) MembersPerGroup() []int {
	out := make([]int, s.Groups)
	for i := range out {
		out[i] = s.GroupMembers
	}
	return out
}

func resolveShareConfig(cfg *Config, numNodes int) (ShareConfig, error) {
	s := ShareConfig{
		Groups:               max(numNodes, MinGroups),
		GroupThreshold:       cfg.GroupThreshold,
		GroupMembers:         cfg.GroupMembers,
		GroupMemberThreshold: cfg.GroupMemberThreshold,
	}
	if s.GroupThreshold == 0 {
		s.GroupThreshold = max(numNodes/2+1, MinGroupThreshold)
	}
	if s.GroupMembers == 0 {
		s.GroupMembers = DefaultGroupMembers
	}
	if s.GroupMemberThreshold == 0 {
		s.GroupMemberThreshold = DefaultGroupMemberThreshold
	}

	switch {
	case numNodes == 0:
		return ShareConfig{}, errs.E(errs.Configuration, errs.Zaturn, "no nodes configured")
	case s.Groups > shares.MaxGroups:
		return ShareConfig{}, errs.Errorf(errs.Configuration, errs.Zaturn, "%d nodes exceed the maximum of %d", s.Groups, shares.MaxGroups)
	case s.GroupThreshold < MinGroupThreshold || s.GroupThreshold > s.Groups:
		return ShareConfig{}, errs.Errorf(errs.Configuration, errs.Zaturn, "group threshold %d must be between %d and the number of groups (%d)", s.GroupThreshold, MinGroupThreshold, s.Groups)
	case s.GroupMembers < 1 || s.GroupMembers > shares.MaxMembers:
		return ShareConfig{}, errs.Errorf(errs.Configuration, errs.Zaturn, "group members %d must be between 1 and %d", s.GroupMembers, shares.MaxMembers)
	case s.GroupMemberThreshold < 1 || s.GroupMemberThreshold > s.GroupMembers:
		return ShareConfig{}, errs.Errorf(errs.Configuration, errs.Zaturn, "group member threshold %d must be between 1 and group members (%d)", s.GroupMemberThreshold, s.GroupMembers)
	}
	return s, nil
}
