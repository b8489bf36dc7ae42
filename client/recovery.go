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

// Package client splits a secret across storage nodes and recovers it.
//
// Each node holds one group of a two-level threshold split. A secret is
// recoverable while at least GroupThreshold nodes each still serve
// GroupMemberThreshold of their shards.
package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	glog "github.com/golang/glog"

	"github.com/zaturn/zaturn-go/client/coordinator"
	"github.com/zaturn/zaturn-go/client/errs"
	"github.com/zaturn/zaturn-go/client/identity"
	"github.com/zaturn/zaturn-go/client/node"
	"github.com/zaturn/zaturn-go/client/sessioncrypto"
	"github.com/zaturn/zaturn-go/client/shares"
)

// SecretSharing splits secrets into per-group shards and joins them back.
type SecretSharing interface {
	Split(secret []byte, groups []shares.GroupSpec, groupThreshold int) ([][][]byte, error)
	Join(parts [][][]byte) ([]byte, error)
}

type options struct {
	keys       *sessioncrypto.KeyPair
	nodes      []node.Node
	sharing    SecretSharing
	httpClient *http.Client
}

// Option configures a RecoveryClient.
type Option func(*options)

// WithKeyPair restores a key pair exported with RecoveryClient.KeyPair. Without
// it a fresh key pair is generated, and shards stored by another client
// cannot be decrypted.
func WithKeyPair(kp *sessioncrypto.KeyPair) Option {
	return func(o *options) { o.keys = kp }
}

// WithNodes uses the given nodes instead of HTTP nodes built from Config.Nodes.
func WithNodes(nodes ...node.Node) Option {
	return func(o *options) { o.nodes = nodes }
}

// WithSecretSharing replaces the SSKR engine.
func WithSecretSharing(s SecretSharing) Option {
	return func(o *options) { o.sharing = s }
}

// WithHTTPClient sets the HTTP client of nodes built from Config.Nodes.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// RecoveryClient sets up, checks and performs recoveries. It owns its key pair
// for its whole lifetime and is safe for concurrent use.
type RecoveryClient struct {
	nodes    []node.Node
	share    ShareConfig
	keys     *sessioncrypto.KeyPair
	coord    *coordinator.Coordinator
	sharing  SecretSharing
	sessions *identity.Sessions
	provider identity.Provider
}

// New validates cfg and returns a client. A nil cfg is treated as empty, in
// which case nodes must be given with WithNodes.
func New(cfg *Config, opts ...Option) (*RecoveryClient, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	o := &options{sharing: shares.SSKR{}}
	for _, opt := range opts {
		opt(o)
	}

	nodes := o.nodes
	if nodes == nil {
		for _, endpoint := range cfg.Nodes {
			var nodeOpts []node.Option
			if o.httpClient != nil {
				nodeOpts = append(nodeOpts, node.WithHTTPClient(o.httpClient))
			}
			n, err := node.NewHTTPNode(endpoint, nodeOpts...)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
	}
	share, err := resolveShareConfig(cfg, len(nodes))
	if err != nil {
		return nil, err
	}

	keys := o.keys
	if keys == nil {
		if keys, err = sessioncrypto.NewKeyPair(); err != nil {
			return nil, err
		}
	}

	c := &RecoveryClient{
		nodes:    nodes,
		share:    share,
		keys:     keys,
		coord:    coordinator.New(keys),
		sharing:  o.sharing,
		sessions: identity.NewSessions(),
	}
	if cfg.Identity != nil {
		if c.provider, err = cfg.Identity.Provider(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ShareConfig returns the resolved sharing parameters.
func (c *RecoveryClient) ShareConfig() ShareConfig { return c.share }

// KeyPair returns a copy of the client's key pair, for persistence.
func (c *RecoveryClient) KeyPair() *sessioncrypto.KeyPair {
	kp := *c.keys
	return &kp
}

// PublicIdentity returns the base64 public key. It is sent to identity
// providers as the sign-in nonce.
func (c *RecoveryClient) PublicIdentity() string {
	return base64.StdEncoding.EncodeToString(c.keys.Public[:])
}

// BeginSignIn starts a sign-in under key. A nil provider selects the configured one.
func (c *RecoveryClient) BeginSignIn(key string, provider identity.Provider) (*identity.Session, error) {
	if provider == nil {
		provider = c.provider
	}
	return c.sessions.Begin(key, provider, c.PublicIdentity())
}

// CompleteSignIn finishes the sign-in under key with the state and code of
// the provider's redirect.
func (c *RecoveryClient) CompleteSignIn(ctx context.Context, key, state, code string) (*identity.OAuthID, error) {
	return c.sessions.Complete(ctx, key, state, code)
}

// Authorizer sends the user to authURL and returns the state and code the
// provider redirected back with.
type Authorizer func(ctx context.Context, authURL string) (state, code string, err error)

// SignIn runs a complete sign-in. The returned OAuthID.IDToken is the token
// expected by SetupRecovery, CheckRecovery and Recover.
func (c *RecoveryClient) SignIn(ctx context.Context, key string, provider identity.Provider, authorize Authorizer) (*identity.OAuthID, error) {
	sess, err := c.BeginSignIn(key, provider)
	if err != nil {
		return nil, err
	}
	state, code, err := authorize(ctx, sess.AuthURL)
	if err != nil {
		c.sessions.Cancel(key, err)
		return nil, errs.E(errs.Identity, err)
	}
	if _, err := c.CompleteSignIn(ctx, key, state, code); err != nil {
		c.sessions.Cancel(key, err)
		return nil, err
	}
	return sess.Wait(ctx)
}

// SetupRecovery splits secret and stores one group on every node. It fails if
// any node fails.
func (c *RecoveryClient) SetupRecovery(ctx context.Context, id string, secret []byte, token string) error {
	parts, err := c.sharing.Split(secret, c.share.Specs(), c.share.GroupThreshold)
	if err != nil {
		return err
	}
	if err := c.coord.Store(ctx, c.nodes, parts, token, id); err != nil {
		return errs.E(errs.Zaturn, fmt.Errorf("storing recovery %s: %w", id, err))
	}
	glog.Infof("Recovery %s stored on %d nodes", id, len(c.nodes))
	return nil
}

// CheckRecovery reports whether enough shards of recovery id exist to recover
// it. Unreachable nodes count as holding nothing.
func (c *RecoveryClient) CheckRecovery(ctx context.Context, id, token string) (bool, error) {
	present, err := c.coord.Check(ctx, c.nodes, token, id, c.share.MembersPerGroup())
	if err != nil {
		return false, err
	}
	satisfied := 0
	for _, slots := range present {
		n := 0
		for _, ok := range slots {
			if ok {
				n++
			}
		}
		if n >= c.share.GroupMemberThreshold {
			satisfied++
		}
	}
	glog.Infof("Recovery %s: %d/%d groups available", id, satisfied, c.share.GroupThreshold)
	return satisfied >= c.share.GroupThreshold, nil
}

// Recover retrieves and joins recovery id. Only nodes that return at least
// GroupMemberThreshold shards count towards GroupThreshold; if too few do, the
// error is errs.ThresholdNotMet, wrapping the first node failure.
func (c *RecoveryClient) Recover(ctx context.Context, id, token string) ([]byte, error) {
	results, err := c.coord.Retrieve(ctx, c.nodes, token, id, c.share.MembersPerGroup())
	if err != nil {
		return nil, err
	}

	var (
		parts     = make([][][]byte, len(results))
		satisfied int
		firstErr  error
	)
	for i, r := range results {
		var got [][]byte
		for _, s := range r.Slots {
			if s.Err == nil {
				got = append(got, s.Data)
			}
		}
		if len(got) < c.share.GroupMemberThreshold {
			glog.Warningf("Node %s returned %d/%d parts", r.NodeID, len(got), c.share.GroupMemberThreshold)
			if firstErr == nil {
				firstErr = r.FirstErr()
			}
			continue
		}
		parts[i] = got
		satisfied++
	}
	if satisfied < c.share.GroupThreshold {
		return nil, errs.E(errs.ThresholdNotMet, errs.Zaturn,
			errs.Counts{Satisfied: satisfied, Required: c.share.GroupThreshold},
			"group threshold not met", firstErr)
	}

	secret, err := c.sharing.Join(parts)
	if err != nil {
		return nil, errs.E(errs.Zaturn, fmt.Errorf("joining recovery %s: %w", id, err))
	}
	return secret, nil
}
