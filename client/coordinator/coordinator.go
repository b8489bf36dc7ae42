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

// Package coordinator fans shard operations out to storage nodes.
//
// Store is strict: the first failure anywhere fails the call. Check and
// Retrieve are lenient: every node and slot reports its own outcome and the
// caller decides whether enough of them succeeded.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	glog "github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/zaturn/zaturn-go/client/errs"
	"github.com/zaturn/zaturn-go/client/node"
	"github.com/zaturn/zaturn-go/client/sessioncrypto"
)

// SlotResult is the outcome of retrieving one slot.
type SlotResult struct {
	Data []byte
	Err  error
}

// NodeResult holds the per-slot outcomes of one node, in slot order. Err is
// set when the node could not be used at all, in which case every slot
// carries the same error.
type NodeResult struct {
	NodeID string
	Slots  []SlotResult
	Err    error
}

// Successes counts the slots that returned data.
func (r NodeResult) Successes() int {
	n := 0
	for _, s := range r.Slots {
		if s.Err == nil {
			n++
		}
	}
	return n
}

// FirstErr returns the first slot error, or nil.
func (r NodeResult) FirstErr() error {
	for _, s := range r.Slots {
		if s.Err != nil {
			return s.Err
		}
	}
	return r.Err
}

// Coordinator owns the local key pair and a cache of session keys by node id.
type Coordinator struct {
	keys *sessioncrypto.KeyPair

	mu          sync.Mutex
	sessionKeys map[string]sessioncrypto.SessionKey
}

// New returns a Coordinator that derives session keys from keys.
func New(keys *sessioncrypto.KeyPair) *Coordinator {
	return &Coordinator{
		keys:        keys,
		sessionKeys: make(map[string]sessioncrypto.SessionKey),
	}
}

// SessionKey returns the session key shared with n, fetching the node's public
// key on first use. Concurrent first calls for one node may both fetch; the
// derived keys are identical.
func (c *Coordinator) SessionKey(ctx context.Context, n node.Node) (sessioncrypto.SessionKey, error) {
	c.mu.Lock()
	key, ok := c.sessionKeys[n.ID()]
	c.mu.Unlock()
	if ok {
		return key, nil
	}

	peer, err := n.PublicKey(ctx)
	if err != nil {
		return sessioncrypto.SessionKey{}, fmt.Errorf("fetching public key of %s: %w", n.ID(), err)
	}
	key, err = sessioncrypto.DeriveSessionKey(c.keys.Private[:], peer)
	if err != nil {
		return sessioncrypto.SessionKey{}, errs.E(errs.Coordinator, errs.At(n.ID(), -1), err)
	}

	c.mu.Lock()
	c.sessionKeys[n.ID()] = key
	c.mu.Unlock()
	return key, nil
}

// Store encrypts parts[i] with node i's session key and writes element j into
// slot j of recovery id on node i. All branches run to completion; the first
// error observed is returned.
func (c *Coordinator) Store(ctx context.Context, nodes []node.Node, parts [][][]byte, token, id string) error {
	if len(nodes) != len(parts) {
		return errs.Errorf(errs.Configuration, errs.Coordinator, "%d nodes for %d groups of parts", len(nodes), len(parts))
	}
	var g errgroup.Group
	for i, n := range nodes {
		g.Go(func() error {
			key, err := c.SessionKey(ctx, n)
			if err != nil {
				return err
			}
			var slots errgroup.Group
			for slot, part := range parts[i] {
				slots.Go(func() error {
					ct, err := sessioncrypto.Encrypt(part, key)
					if err != nil {
						return errs.E(errs.Coordinator, errs.At(n.ID(), slot), err)
					}
					if err := n.StorePart(ctx, token, id, slot, ct); err != nil {
						return fmt.Errorf("storing slot %d on %s: %w", slot, n.ID(), err)
					}
					return nil
				})
			}
			if err := slots.Wait(); err != nil {
				return err
			}
			glog.Infof("Stored %d parts on %s", len(parts[i]), n.ID())
			return nil
		})
	}
	return g.Wait()
}

// fanOut calls fn for every slot of every node concurrently and waits for all of them.
func fanOut(nodes []node.Node, slotsPerNode []int, fn func(i int, n node.Node, slot int)) {
	var wg sync.WaitGroup
	for i, n := range nodes {
		for slot := 0; slot < slotsPerNode[i]; slot++ {
			wg.Add(1)
			go func(i int, n node.Node, slot int) {
				defer wg.Done()
				fn(i, n, slot)
			}(i, n, slot)
		}
	}
	wg.Wait()
}

func checkSlots(nodes []node.Node, slotsPerNode []int) error {
	if len(nodes) != len(slotsPerNode) {
		return errs.Errorf(errs.Configuration, errs.Coordinator, "%d nodes for %d slot counts", len(nodes), len(slotsPerNode))
	}
	return nil
}

// Check probes slotsPerNode[i] slots on node i without fetching their content.
// A slot that fails to answer is reported absent.
func (c *Coordinator) Check(ctx context.Context, nodes []node.Node, token, id string, slotsPerNode []int) ([][]bool, error) {
	if err := checkSlots(nodes, slotsPerNode); err != nil {
		return nil, err
	}
	out := make([][]bool, len(nodes))
	for i := range nodes {
		out[i] = make([]bool, slotsPerNode[i])
	}
	fanOut(nodes, slotsPerNode, func(i int, n node.Node, slot int) {
		ok, err := n.CheckPart(ctx, token, id, slot)
		if err != nil {
			glog.Warningf("Checking slot %d on %s: %v", slot, n.ID(), err)
			return
		}
		out[i][slot] = ok
	})
	return out, nil
}

// Retrieve fetches and decrypts slotsPerNode[i] slots from node i. Failures are
// recorded per slot and never abort other branches.
func (c *Coordinator) Retrieve(ctx context.Context, nodes []node.Node, token, id string, slotsPerNode []int) ([]NodeResult, error) {
	if err := checkSlots(nodes, slotsPerNode); err != nil {
		return nil, err
	}
	out := make([]NodeResult, len(nodes))
	keys := make([]sessioncrypto.SessionKey, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		out[i] = NodeResult{NodeID: n.ID(), Slots: make([]SlotResult, slotsPerNode[i])}
		wg.Add(1)
		go func(i int, n node.Node) {
			defer wg.Done()
			key, err := c.SessionKey(ctx, n)
			if err != nil {
				glog.Warningf("Skipping %s: %v", n.ID(), err)
				out[i].Err = err
				for slot := range out[i].Slots {
					out[i].Slots[slot].Err = err
				}
				return
			}
			keys[i] = key
		}(i, n)
	}
	wg.Wait()

	fanOut(nodes, slotsPerNode, func(i int, n node.Node, slot int) {
		if out[i].Err != nil {
			return
		}
		res := &out[i].Slots[slot]
		ct, err := n.RetrievePart(ctx, token, id, slot)
		if err != nil {
			glog.Warningf("Retrieving slot %d from %s: %v", slot, n.ID(), err)
			res.Err = err
			return
		}
		pt, err := sessioncrypto.Decrypt(ct, keys[i])
		if err != nil {
			glog.Warningf("Decrypting slot %d from %s: %v", slot, n.ID(), err)
			res.Err = errs.E(errs.Coordinator, errs.At(n.ID(), slot), err)
			return
		}
		res.Data = pt
	})
	for _, r := range out {
		glog.Infof("Retrieved %d/%d parts from %s", r.Successes(), len(r.Slots), r.NodeID)
	}
	return out, nil
}
