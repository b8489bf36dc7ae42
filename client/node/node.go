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

// Package node talks to the storage participants that hold encrypted shards.
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	glog "github.com/golang/glog"

	"github.com/zaturn/zaturn-go/client/errs"
	"github.com/zaturn/zaturn-go/constants"
)

// Node is one remote storage participant. Implementations must be safe for
// concurrent use.
type Node interface {
	// ID identifies the node, and keys its session key.
	ID() string
	// PublicKey returns the node's X25519 public key.
	PublicKey(ctx context.Context) ([]byte, error)
	// StorePart writes data into slot of recovery id.
	StorePart(ctx context.Context, token, id string, slot int, data []byte) error
	// CheckPart reports whether slot of recovery id exists.
	CheckPart(ctx context.Context, token, id string, slot int) (bool, error)
	// RetrievePart reads slot of recovery id. A missing slot is an errs.NotFound error.
	RetrievePart(ctx context.Context, token, id string, slot int) ([]byte, error)
}

// PublicKeyResponse is the body of GET /public_key.
type PublicKeyResponse struct {
	PublicKey []byte `json:"public_key"`
}

// Data is the body of storage POST requests and GET responses.
type Data struct {
	Data []byte `json:"data"`
}

// StorageKey joins a recovery id and slot into the storage path key.
func StorageKey(id string, slot int) string {
	return id + "-" + strconv.Itoa(slot)
}

// ParseStorageKey splits a storage path key. The id may itself contain dashes.
func ParseStorageKey(key string) (id string, slot int, err error) {
	i := strings.LastIndexByte(key, '-')
	if i <= 0 {
		return "", 0, fmt.Errorf("storage key %q has no slot", key)
	}
	slot, err = strconv.Atoi(key[i+1:])
	if err != nil || slot < 0 {
		return "", 0, fmt.Errorf("storage key %q has an invalid slot", key)
	}
	return key[:i], slot, nil
}

// HTTPNode is a Node reached over the HTTP/JSON node API.
type HTTPNode struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures an HTTPNode.
type Option func(*HTTPNode)

// WithHTTPClient replaces the default client, which has a constants.NodeTimeout timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(n *HTTPNode) {
		n.httpClient = c
	}
}

// NewHTTPNode returns a node for the given endpoint, e.g. "https://node1.example.com".
func NewHTTPNode(endpoint string, opts ...Option) (*HTTPNode, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errs.Errorf(errs.Configuration, errs.Node, "invalid node endpoint %q", endpoint)
	}
	n := &HTTPNode{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: constants.NodeTimeout},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// ID returns the endpoint URL.
func (n *HTTPNode) ID() string { return n.endpoint }

func (n *HTTPNode) storageURL(id string, slot int) string {
	return n.endpoint + constants.APIPrefix + "/storage/" + url.PathEscape(StorageKey(id, slot))
}

func (n *HTTPNode) send(ctx context.Context, method, target, token string, body any, slot int) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, errs.E(errs.Transport, errs.Node, errs.At(n.endpoint, slot), fmt.Errorf("marshaling request: %w", err))
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, errs.E(errs.Transport, errs.Node, errs.At(n.endpoint, slot), err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(constants.AuthorizationHeader, token)
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, nil, errs.E(errs.Transport, errs.Node, errs.At(n.endpoint, slot), err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errs.E(errs.Transport, errs.Node, errs.At(n.endpoint, slot), fmt.Errorf("reading response: %w", err))
	}
	return resp.StatusCode, respBody, nil
}

func (n *HTTPNode) statusError(status int, body []byte, slot int) error {
	kind := errs.Transport
	if status == http.StatusNotFound {
		kind = errs.NotFound
	}
	msg := fmt.Sprintf("node returned status %d", status)
	if len(body) > 0 {
		msg += ": " + strings.TrimSpace(string(body))
	}
	return errs.E(kind, errs.Node, errs.At(n.endpoint, slot), msg)
}

// PublicKey fetches the node's public key.
func (n *HTTPNode) PublicKey(ctx context.Context) ([]byte, error) {
	status, body, err := n.send(ctx, http.MethodGet, n.endpoint+constants.PublicKeyPath, "", nil, -1)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, n.statusError(status, body, -1)
	}
	var resp PublicKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.E(errs.Transport, errs.Node, errs.At(n.endpoint, -1), fmt.Errorf("decoding public key: %w", err))
	}
	return resp.PublicKey, nil
}

// StorePart uploads data to a slot.
func (n *HTTPNode) StorePart(ctx context.Context, token, id string, slot int, data []byte) error {
	status, body, err := n.send(ctx, http.MethodPost, n.storageURL(id, slot), token, Data{Data: data}, slot)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent {
		return n.statusError(status, body, slot)
	}
	glog.V(1).Infof("Stored slot %d on %s", slot, n.endpoint)
	return nil
}

// CheckPart issues a HEAD request for a slot.
func (n *HTTPNode) CheckPart(ctx context.Context, token, id string, slot int) (bool, error) {
	status, body, err := n.send(ctx, http.MethodHead, n.storageURL(id, slot), token, nil, slot)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, n.statusError(status, body, slot)
	}
}

// RetrievePart downloads a slot.
func (n *HTTPNode) RetrievePart(ctx context.Context, token, id string, slot int) ([]byte, error) {
	status, body, err := n.send(ctx, http.MethodGet, n.storageURL(id, slot), token, nil, slot)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, n.statusError(status, body, slot)
	}
	var resp Data
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.E(errs.Transport, errs.Node, errs.At(n.endpoint, slot), fmt.Errorf("decoding part: %w", err))
	}
	return resp.Data, nil
}
