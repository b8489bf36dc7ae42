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

// Package identity obtains the OpenID Connect tokens that authorize calls to
// storage nodes. The local public identity is passed to the provider as the
// nonce, binding the issued ID token to this client.
package identity

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/tink/go/subtle/random"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/zaturn/zaturn-go/client/errs"
)

// AppleEndpoint is Sign in with Apple's OAuth 2.0 endpoint.
var AppleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://appleid.apple.com/auth/authorize",
	TokenURL:  "https://appleid.apple.com/auth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Provider is an identity provider. The only implementations are Google and Apple.
type Provider interface {
	// Name returns "google" or "apple".
	Name() string
	config() *oauth2.Config
	authOptions(nonce string) []oauth2.AuthCodeOption
}

// Google signs in with a Google account. ServerClientID, when set, is the
// audience the ID token is issued for.
type Google struct {
	ClientID       string   `json:"clientId"`
	ClientSecret   string   `json:"clientSecret,omitempty"`
	ServerClientID string   `json:"serverClientId,omitempty"`
	RedirectURL    string   `json:"redirectUrl"`
	Scopes         []string `json:"scopes,omitempty"`

	// Endpoint overrides google.Endpoint.
	Endpoint *oauth2.Endpoint `json:"-"`
}

// Name returns "google".
func (Google) Name() string { return "google" }

func (g Google) config() *oauth2.Config {
	endpoint := google.Endpoint
	if g.Endpoint != nil {
		endpoint = *g.Endpoint
	}
	return &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		RedirectURL:  g.RedirectURL,
		Scopes:       withOpenID(g.Scopes),
		Endpoint:     endpoint,
	}
}

func (g Google) authOptions(nonce string) []oauth2.AuthCodeOption {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", nonce)}
	if g.ServerClientID != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", g.ServerClientID))
	}
	return opts
}

// Apple signs in with an Apple ID.
type Apple struct {
	ClientID       string   `json:"clientId"`
	ClientSecret   string   `json:"clientSecret,omitempty"`
	ServerClientID string   `json:"serverClientId,omitempty"`
	RedirectURL    string   `json:"redirectUrl"`
	ResponseTypes  []string `json:"responseTypes,omitempty"`
	ResponseMode   string   `json:"responseMode,omitempty"`
	Scopes         []string `json:"scopes,omitempty"`

	// Endpoint overrides AppleEndpoint.
	Endpoint *oauth2.Endpoint `json:"-"`
}

// Name returns "apple".
func (Apple) Name() string { return "apple" }

func (a Apple) config() *oauth2.Config {
	endpoint := AppleEndpoint
	if a.Endpoint != nil {
		endpoint = *a.Endpoint
	}
	return &oauth2.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		RedirectURL:  a.RedirectURL,
		Scopes:       withOpenID(a.Scopes),
		Endpoint:     endpoint,
	}
}

func (a Apple) authOptions(nonce string) []oauth2.AuthCodeOption {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", nonce)}
	if len(a.ResponseTypes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("response_type", strings.Join(a.ResponseTypes, " ")))
	}
	if a.ResponseMode != "" {
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", a.ResponseMode))
	}
	return opts
}

func withOpenID(scopes []string) []string {
	for _, s := range scopes {
		if s == "openid" {
			return scopes
		}
	}
	return append([]string{"openid"}, scopes...)
}

// OAuthID is the result of a completed sign-in.
type OAuthID struct {
	IDToken      string
	AccessToken  string
	TokenType    string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

func oauthIDFromToken(tok *oauth2.Token) (*OAuthID, error) {
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, errs.E(errs.Transport, errs.Identity, "ID token is missing from the token response")
	}
	scope, _ := tok.Extra("scope").(string)
	return &OAuthID{
		IDToken:      idToken,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scope:        scope,
	}, nil
}

type result struct {
	id  *OAuthID
	err error
}

// Session is one pending sign-in.
type Session struct {
	// Key is the caller-supplied correlation key.
	Key string
	// AuthURL is where the user must be sent to sign in.
	AuthURL string
	// State is the OAuth state parameter embedded in AuthURL.
	State string

	provider Provider
	done     chan result
}

// Wait blocks until the session is completed or ctx is done.
func (s *Session) Wait(ctx context.Context) (*OAuthID, error) {
	select {
	case r := <-s.done:
		return r.id, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sessions tracks pending sign-ins by caller-supplied key. The zero value is
// not usable; call NewSessions.
type Sessions struct {
	mu      sync.Mutex
	pending map[string]*Session
}

// NewSessions returns an empty registry.
func NewSessions() *Sessions {
	return &Sessions{pending: make(map[string]*Session)}
}

// Begin starts a sign-in with provider, embedding nonce in the authorization
// request. key must not belong to another pending sign-in.
func (s *Sessions) Begin(key string, provider Provider, nonce string) (*Session, error) {
	if provider == nil {
		return nil, errs.E(errs.Configuration, errs.Identity, "no identity provider")
	}
	state := hex.EncodeToString(random.GetRandomBytes(16))
	sess := &Session{
		Key:      key,
		AuthURL:  provider.config().AuthCodeURL(state, provider.authOptions(nonce)...),
		State:    state,
		provider: provider,
		done:     make(chan result, 1),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[key]; ok {
		return nil, errs.Errorf(errs.Configuration, errs.Identity, "sign-in %q is already in progress", key)
	}
	s.pending[key] = sess
	return sess, nil
}

func (s *Sessions) take(key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.pending[key]
	if !ok {
		return nil, errs.Errorf(errs.NotFound, errs.Identity, "no pending sign-in %q", key)
	}
	delete(s.pending, key)
	return sess, nil
}

// Complete exchanges the authorization code of sign-in key and delivers the
// outcome to the session's waiter. The returned error is the same outcome.
func (s *Sessions) Complete(ctx context.Context, key, state, code string) (*OAuthID, error) {
	s.mu.Lock()
	sess, ok := s.pending[key]
	s.mu.Unlock()
	if !ok {
		return nil, errs.Errorf(errs.NotFound, errs.Identity, "no pending sign-in %q", key)
	}
	if state != sess.State {
		// Leave the session pending: the callback may be forged.
		return nil, errs.E(errs.Configuration, errs.Identity, "state mismatch")
	}
	if _, err := s.take(key); err != nil {
		return nil, err
	}

	var r result
	tok, err := sess.provider.config().Exchange(ctx, code)
	if err != nil {
		r.err = errs.E(errs.Transport, errs.Identity, fmt.Errorf("exchanging %s authorization code: %w", sess.provider.Name(), err))
	} else {
		r.id, r.err = oauthIDFromToken(tok)
	}
	sess.done <- r
	return r.id, r.err
}

// Cancel abandons sign-in key, failing its waiter with err.
func (s *Sessions) Cancel(key string, err error) {
	sess, terr := s.take(key)
	if terr != nil {
		return
	}
	if err == nil {
		err = context.Canceled
	}
	sess.done <- result{err: err}
}

// Pending returns the number of sign-ins in progress.
func (s *Sessions) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
