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

// Package server contains the reference node server: the node HTTP API over
// an in-memory store.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	glog "github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zaturn/zaturn-go/client/node"
	"github.com/zaturn/zaturn-go/client/sessioncrypto"
	"github.com/zaturn/zaturn-go/constants"
)

const (
	keyPathVariable = "key"

	// RequestIDHeader is set on every response.
	RequestIDHeader = "X-Request-Id"

	// MetricsPath serves Prometheus metrics.
	MetricsPath = "/metrics"

	maxBodySize = 64 << 10
)

// Route names, used as the operation label of metrics.
const (
	opPublicKey = "public_key"
	opStore     = "store"
	opCheck     = "check"
	opRetrieve  = "retrieve"
)

// Server is a node holding opaque recovery parts per authorization token.
type Server struct {
	keys *sessioncrypto.KeyPair

	mu    sync.Mutex
	parts map[string]map[string][]byte // token -> storage key -> data

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	stored   prometheus.Gauge

	router *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithKeyPair sets the node key pair instead of generating one.
func WithKeyPair(kp *sessioncrypto.KeyPair) Option {
	return func(s *Server) { s.keys = kp }
}

// New returns a Server with its routes and metrics registered.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		parts:    make(map[string]map[string][]byte),
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zaturn",
			Subsystem: "node",
			Name:      "requests_total",
			Help:      "Node API requests by operation and status code.",
		}, []string{"operation", "code"}),
		stored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zaturn",
			Subsystem: "node",
			Name:      "stored_parts",
			Help:      "Recovery parts currently held in memory.",
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.keys == nil {
		keys, err := sessioncrypto.NewKeyPair()
		if err != nil {
			return nil, fmt.Errorf("failed to create node key pair: %w", err)
		}
		s.keys = keys
	}
	s.registry.MustRegister(s.requests, s.stored)

	r := mux.NewRouter()
	r.UseEncodedPath()
	r.Use(s.instrument)
	r.HandleFunc(constants.PublicKeyPath, s.publicKey).Methods(http.MethodGet).Name(opPublicKey)
	r.HandleFunc(constants.StoragePath, s.authorized(s.store)).Methods(http.MethodPost).Name(opStore)
	r.HandleFunc(constants.StoragePath, s.authorized(s.check)).Methods(http.MethodHead).Name(opCheck)
	r.HandleFunc(constants.StoragePath, s.authorized(s.retrieve)).Methods(http.MethodGet).Name(opRetrieve)
	r.Handle(MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router = r

	return s, nil
}

// Handler returns the HTTP handler serving the node API and metrics.
func (s *Server) Handler() http.Handler { return s.router }

// PublicKey returns the node's X25519 public key.
func (s *Server) PublicKey() []byte { return append([]byte(nil), s.keys.Public[:]...) }

// Registry returns the server's metrics registry.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument tags every routed request with an id and counts it.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		op := "unknown"
		if route := mux.CurrentRoute(r); route != nil && route.GetName() != "" {
			op = route.GetName()
		}
		s.requests.WithLabelValues(op, fmt.Sprint(rec.status)).Inc()
		glog.V(1).Infof("[%s] %s %s -> %d", id, r.Method, r.URL.EscapedPath(), rec.status)
	})
}

type storageHandler func(w http.ResponseWriter, r *http.Request, token, key string)

// authorized rejects storage requests without a token and resolves the
// storage key path variable.
func (s *Server) authorized(h storageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(constants.AuthorizationHeader)
		if token == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}
		key, err := url.PathUnescape(mux.Vars(r)[keyPathVariable])
		if err != nil {
			http.Error(w, fmt.Sprintf("unable to unescape %s path variable: %v", keyPathVariable, err), http.StatusBadRequest)
			return
		}
		if _, _, err := node.ParseStorageKey(key); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h(w, r, token, key)
	}
}

func (s *Server) publicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, node.PublicKeyResponse{PublicKey: s.PublicKey()})
}

func (s *Server) store(w http.ResponseWriter, r *http.Request, token, key string) {
	var body node.Data
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}
	if len(body.Data) == 0 {
		http.Error(w, "empty data", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	user, ok := s.parts[token]
	if !ok {
		user = make(map[string][]byte)
		s.parts[token] = user
	}
	if _, exists := user[key]; !exists {
		s.stored.Inc()
	}
	user[key] = body.Data
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) lookup(token, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.parts[token][key]
	return data, ok
}

func (s *Server) check(w http.ResponseWriter, r *http.Request, token, key string) {
	if _, ok := s.lookup(token, key); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request, token, key string) {
	data, ok := s.lookup(token, key)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, node.Data{Data: data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("Failed to write response: %v", err)
	}
}
