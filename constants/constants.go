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

// Package constants contains shared constants between the client and the node server.
package constants

import "time"

// APIPrefix is the path prefix of every node endpoint.
const APIPrefix = "/api/v1"

// PublicKeyPath serves the node's X25519 public key.
const PublicKeyPath = APIPrefix + "/public_key"

// StoragePath is the route template for shard slots. The key is "{id}-{slot}".
const StoragePath = APIPrefix + "/storage/{key}"

// HTTPPort is the default listening port of the node server.
const HTTPPort = 9755

// NodeTimeout bounds every request a client makes to a node.
const NodeTimeout = 10 * time.Second

// AuthorizationHeader carries the bearer token on storage requests.
const AuthorizationHeader = "Authorization"

// Version is reported by the CLI and the node server.
const Version = "0.3.0"
