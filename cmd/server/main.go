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

// Reference node server binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	glog "github.com/golang/glog"

	"github.com/zaturn/zaturn-go/client/errs"
	"github.com/zaturn/zaturn-go/client/keystore"
	"github.com/zaturn/zaturn-go/client/sessioncrypto"
	"github.com/zaturn/zaturn-go/constants"
	"github.com/zaturn/zaturn-go/server"
)

var (
	port    = flag.Int("port", constants.HTTPPort, "service port")
	keyFile = flag.String("key-file", "", "file holding the node key pair; created if missing. Without it a new key pair is generated on every start.")
)

// nodeKeyPair loads the node key pair from path, creating it on first start.
func nodeKeyPair(ctx context.Context, path string) (*sessioncrypto.KeyPair, error) {
	kp, err := keystore.Load(ctx, path, nil)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, errs.NotFound) {
		return nil, err
	}
	if kp, err = sessioncrypto.NewKeyPair(); err != nil {
		return nil, err
	}
	if err := keystore.Save(ctx, path, kp, nil); err != nil {
		return nil, err
	}
	return kp, nil
}

func main() {
	flag.Parse()
	ctx := context.Background()

	var opts []server.Option
	if *keyFile != "" {
		kp, err := nodeKeyPair(ctx, *keyFile)
		if err != nil {
			glog.Fatalf("failed to load node key pair: %v", err)
		}
		opts = append(opts, server.WithKeyPair(kp))
	}

	srv, err := server.New(opts...)
	if err != nil {
		glog.Fatalf("failed to create server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: constants.NodeTimeout,
		IdleTimeout:       time.Minute,
	}
	glog.Infof("Starting node server %s on port %v.", constants.Version, *port)
	if err := httpServer.ListenAndServe(); err != nil {
		glog.Fatalf("server stopped: %v", err)
	}
}
