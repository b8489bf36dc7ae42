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

// This binary is the main entrypoint for the Zaturn command line tool.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	glog "github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/google/uuid"

	"github.com/zaturn/zaturn-go/client"
	"github.com/zaturn/zaturn-go/client/cloudkms"
	"github.com/zaturn/zaturn-go/client/keystore"
	"github.com/zaturn/zaturn-go/client/sessioncrypto"
	"github.com/zaturn/zaturn-go/constants"
)

func defaultConfigFile() string {
	path, err := client.DefaultConfigPath()
	if err != nil {
		glog.Errorf("Failed to get config directory location: %v", err)
		return client.DefaultConfigName
	}
	return path
}

// sealer returns the KMS sealer for the key file, or nil if no KEK is configured.
func sealer(ctx context.Context, cfg *client.Config) (keystore.Sealer, func(), error) {
	if cfg.KEKURI == "" {
		return nil, func() {}, nil
	}
	factory := cloudkms.NewClientFactory(constants.Version)
	s, err := keystore.NewKMSSealer(ctx, factory, cfg.KEKURI, cfg.KMSCredentials)
	if err != nil {
		factory.Close()
		return nil, nil, err
	}
	return s, func() { factory.Close() }, nil
}

// newClient loads the configuration and key file and builds a RecoveryClient.
func newClient(ctx context.Context, configFile string) (*client.RecoveryClient, error) {
	cfg, err := client.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if cfg.KeyFile == "" {
		return nil, fmt.Errorf("no keyFile in %s; run `zaturn keygen` first", configFile)
	}
	s, done, err := sealer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer done()
	kp, err := keystore.Load(ctx, cfg.KeyFile, s)
	if err != nil {
		return nil, err
	}
	return client.New(cfg, client.WithKeyPair(kp))
}

// readSecret reads the secret from path, or from stdin if path is "-".
func readSecret(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// parseRedirect extracts the state and code from the URL a provider redirected to.
func parseRedirect(redirect string) (state, code string, err error) {
	u, err := url.Parse(strings.TrimSpace(redirect))
	if err != nil {
		return "", "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", "", fmt.Errorf("sign-in failed: %s", e)
	}
	state, code = q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		return "", "", fmt.Errorf("redirect URL has no state or code")
	}
	return state, code, nil
}

// terminalAuthorizer shows the authorization URL on out and reads the redirect
// URL pasted back on in.
func terminalAuthorizer(in io.Reader, out io.Writer) client.Authorizer {
	return func(ctx context.Context, authURL string) (string, string, error) {
		fmt.Fprintf(out, "Open this URL in a browser and sign in:\n\n  %s\n\nThen paste the URL you were redirected to: ", authURL)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("reading redirect URL: %w", err)
		}
		return parseRedirect(line)
	}
}

// keygenCmd handles CLI options for the keygen command.
type keygenCmd struct {
	configFile string
	force      bool
}

func (*keygenCmd) Name() string     { return "keygen" }
func (*keygenCmd) Synopsis() string { return "creates the key pair file named by keyFile" }
func (*keygenCmd) Usage() string {
	return `Usage: zaturn keygen [--config-file=<config_file>] [--force]

Creates a new key pair and writes it to the keyFile of the configuration. If
kekUri is set, the private key is sealed with that Cloud KMS key.

Flags:
`
}

func (k *keygenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&k.configFile, "config-file", defaultConfigFile(), "Path to a Zaturn YAML config file. Optional.")
	f.BoolVar(&k.force, "force", false, "Overwrite an existing key file.")
}

func (k *keygenCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := client.LoadConfig(k.configFile)
	if err != nil {
		glog.Errorf("Failed to load config: %v", err)
		return subcommands.ExitFailure
	}
	if cfg.KeyFile == "" {
		glog.Errorf("No keyFile in %s", k.configFile)
		return subcommands.ExitFailure
	}
	if _, err := os.Stat(cfg.KeyFile); err == nil && !k.force {
		glog.Errorf("Key file %s exists; use --force to replace it", cfg.KeyFile)
		return subcommands.ExitFailure
	}

	s, done, err := sealer(ctx, cfg)
	if err != nil {
		glog.Errorf("Failed to create KMS sealer: %v", err)
		return subcommands.ExitFailure
	}
	defer done()

	kp, err := sessioncrypto.NewKeyPair()
	if err != nil {
		glog.Errorf("Failed to create key pair: %v", err)
		return subcommands.ExitFailure
	}
	if err := keystore.Save(ctx, cfg.KeyFile, kp, s); err != nil {
		glog.Errorf("Failed to save key pair: %v", err)
		return subcommands.ExitFailure
	}
	fmt.Println("Wrote key pair to", cfg.KeyFile)
	return subcommands.ExitSuccess
}

// identityCmd handles CLI options for the identity command.
type identityCmd struct {
	configFile string
	signIn     bool
}

func (*identityCmd) Name() string { return "identity" }
func (*identityCmd) Synopsis() string {
	return "prints the public identity, optionally signing in to get a token"
}
func (*identityCmd) Usage() string {
	return `Usage: zaturn identity [--config-file=<config_file>] [--sign-in]

Prints the base64 public key used as the sign-in nonce. With --sign-in, runs
the configured identity provider's sign-in and prints the ID token to use as
--token.

Flags:
`
}

func (i *identityCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&i.configFile, "config-file", defaultConfigFile(), "Path to a Zaturn YAML config file. Optional.")
	f.BoolVar(&i.signIn, "sign-in", false, "Sign in with the configured identity provider.")
}

func (i *identityCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	c, err := newClient(ctx, i.configFile)
	if err != nil {
		glog.Errorf("Failed to create client: %v", err)
		return subcommands.ExitFailure
	}
	if !i.signIn {
		fmt.Println(c.PublicIdentity())
		return subcommands.ExitSuccess
	}

	id, err := c.SignIn(ctx, "cli", nil, terminalAuthorizer(os.Stdin, os.Stderr))
	if err != nil {
		glog.Errorf("Failed to sign in: %v", err)
		return subcommands.ExitFailure
	}
	fmt.Println(id.IDToken)
	return subcommands.ExitSuccess
}

// setupCmd handles CLI options for the setup command.
type setupCmd struct {
	configFile string
	id         string
	token      string
	secretFile string
}

func (*setupCmd) Name() string     { return "setup" }
func (*setupCmd) Synopsis() string { return "splits a secret and stores it on the configured nodes" }
func (*setupCmd) Usage() string {
	return `Usage: zaturn setup --token=<id_token> [--id=<recovery_id>] [--secret-file=<file>]

Examples:
  Store a secret read from a file under a new recovery ID:
    $ zaturn setup --token="$TOKEN" --secret-file=seed.bin

  Store a secret read from stdin under a chosen ID:
    $ my-wallet export | zaturn setup --token="$TOKEN" --id=wallet-1

Flags:
`
}

func (s *setupCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.configFile, "config-file", defaultConfigFile(), "Path to a Zaturn YAML config file. Optional.")
	f.StringVar(&s.id, "id", "", "Recovery ID. A random UUID is used if empty.")
	f.StringVar(&s.token, "token", "", "ID token from `zaturn identity --sign-in`.")
	f.StringVar(&s.secretFile, "secret-file", "-", "File holding the secret, or - for stdin.")
}

func (s *setupCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if s.token == "" {
		glog.Errorf("--token is required")
		return subcommands.ExitUsageError
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	secret, err := readSecret(s.secretFile, os.Stdin)
	if err != nil {
		glog.Errorf("Failed to read secret: %v", err)
		return subcommands.ExitFailure
	}
	c, err := newClient(ctx, s.configFile)
	if err != nil {
		glog.Errorf("Failed to create client: %v", err)
		return subcommands.ExitFailure
	}
	if err := c.SetupRecovery(ctx, s.id, secret, s.token); err != nil {
		glog.Errorf("Failed to set up recovery: %v", err)
		return subcommands.ExitFailure
	}
	fmt.Println("Recovery ID:", s.id)
	return subcommands.ExitSuccess
}

// checkCmd handles CLI options for the check command.
type checkCmd struct {
	configFile string
	id         string
	token      string
}

func (*checkCmd) Name() string     { return "check" }
func (*checkCmd) Synopsis() string { return "reports whether a recovery can be performed" }
func (*checkCmd) Usage() string {
	return `Usage: zaturn check --token=<id_token> --id=<recovery_id>

Exits with status 1 if too few parts are stored to recover the secret.

Flags:
`
}

func (c *checkCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configFile, "config-file", defaultConfigFile(), "Path to a Zaturn YAML config file. Optional.")
	f.StringVar(&c.id, "id", "", "Recovery ID.")
	f.StringVar(&c.token, "token", "", "ID token from `zaturn identity --sign-in`.")
}

func (c *checkCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.id == "" || c.token == "" {
		glog.Errorf("--id and --token are required")
		return subcommands.ExitUsageError
	}
	rc, err := newClient(ctx, c.configFile)
	if err != nil {
		glog.Errorf("Failed to create client: %v", err)
		return subcommands.ExitFailure
	}
	ok, err := rc.CheckRecovery(ctx, c.id, c.token)
	if err != nil {
		glog.Errorf("Failed to check recovery: %v", err)
		return subcommands.ExitFailure
	}
	if !ok {
		fmt.Println("Recovery", c.id, "is NOT recoverable")
		return subcommands.ExitFailure
	}
	fmt.Println("Recovery", c.id, "is recoverable")
	return subcommands.ExitSuccess
}

// recoverCmd handles CLI options for the recover command.
type recoverCmd struct {
	configFile string
	id         string
	token      string
	outFile    string
}

func (*recoverCmd) Name() string     { return "recover" }
func (*recoverCmd) Synopsis() string { return "retrieves and joins a stored secret" }
func (*recoverCmd) Usage() string {
	return `Usage: zaturn recover --token=<id_token> --id=<recovery_id> [--out=<file>]

Examples:
  Write the recovered secret to stdout:
    $ zaturn recover --token="$TOKEN" --id=wallet-1 > seed.bin

Flags:
`
}

func (r *recoverCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.configFile, "config-file", defaultConfigFile(), "Path to a Zaturn YAML config file. Optional.")
	f.StringVar(&r.id, "id", "", "Recovery ID.")
	f.StringVar(&r.token, "token", "", "ID token from `zaturn identity --sign-in`.")
	f.StringVar(&r.outFile, "out", "-", "File to write the secret to, or - for stdout.")
}

func (r *recoverCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if r.id == "" || r.token == "" {
		glog.Errorf("--id and --token are required")
		return subcommands.ExitUsageError
	}
	c, err := newClient(ctx, r.configFile)
	if err != nil {
		glog.Errorf("Failed to create client: %v", err)
		return subcommands.ExitFailure
	}
	secret, err := c.Recover(ctx, r.id, r.token)
	if err != nil {
		glog.Errorf("Failed to recover: %v", err)
		return subcommands.ExitFailure
	}
	if r.outFile == "-" {
		os.Stdout.Write(secret)
		return subcommands.ExitSuccess
	}
	if err := os.WriteFile(r.outFile, secret, 0600); err != nil {
		glog.Errorf("Failed to write secret: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// versionCmd handles CLI options for the version command.
type versionCmd struct{}

func (*versionCmd) Name() string           { return "version" }
func (*versionCmd) Synopsis() string       { return "prints the current version" }
func (*versionCmd) Usage() string          { return "Usage: zaturn version" }
func (*versionCmd) SetFlags(*flag.FlagSet) {}
func (*versionCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	fmt.Printf("Zaturn Version %s\n", constants.Version)
	return subcommands.ExitSuccess
}

func main() {
	flag.Parse()

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(&keygenCmd{}, "")
	subcommands.Register(&identityCmd{}, "")
	subcommands.Register(&setupCmd{}, "")
	subcommands.Register(&checkCmd{}, "")
	subcommands.Register(&recoverCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
