package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spellrun/spell/pkg/config"
	"github.com/spellrun/spell/pkg/install"
	"github.com/spellrun/spell/pkg/manifest"
	"github.com/spellrun/spell/pkg/signature"
	"github.com/spellrun/spell/pkg/trust"
)

// runTrustCmd implements `spell trust <subcommand>`: publisher key
// administration.
func runTrustCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: spell trust <add|list|inspect|remove-key|revoke-key|restore-key>")
		return 1
	}
	store := trust.NewStore(cfg.Paths.TrustDir)

	switch args[0] {
	case "add":
		cmd := flag.NewFlagSet("trust add", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		keyID := cmd.String("key-id", "", "key identifier")
		keyFile := cmd.String("key-file", "", "file holding the base64url SPKI public key")
		if err := cmd.Parse(args[1:]); err != nil {
			return 1
		}
		if cmd.NArg() != 1 || *keyID == "" || *keyFile == "" {
			fmt.Fprintln(stderr, "usage: spell trust add <publisher> --key-id ID --key-file FILE")
			return 1
		}
		encoded, err := os.ReadFile(*keyFile)
		if err != nil {
			return fail(stderr, fmt.Errorf("read key file: %w", err))
		}
		key := trust.Key{KeyID: *keyID, Algorithm: trust.AlgorithmEd25519, PublicKey: trimNewline(encoded)}
		if _, err := trust.DecodePublicKey(key.PublicKey); err != nil {
			return fail(stderr, err)
		}
		if err := store.Upsert(cmd.Arg(0), key); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "trusted key %s for %s (fingerprint %s)\n", key.KeyID, cmd.Arg(0), trust.Fingerprint(key))
		return 0

	case "list":
		publishers, err := store.List()
		if err != nil {
			return fail(stderr, err)
		}
		for _, p := range publishers {
			fmt.Fprintln(stdout, p)
		}
		return 0

	case "inspect":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: spell trust inspect <publisher>")
			return 1
		}
		t, err := store.Load(args[1])
		if err != nil {
			return fail(stderr, err)
		}
		if t == nil {
			fmt.Fprintf(stderr, "no trust record for %s\n", args[1])
			return 1
		}
		for _, key := range t.Keys {
			state := "active"
			if key.Revoked {
				state = "revoked"
			}
			fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", key.KeyID, key.Algorithm, trust.Fingerprint(key), state)
		}
		return 0

	case "remove-key":
		if len(args) != 3 {
			fmt.Fprintln(stderr, "usage: spell trust remove-key <publisher> <key-id>")
			return 1
		}
		if err := store.Remove(args[1], args[2]); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "removed key %s from %s\n", args[2], args[1])
		return 0

	case "revoke-key":
		cmd := flag.NewFlagSet("trust revoke-key", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		reason := cmd.String("reason", "", "why the key is revoked")
		if err := cmd.Parse(args[1:]); err != nil {
			return 1
		}
		if cmd.NArg() != 2 {
			fmt.Fprintln(stderr, "usage: spell trust revoke-key <publisher> <key-id> [--reason R]")
			return 1
		}
		if err := store.Revoke(cmd.Arg(0), cmd.Arg(1), *reason); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "revoked key %s for %s\n", cmd.Arg(1), cmd.Arg(0))
		return 0

	case "restore-key":
		if len(args) != 3 {
			fmt.Fprintln(stderr, "usage: spell trust restore-key <publisher> <key-id>")
			return 1
		}
		if err := store.Restore(args[1], args[2]); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "restored key %s for %s\n", args[2], args[1])
		return 0

	default:
		fmt.Fprintf(stderr, "unknown trust subcommand: %s\n", args[0])
		return 1
	}
}

// runSignCmd implements `spell sign keygen` and `spell sign bundle`.
func runSignCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: spell sign <keygen|bundle>")
		return 1
	}

	switch args[0] {
	case "keygen":
		cmd := flag.NewFlagSet("sign keygen", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		keyID := cmd.String("key-id", "", "key identifier")
		out := cmd.String("out", "", "key pair output file")
		if err := cmd.Parse(args[1:]); err != nil {
			return 1
		}
		if *keyID == "" || *out == "" {
			fmt.Fprintln(stderr, "usage: spell sign keygen --key-id ID --out FILE")
			return 1
		}
		kp, err := signature.GenerateKeyPair(*keyID)
		if err != nil {
			return fail(stderr, err)
		}
		data, _ := json.MarshalIndent(kp, "", "  ")
		if err := os.WriteFile(*out, data, 0o600); err != nil {
			return fail(stderr, fmt.Errorf("write key file: %w", err))
		}
		fmt.Fprintf(stdout, "generated key %s\npublic_key: %s\n", kp.KeyID, kp.PublicKey)
		return 0

	case "bundle":
		cmd := flag.NewFlagSet("sign bundle", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		keyFile := cmd.String("key", "", "key pair file from sign keygen")
		publisher := cmd.String("publisher", "", "publisher identity (default: manifest id prefix)")
		if err := cmd.Parse(args[1:]); err != nil {
			return 1
		}
		if cmd.NArg() != 1 || *keyFile == "" {
			fmt.Fprintln(stderr, "usage: spell sign bundle <dir> --key FILE [--publisher P]")
			return 1
		}
		kp, priv, err := signature.LoadKeyPair(*keyFile)
		if err != nil {
			return fail(stderr, err)
		}
		pub := *publisher
		if pub == "" {
			m, err := manifestFromBundle(cmd.Arg(0))
			if err != nil {
				return fail(stderr, err)
			}
			pub = m.Publisher()
		}
		sig, err := signature.SignBundle(cmd.Arg(0), pub, kp, priv)
		if err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "signed %s as %s (digest %s)\n", cmd.Arg(0), sig.Publisher, sig.Digest.Value)
		return 0

	default:
		fmt.Fprintf(stderr, "unknown sign subcommand: %s\n", args[0])
		return 1
	}
}

// runVerifyCmd implements `spell verify <id>` against the installed copy.
func runVerifyCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	version := cmd.String("version", "", "bundle version (default: latest installed)")
	if err := cmd.Parse(args); err != nil {
		return 1
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: spell verify <id> [--version V]")
		return 1
	}

	installs := install.NewStore(cfg.Paths.SpellsDir)
	bundle, err := installs.Resolve(cmd.Arg(0), *version)
	if err != nil {
		return fail(stderr, err)
	}
	result := signature.Verify(bundle.Manifest, bundle.Path, trust.NewStore(cfg.Paths.TrustDir))
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(stdout, string(data))
	if !result.Verified() {
		return 1
	}
	return 0
}

// manifestFromBundle loads the manifest of an uninstalled bundle tree.
func manifestFromBundle(dir string) (*manifest.Manifest, error) {
	return manifest.Load(filepath.Join(dir, "spell.yaml"))
}

func trimNewline(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
