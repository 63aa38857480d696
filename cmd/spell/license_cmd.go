package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/spellrun/spell/pkg/config"
	"github.com/spellrun/spell/pkg/license"
	"github.com/spellrun/spell/pkg/trust"
)

// runLicenseCmd implements `spell license <subcommand>`: the local store
// of entitlement tokens.
func runLicenseCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: spell license <add|list|inspect|remove|revoke|restore>")
		return 1
	}
	store := license.NewStore(cfg.Paths.LicensesDir)
	trustStore := trust.NewStore(cfg.Paths.TrustDir)

	switch args[0] {
	case "add":
		if len(args) != 3 {
			fmt.Fprintln(stderr, "usage: spell license add <name> <token>")
			return 1
		}
		rec, err := store.Add(args[1], args[2], trustStore)
		if err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "added license %s (issuer %s, mode %s, expires %s)\n",
			rec.Name, rec.Claims.Issuer, rec.Claims.Mode, rec.Claims.ExpiresAt.Format(time.RFC3339))
		return 0

	case "list":
		records, err := store.List()
		if err != nil {
			return fail(stderr, err)
		}
		for _, rec := range records {
			state := "active"
			if rec.Revoked {
				state = "revoked"
			}
			fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", rec.Name, rec.Claims.Mode, rec.Claims.Currency, state)
		}
		return 0

	case "inspect":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: spell license inspect <name>")
			return 1
		}
		rec, err := store.Get(args[1])
		if err != nil {
			return fail(stderr, err)
		}
		if rec == nil {
			fmt.Fprintf(stderr, "no license named %s\n", args[1])
			return 1
		}
		data, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0

	case "remove":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: spell license remove <name>")
			return 1
		}
		if err := store.Remove(args[1]); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "removed license %s\n", args[1])
		return 0

	case "revoke":
		cmd := flag.NewFlagSet("license revoke", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		reason := cmd.String("reason", "", "why the license is revoked")
		if err := cmd.Parse(args[1:]); err != nil {
			return 1
		}
		if cmd.NArg() != 1 {
			fmt.Fprintln(stderr, "usage: spell license revoke <name> [--reason R]")
			return 1
		}
		if err := store.Revoke(cmd.Arg(0), *reason); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "revoked license %s\n", cmd.Arg(0))
		return 0

	case "restore":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: spell license restore <name>")
			return 1
		}
		if err := store.Restore(args[1]); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "restored license %s\n", args[1])
		return 0

	default:
		fmt.Fprintf(stderr, "unknown license subcommand: %s\n", args[0])
		return 1
	}
}
