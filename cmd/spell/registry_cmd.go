package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/spellrun/spell/pkg/config"
	"github.com/spellrun/spell/pkg/registry"
)

// runRegistryCmd implements `spell registry <subcommand>`: the named
// bundle source index and its pin requirements.
func runRegistryCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: spell registry <add|remove|show|validate|resolve>")
		return 1
	}

	reg, err := registry.Load(cfg.Paths.RegistryPath)
	if err != nil {
		return fail(stderr, err)
	}

	switch args[0] {
	case "add", "set":
		cmd := flag.NewFlagSet("registry add", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		url := cmd.String("url", "", "source URL")
		commit := cmd.String("commit", "", "commit pin")
		dig := cmd.String("digest", "", "digest pin")
		if err := cmd.Parse(args[1:]); err != nil {
			return 1
		}
		if cmd.NArg() != 1 || *url == "" {
			fmt.Fprintln(stderr, "usage: spell registry add <name> --url URL [--commit C] [--digest D]")
			return 1
		}
		reg.Add(registry.Entry{Name: cmd.Arg(0), URL: *url, Commit: *commit, Digest: *dig})
		if err := reg.Validate(); err != nil {
			return fail(stderr, err)
		}
		if err := registry.Save(cfg.Paths.RegistryPath, reg); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "registry entry %s saved\n", cmd.Arg(0))
		return 0

	case "remove":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: spell registry remove <name>")
			return 1
		}
		if !reg.Remove(args[1]) {
			fmt.Fprintf(stderr, "registry: unknown entry %q\n", args[1])
			return 1
		}
		if err := registry.Save(cfg.Paths.RegistryPath, reg); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "registry entry %s removed\n", args[1])
		return 0

	case "show":
		data, _ := json.MarshalIndent(reg, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0

	case "validate":
		if err := reg.Validate(); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintln(stdout, "registry is valid")
		return 0

	case "resolve":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: spell registry resolve <name>")
			return 1
		}
		entry, err := reg.Resolve(args[1], cfg.Runtime.RequiredPins)
		if err != nil {
			return fail(stderr, err)
		}
		data, _ := json.MarshalIndent(entry, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0

	default:
		fmt.Fprintf(stderr, "unknown registry subcommand: %s\n", args[0])
		return 1
	}
}
