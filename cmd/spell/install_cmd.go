package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/spellrun/spell/pkg/config"
	"github.com/spellrun/spell/pkg/install"
)

// runInstallCmd implements `spell install <dir>`: copy a local bundle
// directory into the store.
func runInstallCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("install", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 1
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: spell install <dir>")
		return 1
	}

	store := install.NewStore(cfg.Paths.SpellsDir)
	bundle, err := store.InstallLocal(cmd.Arg(0))
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "installed %s -> %s\n", bundle.Manifest.Ref(), bundle.Path)
	return 0
}

func runListCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("list", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOut := cmd.Bool("json", false, "output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 1
	}

	store := install.NewStore(cfg.Paths.SpellsDir)
	bundles, err := store.List()
	if err != nil {
		return fail(stderr, err)
	}
	if *jsonOut {
		type entry struct {
			ID      string `json:"id"`
			Version string `json:"version"`
			Name    string `json:"name"`
			Risk    string `json:"risk"`
			Path    string `json:"path"`
		}
		out := make([]entry, 0, len(bundles))
		for _, b := range bundles {
			out = append(out, entry{b.Manifest.ID, b.Manifest.Version, b.Manifest.Name, b.Manifest.Risk, b.Path})
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}
	for _, b := range bundles {
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", b.Manifest.Ref(), b.Manifest.Risk, b.Manifest.Name)
	}
	return 0
}

func runInspectCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("inspect", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	version := cmd.String("version", "", "bundle version (default: latest installed)")
	if err := cmd.Parse(args); err != nil {
		return 1
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: spell inspect <id> [--version V]")
		return 1
	}

	store := install.NewStore(cfg.Paths.SpellsDir)
	bundle, err := store.Resolve(cmd.Arg(0), *version)
	if err != nil {
		return fail(stderr, err)
	}
	out := map[string]any{
		"manifest": bundle.Manifest,
		"path":     bundle.Path,
	}
	if bundle.Source != nil {
		out["source"] = bundle.Source
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(stdout, string(data))
	return 0
}
