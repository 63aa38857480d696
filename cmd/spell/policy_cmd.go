package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/spellrun/spell/pkg/config"
	"github.com/spellrun/spell/pkg/policy"
)

// runPolicyCmd implements `spell policy <show|validate|set>`.
func runPolicyCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: spell policy <show|validate|set>")
		return 1
	}

	switch args[0] {
	case "show":
		p, err := policy.Load(cfg.Paths.PolicyPath)
		if err != nil {
			return fail(stderr, err)
		}
		data, _ := json.MarshalIndent(p, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0

	case "validate":
		cmd := flag.NewFlagSet("policy validate", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		file := cmd.String("file", cfg.Paths.PolicyPath, "policy file to validate")
		if err := cmd.Parse(args[1:]); err != nil {
			return 1
		}
		data, err := os.ReadFile(*file)
		if err != nil {
			return fail(stderr, fmt.Errorf("read policy: %w", err))
		}
		if _, err := policy.Parse(data); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintln(stdout, "policy is valid")
		return 0

	case "set":
		cmd := flag.NewFlagSet("policy set", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		file := cmd.String("file", "", "policy file to install")
		if err := cmd.Parse(args[1:]); err != nil {
			return 1
		}
		if *file == "" {
			fmt.Fprintln(stderr, "usage: spell policy set --file F")
			return 1
		}
		data, err := os.ReadFile(*file)
		if err != nil {
			return fail(stderr, fmt.Errorf("read policy: %w", err))
		}
		if err := policy.Save(cfg.Paths.PolicyPath, data); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "policy written to %s\n", cfg.Paths.PolicyPath)
		return 0

	default:
		fmt.Fprintf(stderr, "unknown policy subcommand: %s\n", args[0])
		return 1
	}
}
