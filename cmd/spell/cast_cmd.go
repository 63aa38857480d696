package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spellrun/spell/pkg/cast"
	"github.com/spellrun/spell/pkg/config"
	"github.com/spellrun/spell/pkg/receipt"
	"github.com/spellrun/spell/pkg/template"
)

type paramFlags []string

func (p *paramFlags) String() string { return fmt.Sprint(*p) }

func (p *paramFlags) Set(v string) error {
	*p = append(*p, v)
	return nil
}

// runCastCmd implements `spell cast <id>`: the full admission-gate and
// execution sequence, with the receipt path printed on completion.
func runCastCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("cast", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var params paramFlags
	version := cmd.String("version", "", "bundle version (default: latest installed)")
	inputFile := cmd.String("input", "", "JSON input file")
	dryRun := cmd.Bool("dry-run", false, "run the gates but no steps")
	yes := cmd.Bool("yes", false, "acknowledge high/critical risk")
	allowBilling := cmd.Bool("allow-billing", false, "acknowledge billing")
	requireSig := cmd.Bool("require-signature", false, "fail unless the bundle signature verifies")
	allowUnsigned := cmd.Bool("allow-unsigned", false, "accept unsigned bundles (default)")
	verbose := cmd.Bool("verbose", false, "verbose logging")
	cmd.Var(&params, "p", "set an input value, key=value (repeatable)")
	if err := cmd.Parse(args); err != nil {
		return 1
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: spell cast <id> [options]")
		return 1
	}
	if *requireSig && *allowUnsigned {
		fmt.Fprintln(stderr, "cannot combine --require-signature and --allow-unsigned")
		return 1
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	var inputJSON []byte
	if *inputFile != "" {
		data, err := os.ReadFile(*inputFile)
		if err != nil {
			return fail(stderr, fmt.Errorf("read input file: %w", err))
		}
		inputJSON = data
	}

	caster, err := cast.New(cfg)
	if err != nil {
		return fail(stderr, err)
	}
	caster.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := caster.Cast(ctx, cast.Options{
		ID:               cmd.Arg(0),
		Version:          *version,
		InputJSON:        inputJSON,
		Params:           params,
		DryRun:           *dryRun,
		Yes:              *yes,
		AllowBilling:     *allowBilling,
		RequireSignature: *requireSig,
	})
	if rec != nil {
		fmt.Fprintf(stdout, "execution_id: %s\n", rec.ExecutionID)
		fmt.Fprintf(stdout, "receipt: %s\n", caster.Receipts.Path(rec.ExecutionID))
	}
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, "success")
	return 0
}

// runLogCmd implements `spell log <execution_id>`.
func runLogCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("log", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 1
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: spell log <execution_id>")
		return 1
	}

	writer := receipt.NewWriter(cfg.Paths.LogsDir)
	rec, err := writer.Read(cmd.Arg(0))
	if err != nil {
		return fail(stderr, err)
	}
	data, _ := json.MarshalIndent(rec, "", "  ")
	fmt.Fprintln(stdout, string(data))
	return 0
}

// runGetOutputCmd implements `spell get-output <execution_id> <path>`.
func runGetOutputCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("get-output", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 1
	}
	if cmd.NArg() != 2 {
		fmt.Fprintln(stderr, "usage: spell get-output <execution_id> <path>")
		return 1
	}

	writer := receipt.NewWriter(cfg.Paths.LogsDir)
	rec, err := writer.Read(cmd.Arg(0))
	if err != nil {
		return fail(stderr, err)
	}
	value, err := template.ResolveOutputReference(rec.Outputs, cmd.Arg(1))
	if err != nil {
		return fail(stderr, err)
	}
	if s, ok := value.(string); ok {
		fmt.Fprintln(stdout, s)
		return 0
	}
	data, _ := json.MarshalIndent(value, "", "  ")
	fmt.Fprintln(stdout, string(data))
	return 0
}
