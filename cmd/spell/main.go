// Command spell is the workflow-bundle toolchain: install and inspect
// bundles, cast them, manage trust keys, licenses, policy and the
// registry, and run the execution API server.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spellrun/spell/pkg/config"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the dispatcher; it exists so tests can drive the CLI without a
// process boundary.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 1
	}

	cfg := config.Load()

	switch args[1] {
	case "install":
		return runInstallCmd(cfg, args[2:], stdout, stderr)
	case "list":
		return runListCmd(cfg, args[2:], stdout, stderr)
	case "inspect":
		return runInspectCmd(cfg, args[2:], stdout, stderr)
	case "cast":
		return runCastCmd(cfg, args[2:], stdout, stderr)
	case "log":
		return runLogCmd(cfg, args[2:], stdout, stderr)
	case "get-output":
		return runGetOutputCmd(cfg, args[2:], stdout, stderr)
	case "registry":
		return runRegistryCmd(cfg, args[2:], stdout, stderr)
	case "trust":
		return runTrustCmd(cfg, args[2:], stdout, stderr)
	case "sign":
		return runSignCmd(cfg, args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(cfg, args[2:], stdout, stderr)
	case "license":
		return runLicenseCmd(cfg, args[2:], stdout, stderr)
	case "policy":
		return runPolicyCmd(cfg, args[2:], stdout, stderr)
	case "serve":
		return runServeCmd(cfg, args[2:], stdout, stderr)
	case "exec":
		// Hidden: in-container scheduler entrypoint for the docker runner.
		return runExecCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 1
	}
}

// fail prints the single-line failure and returns the CLI failure code.
func fail(stderr io.Writer, err error) int {
	fmt.Fprintln(stderr, err.Error())
	return 1
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: spell <command> [options]

Commands:
  install <dir>                      install a bundle from a local directory
  list                               list installed bundles
  inspect <id> [--version V]         show a bundle manifest
  cast <id> [options]                execute a bundle
  log <execution_id>                 show an execution receipt
  get-output <execution_id> <path>   print one output value
  registry <add|remove|show|validate|resolve>
  trust <add|list|inspect|remove-key|revoke-key|restore-key>
  sign <keygen|bundle>               generate keys / sign a bundle
  verify <id> [--version V]          verify a bundle signature
  license <add|list|inspect|remove|revoke|restore>
  policy <show|validate|set>         manage the execution policy
  serve                              run the execution API server

Cast options:
  --version V --input FILE -p key=value --dry-run --yes
  --allow-billing --require-signature --verbose`)
}
