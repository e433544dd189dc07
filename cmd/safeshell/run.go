package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const binaryName = "safeshell"

// Run is the testable entry point, isolated from global state (stdin,
// stdout, stderr, argv, environment) the way cmd/agent-sandbox/run.go's Run
// is. sigCh may be nil when signal handling is not needed (e.g. in tests).
func Run(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if len(args) == 0 {
		printUsage(stdout)
		return 0
	}

	// argv0 multicall dispatch: if invoked as anything other than the
	// canonical binary name (e.g. a shell-shim symlink named after the
	// user's real shell), treat it as the exec subcommand, forwarding the
	// raw command line the way cmd/agent-sandbox/multicall.go dispatches
	// on its own binary name.
	invoked := filepath.Base(args[0])
	if invoked != binaryName && invoked != "" {
		return cmdExec(stdin, stdout, stderr, args[1:], env, sigCh)
	}

	if len(args) < 2 {
		printUsage(stdout)
		return 0
	}

	switch args[1] {
	case "daemon":
		return cmdDaemon(stdin, stdout, stderr, args[2:], env, sigCh)
	case "exec":
		return cmdExec(stdin, stdout, stderr, args[2:], env, sigCh)
	case "hook":
		return cmdHook(stdin, stdout, stderr, args[2:], env)
	case "config":
		return cmdConfig(stdin, stdout, stderr, args[2:], env)
	case "monitor":
		return cmdMonitor(stdin, stdout, stderr, args[2:], env, sigCh)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "safeshell: unknown subcommand %q\n\n", args[1])
		printUsage(stderr)
		return 1
	}
}

const usageText = `safeshell - policy daemon for AI-agent and human shell commands

Usage: safeshell <subcommand> [flags]

Subcommands:
  daemon    Start the policy daemon (foreground by default)
  exec      Evaluate and execute one command through the daemon (the wrapper)
  hook      External tool-call hook adapter (stdin JSON in, exit code out)
  config    Print effective configuration, or write a default config file
  monitor   Minimal terminal monitor client for scripting/debugging

Run "safeshell <subcommand> --help" for subcommand flags.`

func printUsage(w io.Writer) {
	fmt.Fprintln(w, usageText)
}
