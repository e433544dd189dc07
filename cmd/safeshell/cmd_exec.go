package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/config"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/wrapperclient"
)

// cmdExec is the wrapper entry point (C7): it forwards one raw command line
// to the daemon's request socket and executes or blocks per the verdict.
// Invoked either as "safeshell exec -- <command>" or via argv0 multicall
// when installed as a shell shim.
func cmdExec(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	flags := flag.NewFlagSet("exec", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.SetOutput(io.Discard)
	flagCommand := flags.StringP("command", "c", "", "Raw command string to evaluate and execute")
	flagCwd := flags.StringP("cwd", "C", "", "Working directory to evaluate against")
	flagHuman := flags.Bool("human", false, "Evaluate as a human-issued command rather than an AI tool call")
	flagNoAutoStart := flags.Bool("no-auto-start", false, "Do not spawn the daemon if its socket is absent")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	command := *flagCommand
	if command == "" {
		command = strings.Join(flags.Args(), " ")
	}
	if command == "" {
		fmt.Fprintln(stderr, "safeshell exec: no command specified")
		return 1
	}

	workingDir := *flagCwd
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}

	cfg, err := config.LoadConfig(config.LoadInput{WorkingDir: workingDir, Env: env})
	if err != nil {
		fmt.Fprintln(stderr, "safeshell exec: loading config:", err)
		return 1
	}

	stateDir, err := config.StateDir(env)
	if err != nil {
		fmt.Fprintln(stderr, "safeshell exec:", err)
		return 1
	}

	executionContext := "ai"
	if *flagHuman {
		executionContext = "human"
	}

	opts := wrapperclient.Options{
		SocketPath:          stateDir + "/daemon.sock",
		Command:             command,
		WorkingDir:          workingDir,
		Env:                 env,
		ExecutionContext:    executionContext,
		UnreachableBehavior: cfg.UnreachableBehavior,
		DelegateShell:       cfg.DelegateShell,
		AutoStart:           !*flagNoAutoStart,
		AutoStartArgv:       []string{selfPath(), "daemon"},
		AutoStartWait:       3 * time.Second,
		Stdin:               stdin,
		Stdout:              stdout,
		Stderr:              stderr,
	}
	return wrapperclient.Run(opts)
}

// selfPath resolves the path to the running binary, for auto-starting the
// daemon as a detached child of the same executable.
func selfPath() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return os.Args[0]
}
