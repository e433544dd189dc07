package main

import (
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/config"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/hook"
)

// cmdHook is the external tool-call hook adapter entry point (C13): it reads
// one JSON tool-call payload from stdin and exits 0 (allow) or 2 (block) per
// spec.md §6, never hanging the host on daemon trouble.
func cmdHook(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int {
	flags := flag.NewFlagSet("hook", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		return hook.ExitAllow
	}

	stateDir, err := config.StateDir(env)
	if err != nil {
		fmt.Fprintln(stderr, "safeshell hook: resolving state dir, allowing:", err)
		return hook.ExitAllow
	}

	opts := hook.Options{
		SocketPath: stateDir + "/daemon.sock",
		Env:        env,
		Stdin:      stdin,
		Stderr:     stderr,
	}
	return hook.Run(opts)
}
