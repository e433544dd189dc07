package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/config"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/events"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/monitorclient"
)

// cmdMonitor is a minimal terminal monitor client (C8's CLI front-end) for
// scripting and debugging: it prints every event the daemon publishes as one
// JSON line and accepts simple line commands on stdin to drive approvals.
//
// Commands: "approve <id> [remember]", "deny <id> [reason...]", "ping",
// "status", "enable", "disable", "reload".
func cmdMonitor(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	flags := flag.NewFlagSet("monitor", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	stateDir, err := config.StateDir(env)
	if err != nil {
		fmt.Fprintln(stderr, "safeshell monitor:", err)
		return 1
	}

	client, err := monitorclient.Connect(stateDir+"/monitor.sock", nil)
	if err != nil {
		fmt.Fprintln(stderr, "safeshell monitor: connecting:", err)
		return 1
	}
	defer client.Close()

	client.OnEvent(func(ev events.Event) {
		enc, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintln(stdout, string(enc))
	})

	done := make(chan struct{})
	go func() {
		client.Run()
		close(done)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-done:
			fmt.Fprintln(stderr, "safeshell monitor: daemon closed the connection")
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			dispatchMonitorLine(client, stdout, stderr, line)
		case <-sigCh:
			return 0
		}
	}
}

func dispatchMonitorLine(client *monitorclient.Client, stdout, stderr io.Writer, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	var (
		resp interface{}
		err  error
	)
	switch fields[0] {
	case "approve":
		if len(fields) < 2 {
			fmt.Fprintln(stderr, "usage: approve <id> [remember]")
			return
		}
		remember := len(fields) > 2 && fields[2] == "remember"
		resp, err = client.Approve(fields[1], remember)
	case "deny":
		if len(fields) < 2 {
			fmt.Fprintln(stderr, "usage: deny <id> [reason...]")
			return
		}
		reason := ""
		if len(fields) > 2 {
			reason = strings.Join(fields[2:], " ")
		}
		resp, err = client.Deny(fields[1], reason, false)
	case "ping":
		resp, err = client.Ping()
	case "status":
		resp, err = client.GetStatus()
	case "enable":
		resp, err = client.SetEnabled(true)
	case "disable":
		resp, err = client.SetEnabled(false)
	case "reload":
		resp, err = client.ReloadRules()
	default:
		fmt.Fprintf(stderr, "safeshell monitor: unknown command %q\n", fields[0])
		return
	}

	if err != nil {
		fmt.Fprintln(stderr, "safeshell monitor:", err)
		return
	}
	enc, _ := json.Marshal(resp)
	fmt.Fprintln(stdout, string(enc))
}
