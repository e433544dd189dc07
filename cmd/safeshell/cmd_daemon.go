package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/sirupsen/logrus"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/approval"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/cctx"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/config"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/daemon"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/events"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/logging"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/rules"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/watch"
	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/wsbridge"
)

// cmdDaemon starts the policy daemon in the foreground: it wires C1-C9 per
// the data-flow order (event bus -> approval manager -> session memory ->
// rule cache/evaluator -> builder), binds both Unix sockets, and blocks
// until sigCh fires (a nil sigCh shuts down immediately after startup).
func cmdDaemon(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	flags := flag.NewFlagSet("daemon", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flagConfig := flags.String("config", "", "Path to an explicit config file")
	flagCwd := flags.StringP("cwd", "C", "", "Working directory to use for repo-rule discovery")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	stateDir, err := config.StateDir(env)
	if err != nil {
		fmt.Fprintln(stderr, "safeshell daemon:", err)
		return 1
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		fmt.Fprintln(stderr, "safeshell daemon:", err)
		return 1
	}

	workingDir := *flagCwd
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}

	cfg, err := config.LoadConfig(config.LoadInput{
		WorkingDir: workingDir,
		ConfigPath: *flagConfig,
		Env:        env,
		CLIFlags:   flags,
	})
	if err != nil {
		fmt.Fprintln(stderr, "safeshell daemon: loading config:", err)
		return 1
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = filepath.Join(stateDir, "daemon.log")
	}
	logger, err := logging.New(cfg.LogLevel, logFile)
	if err != nil {
		fmt.Fprintln(stderr, "safeshell daemon: setting up logging:", err)
		return 1
	}

	bus := events.NewBus(logger)
	approvalTimeout := time.Duration(cfg.ApprovalTimeoutSeconds) * time.Second
	approvals := approval.NewManager(bus, approvalTimeout, logger)
	memoryTTL := time.Duration(cfg.ApprovalMemoryTTLSeconds) * time.Second
	memory := approval.NewSessionMemory(memoryTTL)

	globalRulesPath := filepath.Join(stateDir, "rules.yaml")
	loader := rules.NewLoader(logger, globalRulesPath)
	ruleCache := rules.NewRuleCache(loader)
	conditionCache := rules.NewConditionCache(5*time.Second, 10000)
	builder := cctx.NewBuilder()

	manager := daemon.NewManager(bus, ruleCache, conditionCache, builder, approvals, memory, approvalTimeout, logger)
	manager.SetConditionTimeout(time.Duration(cfg.ConditionTimeoutMS) * time.Millisecond)

	shellConfigPath, err := config.ShellConfigPath(env)
	if err != nil {
		fmt.Fprintln(stderr, "safeshell daemon:", err)
		return 1
	}
	if err := config.WriteShellConfig(shellConfigPath, cfg); err != nil {
		logger.WithError(err).Warn("failed to write shell config")
	}

	srvCfg := daemon.Config{
		RequestSocketPath: filepath.Join(stateDir, "daemon.sock"),
		MonitorSocketPath: filepath.Join(stateDir, "monitor.sock"),
		PIDFilePath:       filepath.Join(stateDir, "daemon.pid"),
	}
	server := daemon.NewServer(srvCfg, manager, bus, logger)

	if err := server.Start(); err != nil {
		fmt.Fprintln(stderr, "safeshell daemon:", err)
		return 1
	}

	watcher, watchedFiles := startRuleWatcher(logger, ruleCache, bus, globalRulesPath, workingDir)
	if watcher != nil {
		go watcher.Run(watchedFiles)
		defer watcher.Close()
	}

	if cfg.MonitorWSAddr != "" {
		go serveWSBridge(cfg.MonitorWSAddr, bus, logger)
	}

	go server.Serve()

	if sigCh != nil {
		<-sigCh
	}
	server.Shutdown()
	return 0
}

// startRuleWatcher wires fsnotify-driven rule-cache invalidation (C15) for
// the global rule file and, if one is discoverable, the working directory's
// repo-local rule file. Returns a nil watcher if construction fails (not
// fatal to daemon startup — reload_rules remains available explicitly).
func startRuleWatcher(logger *logrus.Logger, ruleCache *rules.RuleCache, bus *events.Bus, globalRulesPath, workingDir string) (*watch.Watcher, map[string]bool) {
	watched := map[string]bool{filepath.Clean(globalRulesPath): true}
	if repoPath, ok := rules.FindRepoRules(workingDir); ok {
		watched[filepath.Clean(repoPath)] = true
	}

	w, err := watch.New(ruleCache, func(path string) {
		bus.Publish(events.NewDaemonStatus("rules_reloaded", 0, 0, 0))
		logger.WithField("file", path).Info("rule file changed; cache invalidated")
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("rule file watcher unavailable")
		return nil, nil
	}

	for path := range watched {
		if err := w.Add(path); err != nil {
			logger.WithError(err).WithField("file", path).Warn("failed to watch rule file")
		}
	}

	return w, watched
}

func serveWSBridge(addr string, bus *events.Bus, logger *logrus.Logger) {
	if err := http.ListenAndServe(addr, wsbridge.New(bus, logger)); err != nil {
		logger.WithError(err).Warn("monitor websocket bridge stopped")
	}
}
