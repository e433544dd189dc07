package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/config"
)

// cmdConfig prints the effective configuration (layered defaults + global +
// project, annotated with which files contributed) or, with
// --write, writes the built-in defaults to the user-global config path —
// grounded on the teacher's debug-source-tracking config loader.
func cmdConfig(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int {
	flags := flag.NewFlagSet("config", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flagWrite := flags.Bool("write", false, "Write the built-in default config to the user-global config path")
	flagForce := flags.Bool("force", false, "Overwrite an existing global config file with --write")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if *flagWrite {
		return writeDefaultConfig(stderr, env, *flagForce)
	}

	workingDir, _ := os.Getwd()
	cfg, err := config.LoadConfig(config.LoadInput{WorkingDir: workingDir, Env: env})
	if err != nil {
		fmt.Fprintln(stderr, "safeshell config:", err)
		return 1
	}

	sources := cfg.LoadedConfigFiles
	cfg.LoadedConfigFiles = nil
	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintln(stderr, "safeshell config: encoding effective config:", err)
		return 1
	}
	fmt.Fprint(stdout, string(out))

	if len(sources) == 0 {
		fmt.Fprintln(stdout, "\n# sources: built-in defaults only")
		return 0
	}
	keys := make([]string, 0, len(sources))
	for k := range sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(stdout, "\n# sources:")
	for _, k := range keys {
		fmt.Fprintf(stdout, "#   %s: %s\n", k, sources[k])
	}
	return 0
}

func writeDefaultConfig(stderr io.Writer, env map[string]string, force bool) int {
	base, err := config.UserConfigBasePath(env)
	if err != nil {
		fmt.Fprintln(stderr, "safeshell config:", err)
		return 1
	}
	path := base + ".yaml"

	if !force {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(stderr, "safeshell config: %s already exists; pass --force to overwrite\n", path)
			return 1
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		fmt.Fprintln(stderr, "safeshell config:", err)
		return 1
	}

	defaults := config.DefaultConfig()
	out, err := yaml.Marshal(defaults)
	if err != nil {
		fmt.Fprintln(stderr, "safeshell config: encoding defaults:", err)
		return 1
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		fmt.Fprintln(stderr, "safeshell config:", err)
		return 1
	}
	fmt.Fprintf(stderr, "safeshell config: wrote defaults to %s\n", path)
	return 0
}
