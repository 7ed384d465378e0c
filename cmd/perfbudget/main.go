package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tinytelemetry/perfbudget/internal/config"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

var errUsage = errors.New("usage: perfbudget [-config file] [-datafile path] replay [-format json|yaml] | check | serve")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("perfbudget", flag.ContinueOnError)
	var configPath, datafile string
	var showVersion bool
	fs.StringVar(&configPath, "config", "", "config file (default is ./perfbudget.yml)")
	fs.StringVar(&datafile, "datafile", "", "results log file, overrides datafile-path")
	fs.BoolVar(&showVersion, "version", false, "print version information")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVersion {
		fmt.Fprintf(stdout, "perfbudget - query budget checks\n")
		fmt.Fprintf(stdout, "  Version:    %s\n", version)
		fmt.Fprintf(stdout, "  Commit:     %s\n", commit)
		fmt.Fprintf(stdout, "  Built:      %s\n", buildTime)
		fmt.Fprintf(stdout, "  Go version: %s\n", goVersion)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if datafile != "" {
		cfg.DatafilePath = datafile
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}
	switch rest[0] {
	case "replay":
		sub := flag.NewFlagSet("replay", flag.ContinueOnError)
		format := sub.String("format", "json", "output format: json or yaml")
		if err := sub.Parse(rest[1:]); err != nil {
			return err
		}
		return runReplay(cfg, *format, stdout)
	case "check":
		return runCheck(cfg, stdout)
	case "serve":
		return runServe(cfg)
	}
	return fmt.Errorf("unknown command %q: %w", rest[0], errUsage)
}
