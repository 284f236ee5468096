// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Command presentctl inspects and exercises the
// presentation engine.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/driver/icd"
	_ "github.com/gviegas/present/driver/soft"
	"github.com/gviegas/present/internal/config"
	"github.com/gviegas/present/wsi"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(0)
	}
	switch os.Args[1] {
	case "displays":
		os.Exit(runDisplays(os.Args[2:]))
	case "formats":
		os.Exit(runFormats(os.Args[2:]))
	case "demo":
		os.Exit(runDemo(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(2)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: presentctl <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  displays            List displays, planes and modes")
	fmt.Fprintln(w, "  formats             List surface formats and present modes")
	fmt.Fprintln(w, "  demo                Run an acquire/present loop")
	fmt.Fprintln(w, "  config print        Print the effective configuration")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "  %-19s Vendor driver library (selects the icd driver)\n", config.EnvICD)
	fmt.Fprintf(w, "  %-19s Log level (debug, info, warn, error)\n", config.EnvLogLevel)
}

// commonFlags are accepted by every command.
type commonFlags struct {
	path string
	json bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.path, "config", "", "Config file path (default: ~/.config/present/config.yaml)")
	fs.BoolVar(&c.json, "json", false, "Print JSON instead of text")
}

func (c *commonFlags) load() (*config.Config, error) {
	if c.path == "" {
		return config.Load()
	}
	return config.LoadFromPath(c.path)
}

// newLogger returns a text logger when w is a terminal
// and a JSON logger otherwise.
func newLogger(w *os.File, lvl slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lvl}
	if term.IsTerminal(int(w.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// setup loads the config, installs the logger and opens
// the configured driver.
func setup(c *commonFlags) (*config.Config, *slog.Logger, driver.Driver, driver.Bridge, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	log := newLogger(os.Stderr, cfg.Level())
	wsi.SetLogger(log)
	drv := driver.Find(cfg.Driver)
	if drv == nil {
		return nil, nil, nil, nil, fmt.Errorf("driver %q not registered", cfg.Driver)
	}
	if d, ok := drv.(*icd.Driver); ok && cfg.ICDPath != "" {
		d.Path = cfg.ICDPath
	}
	b, err := drv.Open()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("driver %q: %w", cfg.Driver, err)
	}
	return cfg, log, drv, b, nil
}

func runConfig(args []string) int {
	if len(args) == 0 || args[0] != "print" {
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  presentctl config print [--config PATH] [--defaults]")
		return 2
	}
	fs := flag.NewFlagSet("print", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var cf commonFlags
	fs.StringVar(&cf.path, "config", "", "Config file path (default: ~/.config/present/config.yaml)")
	defaults := fs.Bool("defaults", false, "Print built-in defaults (no files)")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	cfg := config.Default()
	if !*defaults {
		var err error
		if cfg, err = cf.load(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	data, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}
