package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/contriboss/nativebind-go"
	"github.com/ternarybob/banner"
)

var version = "dev"

// configFiles collects repeated -config flags in order.
type configFiles []string

func (c *configFiles) String() string { return strings.Join(*c, ",") }

func (c *configFiles) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func main() {
	var configs configFiles
	flag.Var(&configs, "config", "Config file (TOML or YAML); repeat to layer overrides")
	stagingRoot := flag.String("staging", "", "Staging root; must not exist, its parent must (default: fresh temp dir)")
	timeout := flag.Duration("timeout", 45*time.Minute, "Abort the run after this long")
	checkOnly := flag.Bool("check", false, "Validate config and required tools, then exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	os.Exit(run(configs, *stagingRoot, *timeout, *checkOnly))
}

func run(configs []string, stagingRoot string, timeout time.Duration, checkOnly bool) int {
	banner.Print("nativebind", version)

	if len(configs) == 0 {
		if env := os.Getenv("NATIVEBIND_CONFIG"); env != "" {
			configs = []string{env}
		} else {
			configs = []string{"nativebind.toml"}
		}
	}

	config, err := nativebind.LoadConfig(configs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 2
	}
	if stagingRoot != "" {
		config.Staging.Root = stagingRoot
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	logger := nativebind.InitLogger(config.Logging)
	pipeline := nativebind.NewPipeline(config, nativebind.WithLogger(logger))

	if err := pipeline.CheckTools(); err != nil {
		logger.Error().Err(err).Msg("Toolchain check failed")
		return 2
	}
	if checkOnly {
		logger.Info().Strs("configs", configs).Msg("Config and toolchain OK")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := pipeline.Run(ctx)

	for _, warning := range result.Warnings {
		logger.Warn().Msg(warning)
	}
	for _, record := range result.Stages {
		if record.Err == nil {
			continue
		}
		for _, line := range record.Output {
			fmt.Fprintln(os.Stderr, line)
		}
		logger.Error().Err(record.Err).Str("stage", string(record.Stage)).Msg("Stage failed")
	}

	if !result.Success() {
		logger.Error().Err(result.Error).Str("run_id", result.RunID).Msg("Run failed")
		return 1
	}

	logger.Info().
		Str("revision", result.Revision).
		Str("archive", result.Archive).
		Str("binding", result.Binding).
		Msg("Binding published")
	return 0
}
