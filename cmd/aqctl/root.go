package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/airpulse/airpulse/internal/app"
	"github.com/airpulse/airpulse/internal/config"
)

// Output formats.
const (
	outputText = "text"
	outputJSON = "json"
)

var errUnknownOutput = errors.New("unknown output format")

// cli holds state shared by every subcommand.
type cli struct {
	out    io.Writer
	errOut io.Writer

	offline  bool
	output   string
	logLevel string

	cfg      config.Config
	pipeline *app.App
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "aqctl",
		Short:         "Query the AirPulse air quality pipeline",
		Long:          "Runs the provider chain, caches and synthetic fallback in-process and prints the results.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if c.output != outputText && c.output != outputJSON {
				return fmt.Errorf("%w: %q", errUnknownOutput, c.output)
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.pipeline != nil {
				c.pipeline.Close()
			}
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.BoolVar(&c.offline, "offline", false, "skip all providers and serve synthetic data")
	flags.StringVarP(&c.output, "output", "o", outputText, "output format (text, json)")
	flags.StringVar(&c.logLevel, "log-level", "warn", "log level for pipeline diagnostics on stderr")

	root.AddCommand(
		c.currentCmd(),
		c.forecastCmd(),
		c.historyCmd(),
		c.providersCmd(),
		c.tablesCmd(),
		c.indexCmd(),
		c.migrateCmd(),
	)
	return root
}

// load reads the configuration and applies the global flags.
func (c *cli) load() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.offline {
		cfg.Providers.Order = nil
	}
	c.cfg = cfg
	return nil
}

// setup loads the configuration and assembles the pipeline.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := c.load(); err != nil {
		return err
	}
	pipeline, err := app.New(cmd.Context(), c.cfg, app.Options{Logger: c.logger()})
	if err != nil {
		return err
	}
	c.pipeline = pipeline
	return nil
}

func (c *cli) logger() zerolog.Logger {
	return app.NewLogger(zerolog.ConsoleWriter{Out: c.errOut, NoColor: true}, "aqctl", Version, c.logLevel)
}

func (c *cli) writeJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
