package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/backkem/protoorch/pkg/config"
)

// cli is the state shared by all subcommands.
type cli struct {
	// Global flags
	cfgFile  string
	logLevel string

	// Set during PersistentPreRunE
	cfg           *config.Config
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "protoorch",
		Short: "Run and probe protocol orchestration endpoints",
		Long: `protoorch serves and dials the echo protocol over TCP or WebSocket,
browses DNS-SD for advertised endpoints and checks configuration files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "configuration file (.toml, .yaml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		c.serveCmd(),
		c.dialCmd(),
		c.browseCmd(),
		c.validateCmd(),
	)
	return root
}

// load reads the configuration file, or the defaults when none is given,
// and applies flag overrides.
func (c *cli) load(logOut io.Writer) error {
	if c.cfgFile == "" {
		cfg := config.Default()
		c.cfg = &cfg
	} else {
		cfg, err := config.Load(c.cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		c.cfg = cfg
	}

	if c.logLevel != "" {
		if _, err := config.ParseLevel(c.logLevel); err != nil {
			return err
		}
		c.cfg.Log.Level = c.logLevel
	}

	c.loggerFactory = c.cfg.LoggerFactory(logOut)
	c.log = c.loggerFactory.NewLogger("protoorch")
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
