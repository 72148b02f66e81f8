package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backkem/protoorch/examples/echo"
)

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the protocol it builds",
		Long: `Load the configuration, build the echo protocol with the configured
handshake and report every problem found. Without --config the defaults
are checked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hf, err := handshakeFactory(c.cfg, c.loggerFactory)
			if err != nil {
				return err
			}
			p, err := echo.NewProtocol(hf)
			if err != nil {
				return fmt.Errorf("protocol: %w", err)
			}

			source := c.cfgFile
			if source == "" {
				source = "defaults"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", source)
			fmt.Fprintf(out, "  transport: %s %s\n", c.cfg.TransportKind(), c.cfg.Transport.Listen)
			fmt.Fprintf(out, "  handshake: %s (%s)\n", c.cfg.Handshake.Kind, p.Handshake.Type)
			fmt.Fprintf(out, "  protocol:  %s, %d modes\n", p.Name, len(p.Modes))
			return nil
		},
	}
}
