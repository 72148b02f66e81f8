package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/protoorch/pkg/discovery"
)

type browseFlags struct {
	protocol string
	timeout  time.Duration
}

func (c *cli) browseCmd() *cobra.Command {
	f := &browseFlags{}
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List protocol endpoints advertised over DNS-SD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.timeout > 0 {
				c.cfg.Discovery.BrowseTimeout = f.timeout
			}
			r, err := discovery.NewResolver(discovery.ResolverConfig{
				BrowseTimeout: c.cfg.Discovery.BrowseTimeout,
				LoggerFactory: c.loggerFactory,
			})
			if err != nil {
				return err
			}
			return c.browse(cmd, r, f.protocol)
		},
	}
	cmd.Flags().StringVarP(&f.protocol, "protocol", "p", "", "only list endpoints of this protocol")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "browse duration (overrides discovery.browse_timeout)")
	return cmd
}

func (c *cli) browse(cmd *cobra.Command, r *discovery.Resolver, name string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var (
		services <-chan discovery.ResolvedService
		err      error
	)
	if name == "" {
		services, err = r.Browse(ctx)
	} else {
		services, err = r.BrowseProtocol(ctx, name)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tPROTOCOL\tMODES\tHANDSHAKE\tADDRESS")
	found := 0
	for svc := range services {
		found++
		if svc.TXT == nil {
			fmt.Fprintf(w, "%s\t?\t?\t?\t%s\n", svc.InstanceName, svc.Addr())
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			svc.InstanceName, svc.TXT.Protocol, svc.TXT.Modes, svc.TXT.Handshake, svc.URL())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	c.log.Debugf("browse finished with %d endpoints", found)
	return nil
}
