package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"bgp_controller/pkg"
	"bgp_controller/pkg/community"
	"bgp_controller/pkg/fib"
	"bgp_controller/pkg/metrics"
	"bgp_controller/pkg/prefix"
	"bgp_controller/pkg/rib"
	"bgp_controller/pkg/route"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by the subcommands
type app struct {
	v      *viper.Viper
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "bgpctl",
		Short: "BGP route controller",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := pkg.NewLogger(cmd.ErrOrStderr(), a.v.GetString("log-level"))
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}
	cmd.PersistentFlags().String("config", "config.yaml", "path to the configuration file")
	cmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	_ = a.v.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = a.v.BindPFlag("log-level", cmd.PersistentFlags().Lookup("log-level"))
	a.v.SetEnvPrefix("BGPCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cmd.AddCommand(
		newPrefixCmd(),
		newBestCmd(a),
		newLookupCmd(a),
		newEncodeCmd(a),
		newDecodeCmd(a),
		newServeCmd(a),
	)
	return cmd
}

func (a *app) loadTable() (*pkg.Config, *rib.Table, error) {
	cfg, err := pkg.LoadConfig(a.v.GetString("config"))
	if err != nil {
		return nil, nil, err
	}
	entries, err := cfg.RouteEntries(community.Parse)
	if err != nil {
		return nil, nil, err
	}
	table := rib.New(rib.WithLogger(a.logger))
	for _, e := range entries {
		if err := table.Update(e); err != nil {
			return nil, nil, err
		}
	}
	return cfg, table, nil
}

func newPrefixCmd() *cobra.Command {
	var contains string
	cmd := &cobra.Command{
		Use:   "prefix <prefix>...",
		Short: "Parse prefixes and show their canonical form",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var other prefix.Prefix
			if contains != "" {
				var err error
				if other, err = prefix.Parse(contains); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			for _, arg := range args {
				p, err := prefix.Parse(arg)
				if err != nil {
					return err
				}
				upper, lower := p.Netmask()
				fmt.Fprintf(out, "%s family=%s afi=%d safi=%d mask=%016x%016x",
					p, p.Family(), p.AFI(), p.SAFI(), upper, lower)
				if contains != "" {
					fmt.Fprintf(out, " contains(%s)=%t", other, p.Contains(other))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&contains, "contains", "", "report whether each prefix contains this one")
	return cmd
}

func newBestCmd(a *app) *cobra.Command {
	var flags struct {
		yaml     bool
		exportTo uint32
	}
	cmd := &cobra.Command{
		Use:   "best",
		Short: "Show the best configured route per prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, table, err := a.loadTable()
			if err != nil {
				return err
			}
			best := table.BestRoutes()
			if cmd.Flags().Changed("export-to") {
				best = table.Export(flags.exportTo)
			}
			out := cmd.OutOrStdout()
			if flags.yaml {
				msgs := make([]*pkg.BGPUpdateMessage, 0, len(best))
				for _, e := range best {
					msgs = append(msgs, pkg.NewBGPUpdateMessage(e))
				}
				enc := yaml.NewEncoder(out)
				defer enc.Close()
				return enc.Encode(msgs)
			}
			for _, e := range best {
				fmt.Fprintln(out, e)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.yaml, "yaml", false, "print announcements as YAML")
	cmd.Flags().Uint32Var(&flags.exportTo, "export-to", 0, "only show routes that may be exported to this ASN")
	return cmd
}

func newLookupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <address>",
		Short: "Find the best route covering an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, table, err := a.loadTable()
			if err != nil {
				return err
			}
			e, ok, err := table.Lookup(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("no route to %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), e)
			return nil
		},
	}
}

func newEncodeCmd(a *app) *cobra.Command {
	var flags struct {
		out   string
		batch int
	}
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Write the best configured routes as update frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, table, err := a.loadTable()
			if err != nil {
				return err
			}
			f, err := os.Create(flags.out)
			if err != nil {
				return errors.Wrap(err, "create output")
			}
			defer f.Close()

			best := table.BestRoutes()
			if err := pkg.NewUpdateWriter(f).WriteTable(best, flags.batch); err != nil {
				return err
			}
			a.logger.WithFields(logrus.Fields{"routes": len(best), "file": flags.out}).Info("table encoded")
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&flags.out, "out", "routes.bin", "output file")
	cmd.Flags().IntVar(&flags.batch, "batch", pkg.DefaultBatchSize, "routes per update frame")
	return cmd
}

func newDecodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <file>",
		Short: "Print routes read from update frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "open input")
			}
			defer f.Close()

			entries, err := pkg.NewUpdateReader(f).ReadTable()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintln(out, e)
			}
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the BGP speaker and keep the routing table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pkg.LoadConfig(a.v.GetString("config"))
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("log-level") && os.Getenv("BGPCTL_LOG_LEVEL") == "" {
				if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
					a.logger.SetLevel(lvl)
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cfg)
		},
	}
}

// bestChanged logs the announcement or withdrawal of a new best path and
// mirrors it into the kernel when installer is set
func (a *app) bestChanged(installer *fib.Installer) rib.BestChangeFunc {
	return func(p prefix.Prefix, best *route.Entry) {
		msg := pkg.NewWithdrawMessage(p)
		if best != nil {
			msg = pkg.NewBGPUpdateMessage(best)
		}
		a.logger.WithField("prefix", msg.Prefix).Info(msg.Announce)

		if installer == nil {
			return
		}
		if err := installer.Apply(p, best); err != nil {
			a.logger.WithError(err).WithField("prefix", p.String()).Warn("kernel update failed")
		}
	}
}

func (a *app) serve(ctx context.Context, cfg *pkg.Config) error {
	var installer *fib.Installer
	if cfg.Kernel.Install {
		installer = fib.NewInstaller(fib.WithProtocol(cfg.Kernel.Protocol), fib.WithLogger(a.logger))
	}

	table := rib.New(rib.WithLogger(a.logger), rib.OnBestChange(a.bestChanged(installer)))

	svc := pkg.NewBGPService(pkg.WithServiceLogger(a.logger))
	if err := svc.StartWithPort(cfg.BGP.Local.RouterID, cfg.BGP.Local.ASN, cfg.BGP.Local.ListenPort); err != nil {
		return err
	}
	defer svc.Stop()

	for _, n := range cfg.Peers() {
		if err := svc.AddNeighbor(n.PeerIP, n.ASN); err != nil {
			return err
		}
	}

	entries, err := cfg.RouteEntries(community.Parse)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := table.Update(e); err != nil {
			return err
		}
		if err := svc.Announce(ctx, e); err != nil {
			return err
		}
	}

	if err := svc.MonitorPrefixes(ctx, func(e *route.Entry, withdraw bool) {
		if withdraw {
			table.Withdraw(e.Peer(), e.Prefix())
			return
		}
		if err := table.Update(e); err != nil {
			a.logger.WithError(err).Warn("rejected learned route")
		}
	}); err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.WithError(err).Error("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	a.logger.WithField("routes", table.Len()).Info("controller running")
	<-ctx.Done()

	if installer != nil {
		if n, err := installer.Flush(); err != nil {
			a.logger.WithError(err).Warn("failed to flush kernel routes")
		} else {
			a.logger.WithField("routes", n).Info("kernel routes flushed")
		}
	}
	return nil
}
