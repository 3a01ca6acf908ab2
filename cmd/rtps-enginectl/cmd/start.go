package cmd

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/krakdds/rtps-engine/pkg/admin"
	"github.com/krakdds/rtps-engine/pkg/config"
	"github.com/krakdds/rtps-engine/pkg/engine"
	"github.com/krakdds/rtps-engine/pkg/locator"
	"github.com/krakdds/rtps-engine/pkg/participant"
	"github.com/krakdds/rtps-engine/pkg/security"
)

func newStartCommand() *cobra.Command {
	var listenAddr string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an engine participant and block until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
			d := config.Default()
			config.AddFlags(fs, &d)
			if err := fs.Parse(nil); err != nil {
				return err
			}

			path := configFile
			if path == "" {
				path = os.Getenv("RTPS_CONFIG")
			}
			cfg, v, err := config.Load(fs, path)
			if err != nil {
				return err
			}

			dom, err := engine.New(cfg, participant.VendorID{0x01, 0x0f}, security.NoopPlugin{}, nil)
			if err != nil {
				return err
			}
			config.WatchReload(v, func(reloaded config.Config) {
				dom.Config = reloaded
			})

			if err := dom.RegisterUDP(locator.KindUDPv4, listenAddr); err != nil {
				return err
			}

			adm := admin.New(dom)
			lis, err := net.Listen("tcp", metricsAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := adm.ServeHTTP(lis); err != nil {
					log.WithError(err).Error("admin: HTTP server exited")
				}
			}()

			ctx, cancel := context.WithCancel(context.Background())
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-stop
				log.Info("rtps-enginectl: received shutdown signal")
				cancel()
			}()

			log.WithFields(log.Fields{"listen": listenAddr, "admin": metricsAddr}).Info("rtps-enginectl: starting engine")
			err = dom.Run(ctx)
			dom.Stop()
			return err
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:7400", "UDPv4 address to listen for RTPS traffic on")
	cmd.Flags().StringVar(&metricsAddr, "admin-listen", "0.0.0.0:9980", "address to serve /metrics and /status on")
	return cmd
}
