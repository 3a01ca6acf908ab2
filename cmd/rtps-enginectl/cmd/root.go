// Package cmd implements rtps-enginectl: a small operator-facing CLI
// around one engine.Domain process, the same shape as the teacher's
// multicluster/cmd commands — a root command carrying shared
// persistent flags, with one subcommand per operation.
package cmd

import (
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// special handling for Windows; on every other platform these
	// resolve to os.Stdout/os.Stderr (see github.com/mattn/go-colorable).
	stdout = color.Output
	stderr = color.Error

	verbose    bool
	adminAddr  string
	configFile string
)

// NewRootCmd builds rtps-enginectl's command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rtps-enginectl",
		Short: "Operate and introspect an RTPS protocol engine process",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.WarnLevel)
			}
			return nil
		},
	}

	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "turn on debug logging")
	root.PersistentFlags().StringVar(&adminAddr, "admin-addr", "localhost:9980", "address of a running engine's admin HTTP server")
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML/JSON/TOML config file (env RTPS_CONFIG)")

	root.AddCommand(newStartCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newLocatorsCommand())

	return root
}
