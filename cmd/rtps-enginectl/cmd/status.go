package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func fetchSnapshot(addr string) (map[string]interface{}, error) {
	resp, err := http.Get(fmt.Sprintf("http://%s/status", addr))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rtps-enginectl: admin server returned %s", resp.Status)
	}
	var snap map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func newStatusCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a running engine's admin status snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := fetchSnapshot(adminAddr)
			if err != nil {
				return err
			}
			if asJSON || !isatty.IsTerminal(os.Stdout.Fd()) {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printSnapshot(snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "force machine-readable JSON output")
	return cmd
}

// printSnapshot renders a status snapshot as colorized key/value lines,
// the same human-vs-machine split the teacher's pkg/version applies to
// cli output: colors decorate a terminal, plain text otherwise.
func printSnapshot(snap map[string]interface{}) {
	bold := color.New(color.Bold)
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		bold.Fprintf(stdout, "%-14s", k)
		fmt.Fprintf(stdout, "%v\n", snap[k])
	}
}
