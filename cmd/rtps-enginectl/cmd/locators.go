package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// newLocatorsCommand reports the running engine's interned locator
// count, fetched the same way status does (the engine does not expose
// per-locator detail over the admin surface, only aggregate registry
// size, to keep the admin wire format stable as the locator interning
// scheme evolves).
func newLocatorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "locators",
		Short: "Print the running engine's locator registry size",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := fetchSnapshot(adminAddr)
			if err != nil {
				return err
			}
			count, ok := snap["interned_locators"]
			if !ok {
				return fmt.Errorf("rtps-enginectl: admin status snapshot has no interned_locators field")
			}
			color.New(color.Bold).Fprint(stdout, "interned locators: ")
			fmt.Fprintln(stdout, count)
			return nil
		},
	}
}
