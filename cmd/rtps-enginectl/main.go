package main

import (
	"fmt"
	"os"

	"github.com/krakdds/rtps-engine/cmd/rtps-enginectl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
