package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is repsvr's entry point. Exported so a future wrapper binary
// could add subcommands without touching this package.
var RootCmd = &cobra.Command{
	Use:   "repsvr",
	Short: "Drone-plot replication node",
}

var rootConfigFlag string
var rootVerbosity int

func init() {
	RootCmd.PersistentFlags().StringVar(&rootConfigFlag, "config", "", "path to the node's YAML runtime config (default: built-in defaults)")
	RootCmd.PersistentFlags().IntVarP(&rootVerbosity, "verbosity", "v", 0, "verbosity 0-3, 3=max")
}

// ConfigureVerbosity maps the -v 0..3 flag onto logrus levels. Needs
// to be called by any subcommand that logs.
func ConfigureVerbosity() {
	switch {
	case rootVerbosity >= 3:
		log.SetLevel(log.TraceLevel)
	case rootVerbosity == 2:
		log.SetLevel(log.DebugLevel)
	case rootVerbosity == 1:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}

// Execute runs the CLI, exiting non-zero on any command error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
