package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dronenet/repsvr/plot"
)

var (
	dumpIn  string
	dumpOut string
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Convert a binary plot store dump to CSV, sorted by timestamp",
	RunE:  runDump,
}

func init() {
	RootCmd.AddCommand(dumpCmd)
	flags := dumpCmd.Flags()
	flags.StringVar(&dumpIn, "in", "", "binary plot store file to read (required)")
	flags.StringVar(&dumpOut, "out", "", "CSV file to write (required)")
	dumpCmd.MarkFlagRequired("in")
	dumpCmd.MarkFlagRequired("out")
}

func runDump(_ *cobra.Command, _ []string) error {
	store := plot.NewStore()
	if err := store.LoadBinary(dumpIn); err != nil {
		return fmt.Errorf("dump: reading %s: %w", dumpIn, err)
	}
	store.SortByTime()
	if err := store.WriteCSV(dumpOut); err != nil {
		return fmt.Errorf("dump: writing %s: %w", dumpOut, err)
	}
	fmt.Printf("%d records written to %s\n", store.Len(), dumpOut)
	return nil
}
