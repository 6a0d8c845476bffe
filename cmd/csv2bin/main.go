// Command csv2bin converts a CSV plot file into the fixed-size binary
// format repsvr's antenna feed expects, filtering to a single node id.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dronenet/repsvr/plot"
)

var rootCmd = &cobra.Command{
	Use:   "csv2bin <input.csv> <output.bin> <node_id>",
	Short: "Convert a CSV plot file to binary, filtered to one node id",
	Args:  cobra.ExactArgs(3),
	RunE:  run,
}

func run(_ *cobra.Command, args []string) error {
	inputPath, outputPath, nodeArg := args[0], args[1], args[2]
	nodeID, err := strconv.ParseUint(nodeArg, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid node_id %q: %w", nodeArg, err)
	}

	fmt.Printf("Filtering to only node: %d\n", nodeID)
	fmt.Println("Reading in the CSV file.")

	store := plot.NewStore()
	if err := store.LoadCSV(inputPath); err != nil {
		return fmt.Errorf("reading %s: %w", inputPath, err)
	}
	count := store.Len()
	if count == 0 {
		fmt.Println("No data points in the file. Exiting without writing to output file.")
		return nil
	}

	for _, r := range store.Snapshot() {
		if uint64(r.NodeID) != nodeID {
			store.RemoveByNode(r.NodeID)
		}
	}

	fmt.Printf("Read in %d drone data points successfully.\n", count)
	fmt.Printf("Size: %d\n", store.Len())
	fmt.Printf("Writing to: %s\n", outputPath)
	if err := store.WriteBinary(outputPath); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}
	fmt.Printf("Wrote %d drone data points\n", store.Len())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
