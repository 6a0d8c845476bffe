// Command keygen generates a fresh 128-bit AES shared key for the
// replication wire protocol and writes it to the given file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dronenet/repsvr/crypto"
)

var rootCmd = &cobra.Command{
	Use:   "keygen <output file>",
	Short: "Generate a 128-bit shared key for repsvr's encrypted wire protocol",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func run(_ *cobra.Command, args []string) error {
	outPath := args[0]
	if err := crypto.GenerateSharedKey(outPath); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	fmt.Printf("128 bit key generated and written to %s\n", outPath)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
