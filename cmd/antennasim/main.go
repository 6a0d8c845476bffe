// Command antennasim generates a synthetic timeline of drone
// observations and writes it as a binary sim_data file, in the format
// repsvr run's antenna feed loads. A simplified stand-in for a real
// antenna: it invents positions on a random walk rather than replaying
// recorded traffic.
package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/dronenet/repsvr/plot"
)

var (
	simCount   int
	simDrones  int
	simNode    uint32
	simSpacing int
)

var rootCmd = &cobra.Command{
	Use:   "antennasim <output.bin>",
	Short: "Generate a synthetic binary plot timeline for repsvr run",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.IntVarP(&simCount, "count", "n", 100, "number of observations to generate")
	flags.IntVarP(&simDrones, "drones", "D", 5, "number of distinct drone ids to simulate")
	flags.Uint32VarP(&simNode, "node", "N", 1, "node_id to tag every generated observation with")
	flags.IntVarP(&simSpacing, "spacing", "s", 3, "average seconds between successive observations")
}

func run(_ *cobra.Command, args []string) error {
	outPath := args[0]
	if simCount <= 0 || simDrones <= 0 {
		return fmt.Errorf("count and drones must both be positive")
	}

	store := plot.NewStore()
	lat, lon := make([]float32, simDrones), make([]float32, simDrones)
	for i := range lat {
		lat[i] = float32(rand.Intn(180) - 90)
		lon[i] = float32(rand.Intn(360) - 180)
	}

	var ts int64
	for i := 0; i < simCount; i++ {
		drone := uint32(rand.Intn(simDrones) + 1)
		d := int(drone) - 1
		lat[d] += float32(rand.Intn(3)-1) * 0.1
		lon[d] += float32(rand.Intn(3)-1) * 0.1
		store.Add(drone, simNode, ts, lat[d], lon[d])
		ts += int64(rand.Intn(2*simSpacing + 1))
	}

	if err := store.WriteBinary(outPath); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	fmt.Printf("Wrote %d synthetic drone observations to %s\n", store.Len(), outPath)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
