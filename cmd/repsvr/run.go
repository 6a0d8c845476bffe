package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/netip"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dronenet/repsvr/config"
	"github.com/dronenet/repsvr/control"
	"github.com/dronenet/repsvr/plot"
)

var (
	runAddr        string
	runPort        uint16
	runMult        float64
	runOutfile     string
	runDuration    int
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run <sim_data>",
	Short: "Run one replication node against a simulated antenna feed",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	RootCmd.AddCommand(runCmd)
	flags := runCmd.Flags()
	flags.StringVarP(&runAddr, "addr", "a", "127.0.0.1", "IP address to bind the server to")
	flags.Uint16VarP(&runPort, "port", "p", 9999, "port to bind the server to")
	flags.Float64VarP(&runMult, "mult", "t", 1.0, "time multiplier (2.0 runs the sim at 2x speed)")
	flags.StringVarP(&runOutfile, "out", "o", "replication_db.csv", "file to write the final DB dump CSV to")
	flags.IntVarP(&runDuration, "duration", "d", 900, "duration, in sim-time seconds, to run the sim")
	flags.StringVar(&runMetricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (empty disables it)")
}

func runRun(cmd *cobra.Command, args []string) error {
	ConfigureVerbosity()
	simDataPath := args[0]

	runtime := config.Default()
	if rootConfigFlag != "" {
		loaded, err := config.Load(rootConfigFlag)
		if err != nil {
			return err
		}
		runtime = loaded
	}
	if cmd.Flags().Changed("mult") {
		runtime.TimeMult = runMult
	}

	bindIP, err := netip.ParseAddr(runAddr)
	if err != nil {
		return fmt.Errorf("invalid -a address %q: %w", runAddr, err)
	}

	whitelistPath := ""
	if _, err := os.Stat("whitelist"); err == nil {
		whitelistPath = "whitelist"
	}

	node, err := control.NewNode(control.NodeConfig{
		ServersPath:   "servers.txt",
		KeyPath:       "sharedkey.bin",
		WhitelistPath: whitelistPath,
		BindIP:        bindIP,
		BindPort:      runPort,
		Runtime:       runtime,
	})
	if err != nil {
		return err
	}

	source := plot.NewStore()
	if err := source.LoadBinary(simDataPath); err != nil {
		return fmt.Errorf("loading sim data %s: %w", simDataPath, err)
	}
	if source.Len() == 0 {
		return fmt.Errorf("sim data %s contained no records", simDataPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if runMetricsAddr != "" {
		go func() {
			if err := node.Metrics().ListenAndServe(runMetricsAddr); err != nil {
				log.Warnf("metrics listener on %s stopped: %v", runMetricsAddr, err)
			}
		}()
	}

	started := make(chan error, 1)
	go func() { started <- node.Start(ctx) }()

	go simulateAntenna(ctx, node, source, runtime.TimeMult)

	log.Infof("repsvr: node %s running for %ds sim time (mult=%.2f)", node.SelfID(), runDuration, runtime.TimeMult)
	time.Sleep(time.Duration(float64(runDuration)/runtime.TimeMult) * time.Second)

	node.Shutdown()
	cancel()
	<-started

	node.Store().SortByTime()
	if err := node.Store().WriteCSV(runOutfile); err != nil {
		return fmt.Errorf("writing %s: %w", runOutfile, err)
	}
	fmt.Printf("Writing results to: %s\n", runOutfile)
	log.Infof("repsvr: final %s", node.Metrics())
	return nil
}

// simulateAntenna plays back source's records into node's store on the
// node's adjusted-time clock, applying a random per-node offset (-3..3
// seconds) to approximate an unsynchronized local clock. Each record
// is tagged NEW at the moment it's appended, never afterward.
func simulateAntenna(ctx context.Context, node *control.Node, source *plot.Store, mult float64) {
	source.SortByTime()
	records := source.Snapshot()

	offset := int64(rand.Intn(7) - 3)
	start := time.Now()

	for _, r := range records {
		target := r.Timestamp + offset
		for {
			adjusted := int64(time.Since(start).Seconds() * mult)
			if adjusted >= target {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
		r.Timestamp = target
		r.Flags = plot.FlagNew
		node.Store().AddRecord(r)
		node.Metrics().PlotsIngested.Inc()
	}
}
