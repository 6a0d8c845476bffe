package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dronenet/repsvr/registry"
)

var statusServersPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the peer table from servers.txt",
	RunE:  runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusServersPath, "servers", "servers.txt", "path to the peer registry file")
}

func runStatus(_ *cobra.Command, _ []string) error {
	reg, err := registry.Load(statusServersPath)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	colorize := term.IsTerminal(int(os.Stdout.Fd()))
	header := "peer_id"
	if colorize {
		header = color.CyanString(header)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{header, "ip", "port"})
	for _, p := range reg.All() {
		table.Append([]string{p.ID, p.IP.String(), fmt.Sprintf("%d", p.Port)})
	}
	table.Render()
	fmt.Printf("%d peer(s)\n", reg.Len())
	return nil
}
