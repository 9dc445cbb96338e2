package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sigreer/metalforge/internal/blockdev"
	"github.com/sigreer/metalforge/internal/sysrun"
)

var disksCmd = &cobra.Command{
	Use:   "disks",
	Short: "List candidate install disks",
	Long: `List whole-disk block devices and their partitions. Read-only:
this command never modifies anything.`,
	Run: runDisks,
}

func init() {
	disksCmd.Flags().Bool("json", false, "Output as JSON")
	disksCmd.Flags().Bool("partitions", false, "Include partitions of each disk")
}

func runDisks(cmd *cobra.Command, args []string) {
	jsonOut, _ := cmd.Flags().GetBool("json")
	withParts, _ := cmd.Flags().GetBool("partitions")

	catalog := blockdev.NewCatalog(sysrun.Exec{})
	disks, err := catalog.ListDisks()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing disks: %v\n", err)
		os.Exit(1)
	}

	var devices []blockdev.BlockDevice
	for _, d := range disks {
		devices = append(devices, d)
		if !withParts {
			continue
		}
		children, err := catalog.Children(d.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing partitions of %s: %v\n", d.Path, err)
			os.Exit(1)
		}
		devices = append(devices, children...)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(devices)
		return
	}

	if len(devices) == 0 {
		fmt.Println("No block devices found.")
		return
	}

	fmt.Printf("%-16s %-6s %-10s %-20s %s\n", "PATH", "TYPE", "SIZE", "MODEL", "MOUNTPOINT")
	fmt.Println(strings.Repeat("-", 70))
	for _, d := range devices {
		path := d.Path
		if d.Kind == blockdev.KindPartition {
			path = "  " + path
		}
		mp := d.Mountpoint
		if mp == "" {
			mp = "-"
		}
		fmt.Printf("%-16s %-6s %-10s %-20s %s\n",
			path, d.Kind, humanize.IBytes(d.SizeBytes), d.Model, mp)
	}
}
