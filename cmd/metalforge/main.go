package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigreer/metalforge/internal/logging"
)

var (
	cfgFile   string
	verbosity int
)

var rootCmd = &cobra.Command{
	Use:   "metalforge",
	Short: "Bare-metal install target preparation tool",
	Long: `Metalforge prepares a disk for a fresh Linux installation: it detects
the firmware mode (UEFI or BIOS), partitions and formats the chosen disk
accordingly, mounts the new hierarchy, and records the firmware mode for
the bootloader stage. Partitioning is destructive; every run starts from
a clean table.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verbosity)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/metalforge/config.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v, -vv, -vvv)")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(disksCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
