package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigreer/metalforge/internal/installcfg"
	"github.com/sigreer/metalforge/internal/mounter"
	"github.com/sigreer/metalforge/internal/sysrun"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Unmount the install target hierarchy",
	Long: `Unmount everything mounted under the install mount root, deepest
first. Best effort: targets that fail to unmount are reported and skipped.
Use after an aborted run before retrying.`,
	Run: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) {
	if os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "cleanup must run as root")
		os.Exit(1)
	}

	cfg, err := installcfg.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	cleaned := mounter.NewOrchestrator(sysrun.Exec{}).CleanupTree(cfg.MountRoot)
	if len(cleaned) == 0 {
		fmt.Printf("Nothing mounted under %s\n", cfg.MountRoot)
		return
	}
	for _, target := range cleaned {
		fmt.Printf("unmounted %s\n", target)
	}
}
