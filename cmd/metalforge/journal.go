package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigreer/metalforge/internal/installcfg"
	"github.com/sigreer/metalforge/internal/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show install run history",
	Long: `Show past install runs and their stage events from the local journal.
Useful for finding out which stage an aborted run died in.`,
	Run: runJournal,
}

func init() {
	journalCmd.Flags().Int("limit", 20, "maximum number of runs to show")
	journalCmd.Flags().String("run", "", "show the events of one run by id")
}

func runJournal(cmd *cobra.Command, args []string) {
	cfg, err := installcfg.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	db, err := journal.Open(cfg.JournalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	runID, _ := cmd.Flags().GetString("run")
	limit, _ := cmd.Flags().GetInt("limit")

	if runID != "" {
		showRunEvents(db, runID)
		return
	}

	runs, err := db.RecentRuns(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Println("No install runs recorded.")
		return
	}

	fmt.Printf("%-36s %-14s %-6s %-8s %s\n", "RUN", "DEVICE", "MODE", "STATUS", "STARTED")
	fmt.Println(strings.Repeat("-", 90))
	for _, r := range runs {
		fmt.Printf("%-36s %-14s %-6s %-8s %s\n",
			r.ID, r.Device, r.FirmwareMode, strings.ToUpper(r.Status),
			r.StartedAt.Format("2006-01-02 15:04:05"))
	}
}

func showRunEvents(db *journal.DB, runID string) {
	events, err := db.RunEvents(runID, 200)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Printf("No events for run %s\n", runID)
		return
	}

	fmt.Printf("%-20s %-12s %-8s %s\n", "TIMESTAMP", "STAGE", "LEVEL", "MESSAGE")
	fmt.Println(strings.Repeat("-", 80))
	for _, e := range events {
		fmt.Printf("%-20s %-12s %-8s %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Stage, strings.ToUpper(e.Level), e.Message)
	}
}
