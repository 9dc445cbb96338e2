package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigreer/metalforge/internal/blockdev"
	"github.com/sigreer/metalforge/internal/fault"
	"github.com/sigreer/metalforge/internal/firmware"
	"github.com/sigreer/metalforge/internal/format"
	"github.com/sigreer/metalforge/internal/installcfg"
	"github.com/sigreer/metalforge/internal/journal"
	"github.com/sigreer/metalforge/internal/mounter"
	"github.com/sigreer/metalforge/internal/partition"
	"github.com/sigreer/metalforge/internal/pipeline"
	"github.com/sigreer/metalforge/internal/selector"
	"github.com/sigreer/metalforge/internal/sysrun"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Partition, format and mount the install target",
	Long: `Prepare a disk for installation. The chosen disk is wiped, partitioned
for the detected firmware mode (an EFI System Partition plus root under
UEFI, a single root partition under BIOS), formatted, and mounted. Up to
two secondary volumes can be attached under the new root; their failure
never aborts the run.

ALL DATA ON THE TARGET DISK IS DESTROYED.`,
	Run: runInstall,
}

func init() {
	installCmd.Flags().String("device", "", "target disk (e.g. /dev/sda); prompts when omitted")
	installCmd.Flags().String("storage", "", "optional storage volume to mount under <root>/Storage")
	installCmd.Flags().String("windows", "", "optional Windows volume to mount under <root>/Windows")
	installCmd.Flags().Bool("yes", false, "skip the destructive-operation confirmation")
}

func runInstall(cmd *cobra.Command, args []string) {
	devFlag, _ := cmd.Flags().GetString("device")
	storageFlag, _ := cmd.Flags().GetString("storage")
	windowsFlag, _ := cmd.Flags().GetString("windows")
	assumeYes, _ := cmd.Flags().GetBool("yes")

	if os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "install must run as root")
		os.Exit(1)
	}

	cfg, err := installcfg.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	runner := sysrun.Exec{}
	catalog := blockdev.NewCatalog(runner)

	target, err := resolveTarget(catalog, cfg, devFlag, storageFlag, windowsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !assumeYes && !confirmWipe(target.Root) {
		fmt.Fprintln(os.Stderr, "aborted")
		os.Exit(1)
	}

	var jr pipeline.Journal
	db, err := journal.Open(cfg.JournalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: install journal unavailable: %v\n", err)
	} else {
		defer db.Close()
		jr = db
	}

	pipe := &pipeline.Pipeline{
		Run:       runner,
		Catalog:   catalog,
		Detect:    firmware.Detect,
		Planner:   partition.NewPlanner(runner, catalog, time.Duration(cfg.SettleSeconds)*time.Second),
		Formatter: format.NewFormatter(runner),
		Mounter:   mounter.NewOrchestrator(runner),
		Recorder:  cfg,
		Journal:   jr,
		MountRoot: cfg.MountRoot,
	}

	outcome, err := pipe.Install(*target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Install failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Target ready: %s firmware, root mounted at %s\n", outcome.Mode, cfg.MountRoot)
	for _, r := range outcome.Mounts {
		if r.Err == nil {
			fmt.Printf("  %s -> %s\n", r.Task.Source, r.Task.Target)
		}
	}
	for _, w := range outcome.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

// resolveTarget turns flags (or interactive menus) into a validated
// pipeline target. Flag-supplied paths are checked against the live device
// tree rather than trusted as strings.
func resolveTarget(catalog *blockdev.Catalog, cfg *installcfg.Config, devFlag, storageFlag, windowsFlag string) (*pipeline.Target, error) {
	var target pipeline.Target

	var sel *selector.Selector
	needPrompt := devFlag == ""
	if needPrompt {
		var err error
		sel, err = selector.Interactive()
		if err != nil {
			return nil, fmt.Errorf("no --device given and %w", err)
		}
	}

	if devFlag != "" {
		dev, err := catalog.Stat(devFlag)
		if err != nil {
			return nil, classifyTarget(devFlag, err)
		}
		target.Root = dev
	} else {
		disks, err := catalog.ListDisks()
		if err != nil {
			return nil, err
		}
		chosen, err := sel.Choose("Select the install target disk:", disks, false)
		if err != nil {
			return nil, err
		}
		target.Root = *chosen
	}

	secondary := []struct {
		flag   string
		subdir string
		prompt string
	}{
		{storageFlag, "Storage", "Select a storage volume (0 for none):"},
		{windowsFlag, "Windows", "Select a Windows volume (0 for none):"},
	}
	for _, s := range secondary {
		if s.flag != "" {
			dev, err := catalog.Stat(s.flag)
			if err != nil {
				return nil, classifyTarget(s.flag, err)
			}
			target.Secondary = append(target.Secondary, pipeline.SecondaryTarget{Device: dev, Subdir: s.subdir})
			continue
		}
		if sel == nil {
			continue
		}
		candidates, err := secondaryCandidates(catalog, target.Root)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			continue
		}
		chosen, err := sel.Choose(s.prompt, candidates, true)
		if err != nil {
			return nil, err
		}
		if chosen != nil {
			target.Secondary = append(target.Secondary, pipeline.SecondaryTarget{Device: *chosen, Subdir: s.subdir})
		}
	}

	// Config may pin additional volumes (e.g. a lab machine's scratch disk).
	for _, s := range cfg.Secondary {
		dev, err := catalog.Stat(s.Device)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: configured secondary %s not found, skipping\n", s.Device)
			continue
		}
		target.Secondary = append(target.Secondary, pipeline.SecondaryTarget{Device: dev, Subdir: s.Subdir})
	}

	return &target, nil
}

// classifyTarget keeps flag-supplied paths inside the error taxonomy: a
// path lsblk cannot resolve is an invalid target, not a bare exec failure.
func classifyTarget(path string, err error) error {
	if fault.KindOf(err) != "" {
		return err
	}
	return fault.New(fault.InvalidTarget, "validate", path, err)
}

// secondaryCandidates lists every device that is not the install target or
// one of its partitions.
func secondaryCandidates(catalog *blockdev.Catalog, root blockdev.BlockDevice) ([]blockdev.BlockDevice, error) {
	disks, err := catalog.ListDisks()
	if err != nil {
		return nil, err
	}

	var candidates []blockdev.BlockDevice
	for _, d := range disks {
		if d.Path == root.Path {
			continue
		}
		children, err := catalog.Children(d.Path)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, children...)
	}
	return candidates, nil
}

func confirmWipe(root blockdev.BlockDevice) bool {
	fmt.Fprintf(os.Stderr, "This will DESTROY all data on %s (%s). Type 'yes' to continue: ",
		root.Path, root.Model)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
