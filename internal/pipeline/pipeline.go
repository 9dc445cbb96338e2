// Package pipeline drives the install stages in order: validate, detect
// firmware, preflight tools, partition, format, mount, record. Each stage
// fully completes or fails before the next begins; nothing here retries,
// because a destructive disk operation that half-failed must never be
// blindly re-run.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sigreer/metalforge/internal/blockdev"
	"github.com/sigreer/metalforge/internal/fault"
	"github.com/sigreer/metalforge/internal/firmware"
	"github.com/sigreer/metalforge/internal/format"
	"github.com/sigreer/metalforge/internal/logging"
	"github.com/sigreer/metalforge/internal/mounter"
	"github.com/sigreer/metalforge/internal/partition"
	"github.com/sigreer/metalforge/internal/sysrun"
)

// Catalog enumerates a disk's partition children from the kernel tree.
type Catalog interface {
	Children(path string) ([]blockdev.BlockDevice, error)
}

// Planner applies a partition plan to a disk.
type Planner interface {
	Apply(device string, plan partition.Plan) ([]blockdev.BlockDevice, error)
}

// Formatter puts a filesystem on a partition.
type Formatter interface {
	Format(path string, kind format.Kind, label string) error
}

// Mounter performs mount tasks in order.
type Mounter interface {
	MountAll(tasks []mounter.Task) ([]mounter.Result, error)
}

// Recorder persists the firmware mode for later stages.
type Recorder interface {
	Record(mode firmware.Mode) error
}

// Journal records run history. May be left nil.
type Journal interface {
	StartRun(device, firmwareMode string) (string, error)
	RecordEvent(runID, stage, level, message string) error
	FinishRun(id, status string) error
}

// SecondaryTarget is an optional extra volume mounted under the root
// hierarchy. Its failure never aborts the install.
type SecondaryTarget struct {
	Device blockdev.BlockDevice
	Subdir string
}

// Target is the validated input to one install run.
type Target struct {
	Root      blockdev.BlockDevice
	Secondary []SecondaryTarget
}

// Outcome is what a successful run produced.
type Outcome struct {
	Mode     firmware.Mode
	RunID    string
	Mounts   []mounter.Result
	Warnings []string
}

// Pipeline holds the stage implementations. Everything is explicit so each
// stage can be swapped for a fake in tests.
type Pipeline struct {
	Run       sysrun.Runner
	Catalog   Catalog
	Detect    func() firmware.Mode
	Planner   Planner
	Formatter Formatter
	Mounter   Mounter
	Recorder  Recorder
	Journal   Journal
	MountRoot string
}

// Tools needed before anything destructive may run. The FAT32 tool is only
// needed for the UEFI plan.
var baseTools = []string{"lsblk", "wipefs", "sgdisk", "partprobe", format.Ext4.Tool(), "mount"}

const (
	journalSuccess = "success"
	journalFailed  = "failed"
)

// Install runs the full pipeline against the target.
func (p *Pipeline) Install(target Target) (*Outcome, error) {
	log := logging.GetLogger("pipeline")

	if err := p.validateTarget(target); err != nil {
		return nil, err
	}

	// The mode is decided exactly once, before any partitioning action,
	// because it determines the entire downstream plan shape.
	mode := p.Detect()
	log.Info().Str("mode", string(mode)).Str("device", target.Root.Path).Msg("starting install")

	if err := p.preflight(mode); err != nil {
		return nil, err
	}

	runID := p.startRun(target.Root.Path, mode)
	out := &Outcome{Mode: mode, RunID: runID}

	plan := partition.PlanFor(mode)
	p.event(runID, "partition", "info",
		fmt.Sprintf("applying %d-entry plan to %s", len(plan), target.Root.Path))

	parts, err := p.Planner.Apply(target.Root.Path, plan)
	if err != nil {
		return nil, p.fail(runID, err)
	}

	if err := p.formatAll(mode, parts); err != nil {
		return nil, p.fail(runID, err)
	}
	p.event(runID, "format", "info", "filesystems created")

	results, err := p.Mounter.MountAll(p.mountTasks(mode, parts, target.Secondary))
	out.Mounts = results
	for _, r := range results {
		if r.Err != nil && !r.Task.Required {
			warning := fmt.Sprintf("optional mount %s -> %s failed: %v",
				r.Task.Source, r.Task.Target, r.Err)
			out.Warnings = append(out.Warnings, warning)
			p.event(runID, "mount", "warning", warning)
		}
	}
	if err != nil {
		return nil, p.fail(runID, err)
	}
	p.event(runID, "mount", "info", "hierarchy mounted at "+p.MountRoot)

	if err := p.Recorder.Record(mode); err != nil {
		return nil, p.fail(runID, fmt.Errorf("recording firmware mode: %w", err))
	}

	p.finishRun(runID, journalSuccess)
	log.Info().Str("mode", string(mode)).Msg("install target ready")
	return out, nil
}

// validateTarget rejects anything that is not a whole disk distinct from
// every secondary device. Ancestry comes from the kernel's partition tree,
// never from comparing device name strings.
func (p *Pipeline) validateTarget(t Target) error {
	if t.Root.Path == "" {
		return fault.New(fault.InvalidTarget, "validate", "", fmt.Errorf("no root device selected"))
	}
	if t.Root.Kind != blockdev.KindDisk {
		return fault.New(fault.InvalidTarget, "validate", t.Root.Path,
			fmt.Errorf("root target must be a whole disk, got %q", t.Root.Kind))
	}
	if len(t.Secondary) == 0 {
		return nil
	}

	children, err := p.Catalog.Children(t.Root.Path)
	if err != nil {
		return err
	}
	onRoot := map[string]bool{t.Root.Path: true}
	for _, c := range children {
		onRoot[c.Path] = true
	}
	for _, s := range t.Secondary {
		if onRoot[s.Device.Path] {
			return fault.New(fault.InvalidTarget, "validate", s.Device.Path,
				fmt.Errorf("secondary device overlaps install target %s", t.Root.Path))
		}
	}
	return nil
}

// preflight checks every tool the detected mode needs, before the first
// destructive action.
func (p *Pipeline) preflight(mode firmware.Mode) error {
	tools := baseTools
	if mode == firmware.UEFI {
		tools = append(append([]string{}, baseTools...), format.FAT32.Tool())
	}
	for _, tool := range tools {
		if _, err := p.Run.LookPath(tool); err != nil {
			return fault.New(fault.ToolMissing, "preflight", "",
				fmt.Errorf("%s not found: %w", tool, err))
		}
	}
	return nil
}

// formatAll matches discovered partitions to their roles by plan position:
// under UEFI the first is the ESP and the second the root, under BIOS the
// sole partition is the root.
func (p *Pipeline) formatAll(mode firmware.Mode, parts []blockdev.BlockDevice) error {
	if mode == firmware.UEFI {
		if err := p.Formatter.Format(parts[0].Path, format.FAT32, partition.ESPLabel); err != nil {
			return err
		}
		return p.Formatter.Format(parts[1].Path, format.Ext4, partition.RootLabel)
	}
	return p.Formatter.Format(parts[0].Path, format.Ext4, partition.RootLabel)
}

// mountTasks builds the ordered task list: root first (everything else
// lives under it), then boot on UEFI, then optional secondaries.
func (p *Pipeline) mountTasks(mode firmware.Mode, parts []blockdev.BlockDevice, secondary []SecondaryTarget) []mounter.Task {
	rootPart := parts[len(parts)-1]

	tasks := []mounter.Task{
		{Source: rootPart.Path, Target: p.MountRoot, Required: true},
	}
	if mode == firmware.UEFI {
		tasks = append(tasks, mounter.Task{
			Source:   parts[0].Path,
			Target:   filepath.Join(p.MountRoot, "boot"),
			Required: true,
		})
	}
	for _, s := range secondary {
		tasks = append(tasks, mounter.Task{
			Source: s.Device.Path,
			Target: filepath.Join(p.MountRoot, s.Subdir),
		})
	}
	return tasks
}

func (p *Pipeline) fail(runID string, err error) error {
	stage := "pipeline"
	var fe *fault.Error
	if errors.As(err, &fe) {
		stage = fe.Stage
	}
	p.event(runID, stage, "error", err.Error())
	p.finishRun(runID, journalFailed)
	return err
}

func (p *Pipeline) startRun(device string, mode firmware.Mode) string {
	if p.Journal == nil {
		return ""
	}
	id, err := p.Journal.StartRun(device, string(mode))
	if err != nil {
		log := logging.GetLogger("pipeline")
		log.Warn().Err(err).Msg("journal unavailable")
		return ""
	}
	return id
}

func (p *Pipeline) event(runID, stage, level, message string) {
	if p.Journal == nil || runID == "" {
		return
	}
	if err := p.Journal.RecordEvent(runID, stage, level, message); err != nil {
		log := logging.GetLogger("pipeline")
		log.Warn().Err(err).Msg("journal write failed")
	}
}

func (p *Pipeline) finishRun(runID, status string) {
	if p.Journal == nil || runID == "" {
		return
	}
	if err := p.Journal.FinishRun(runID, status); err != nil {
		log := logging.GetLogger("pipeline")
		log.Warn().Err(err).Msg("journal write failed")
	}
}
