// Package mounter builds the target mount hierarchy in dependency order.
package mounter

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/sigreer/metalforge/internal/fault"
	"github.com/sigreer/metalforge/internal/logging"
	"github.com/sigreer/metalforge/internal/sysrun"
)

// Task is one mount to perform. Required tasks abort the pipeline on
// failure; optional tasks only degrade it.
type Task struct {
	Source   string
	Target   string
	Required bool
}

// Result records the outcome of one task.
type Result struct {
	Task Task
	Err  error
}

// Orchestrator mounts tasks in the order given. The caller puts root
// first; everything else lives under root's mountpoint so nothing can be
// mounted before it.
type Orchestrator struct {
	run     sysrun.Runner
	mkdir   func(path string, perm os.FileMode) error
	unmount func(target string) error
	mounts  string // mount table path, /proc/self/mounts
}

func NewOrchestrator(r sysrun.Runner) *Orchestrator {
	return &Orchestrator{
		run:   r,
		mkdir: os.MkdirAll,
		unmount: func(target string) error {
			return unix.Unmount(target, 0)
		},
		mounts: "/proc/self/mounts",
	}
}

// MountAll performs each task in order. A required failure rolls back
// every mount made so far (reverse order, best effort) and returns a
// RequiredMountFailed fault. Optional failures are recorded in the results
// and the run continues: a missing storage volume must never block the
// install.
func (o *Orchestrator) MountAll(tasks []Task) ([]Result, error) {
	log := logging.GetLogger("mounter")

	var results []Result
	var mounted []string

	for _, t := range tasks {
		err := o.mountOne(t)
		if err == nil {
			log.Info().Str("source", t.Source).Str("target", t.Target).Msg("mounted")
			results = append(results, Result{Task: t})
			mounted = append(mounted, t.Target)
			continue
		}

		if t.Required {
			log.Error().Err(err).Str("source", t.Source).Str("target", t.Target).
				Msg("required mount failed, rolling back")
			o.rollback(mounted)
			ferr := fault.New(fault.RequiredMountFailed, "mount", t.Source, err)
			results = append(results, Result{Task: t, Err: ferr})
			return results, ferr
		}

		log.Warn().Err(err).Str("source", t.Source).Str("target", t.Target).
			Msg("optional mount failed, continuing")
		results = append(results, Result{Task: t, Err: fault.New(fault.OptionalMountFailed, "mount", t.Source, err)})
	}
	return results, nil
}

func (o *Orchestrator) mountOne(t Task) error {
	if err := o.mkdir(t.Target, 0755); err != nil {
		return err
	}
	_, err := o.run.Run("mount", t.Source, t.Target)
	return err
}

func (o *Orchestrator) rollback(mounted []string) {
	log := logging.GetLogger("mounter")
	for i := len(mounted) - 1; i >= 0; i-- {
		if err := o.unmount(mounted[i]); err != nil {
			log.Warn().Err(err).Str("target", mounted[i]).Msg("rollback unmount failed")
		}
	}
}

// CleanupTree unmounts everything at or below root, deepest first. Used by
// the cleanup command after an aborted run; every unmount is best effort.
func (o *Orchestrator) CleanupTree(root string) []string {
	log := logging.GetLogger("mounter")

	targets, err := o.mountedUnder(root)
	if err != nil {
		log.Warn().Err(err).Msg("could not read mount table")
		return nil
	}

	var cleaned []string
	for _, target := range targets {
		if err := o.unmount(target); err != nil {
			log.Warn().Err(err).Str("target", target).Msg("unmount failed")
			continue
		}
		log.Info().Str("target", target).Msg("unmounted")
		cleaned = append(cleaned, target)
	}
	return cleaned
}

// mountedUnder returns mountpoints at or below root, deepest first.
func (o *Orchestrator) mountedUnder(root string) ([]string, error) {
	data, err := os.ReadFile(o.mounts)
	if err != nil {
		return nil, err
	}

	root = filepath.Clean(root)
	var targets []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		mp := unescapeMountPath(fields[1])
		if mp == root || strings.HasPrefix(mp, root+"/") {
			targets = append(targets, mp)
		}
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return strings.Count(targets[i], "/") > strings.Count(targets[j], "/")
	})
	return targets, nil
}

// unescapeMountPath decodes the octal escapes the kernel writes into the
// mount table (\040 space, \011 tab, \012 newline, \134 backslash).
func unescapeMountPath(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
