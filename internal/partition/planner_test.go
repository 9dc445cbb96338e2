package partition

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/metalforge/internal/blockdev"
	"github.com/sigreer/metalforge/internal/fault"
	"github.com/sigreer/metalforge/internal/firmware"
)

type scriptRunner struct {
	calls  [][]string
	failOn string
}

func (s *scriptRunner) Run(name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	if s.failOn != "" && name == s.failOn {
		return nil, errors.New(name + " returned 1")
	}
	return nil, nil
}

func (s *scriptRunner) LookPath(name string) (string, error) {
	return "/usr/sbin/" + name, nil
}

func (s *scriptRunner) commandNames() []string {
	var names []string
	for _, c := range s.calls {
		names = append(names, strings.Join(c[:2], " "))
	}
	return names
}

type fakeLister struct {
	children []blockdev.BlockDevice
	err      error
}

func (f fakeLister) Children(path string) ([]blockdev.BlockDevice, error) {
	return f.children, f.err
}

func newTestPlanner(run *scriptRunner, lister fakeLister) *Planner {
	p := NewPlanner(run, lister, time.Second)
	p.sleep = func(time.Duration) {}
	return p
}

func parts(paths ...string) []blockdev.BlockDevice {
	var out []blockdev.BlockDevice
	for _, p := range paths {
		out = append(out, blockdev.BlockDevice{Path: p, Kind: blockdev.KindPartition})
	}
	return out
}

func TestApplyRunsWipeCommitRediscoverInOrder(t *testing.T) {
	run := &scriptRunner{}
	planner := newTestPlanner(run, fakeLister{children: parts("/dev/sda1", "/dev/sda2")})

	got, err := planner.Apply("/dev/sda", PlanFor(firmware.UEFI))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/dev/sda1", got[0].Path)
	assert.Equal(t, "/dev/sda2", got[1].Path)

	assert.Equal(t, []string{
		"wipefs -a",
		"sgdisk -Z",
		"sgdisk -n", // ESP first: the remainder entry depends on it
		"sgdisk -n",
		"partprobe /dev/sda",
	}, run.commandNames())

	// ESP entry goes in before root.
	assert.Contains(t, strings.Join(run.calls[2], " "), "1:0:+512M")
	assert.Contains(t, strings.Join(run.calls[3], " "), "2:0:0")
}

func TestWipeFailureAbortsBeforeCommit(t *testing.T) {
	run := &scriptRunner{failOn: "wipefs"}
	planner := newTestPlanner(run, fakeLister{children: parts("/dev/sda1")})

	_, err := planner.Apply("/dev/sda", PlanFor(firmware.BIOS))
	require.Error(t, err)
	assert.Equal(t, fault.DestructiveOpFailed, fault.KindOf(err))

	for _, c := range run.calls {
		assert.NotEqual(t, "-n", c[1], "no partition may be created after a failed wipe")
	}
}

func TestCommitFailureAbortsBeforeRediscover(t *testing.T) {
	run := &scriptRunner{failOn: "sgdisk"}
	planner := newTestPlanner(run, fakeLister{children: parts("/dev/sda1")})

	_, err := planner.Apply("/dev/sda", PlanFor(firmware.BIOS))
	require.Error(t, err)
	assert.Equal(t, fault.DestructiveOpFailed, fault.KindOf(err))
	assert.NotContains(t, run.commandNames(), "partprobe /dev/sda")
}

func TestRediscoveryShortfallIsFatal(t *testing.T) {
	run := &scriptRunner{}
	planner := newTestPlanner(run, fakeLister{children: parts("/dev/sda1")})

	_, err := planner.Apply("/dev/sda", PlanFor(firmware.UEFI))
	require.Error(t, err)
	assert.Equal(t, fault.DiscoveryMismatch, fault.KindOf(err))
}

func TestRediscoveryMatchesByPosition(t *testing.T) {
	// Extra pre-existing children beyond the plan are ignored, and names
	// are never parsed: NVMe-style children work as-is.
	run := &scriptRunner{}
	planner := newTestPlanner(run, fakeLister{
		children: parts("/dev/nvme0n1p1", "/dev/nvme0n1p2", "/dev/nvme0n1p3"),
	})

	got, err := planner.Apply("/dev/nvme0n1", PlanFor(firmware.UEFI))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/dev/nvme0n1p1", got[0].Path)
	assert.Equal(t, "/dev/nvme0n1p2", got[1].Path)
}

func TestRediscoverySurvivesPartprobeFailure(t *testing.T) {
	// partprobe failing is not fatal on its own: the child count decides.
	run := &scriptRunner{failOn: "partprobe"}
	planner := newTestPlanner(run, fakeLister{children: parts("/dev/sdb1")})

	got, err := planner.Apply("/dev/sdb", PlanFor(firmware.BIOS))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
