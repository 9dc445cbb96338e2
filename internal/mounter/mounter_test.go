package mounter

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/metalforge/internal/fault"
)

type mountRunner struct {
	calls       [][]string
	failSources map[string]bool
}

func (m *mountRunner) Run(name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, append([]string{name}, args...))
	if name == "mount" && m.failSources[args[0]] {
		return nil, errors.New("mount: wrong fs type, bad option, bad superblock")
	}
	return nil, nil
}

func (m *mountRunner) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

func newTestOrchestrator(run *mountRunner) (*Orchestrator, *[]string) {
	unmounted := &[]string{}
	o := &Orchestrator{
		run:   run,
		mkdir: func(string, os.FileMode) error { return nil },
		unmount: func(target string) error {
			*unmounted = append(*unmounted, target)
			return nil
		},
	}
	return o, unmounted
}

func tasks() []Task {
	return []Task{
		{Source: "/dev/sda2", Target: "/mnt", Required: true},
		{Source: "/dev/sda1", Target: "/mnt/boot", Required: true},
		{Source: "/dev/sdc1", Target: "/mnt/Storage"},
	}
}

func TestMountAllMountsInGivenOrder(t *testing.T) {
	run := &mountRunner{}
	o, _ := newTestOrchestrator(run)

	results, err := o.MountAll(tasks())
	require.NoError(t, err)
	require.Len(t, results, 3)

	var targets []string
	for _, c := range run.calls {
		targets = append(targets, c[2])
	}
	assert.Equal(t, []string{"/mnt", "/mnt/boot", "/mnt/Storage"}, targets,
		"root before boot before secondaries")
}

func TestRequiredFailureRollsBackMounted(t *testing.T) {
	run := &mountRunner{failSources: map[string]bool{"/dev/sda1": true}}
	o, unmounted := newTestOrchestrator(run)

	results, err := o.MountAll(tasks())
	require.Error(t, err)
	assert.Equal(t, fault.RequiredMountFailed, fault.KindOf(err))

	// Root was already mounted and must be unwound; the secondary was
	// never attempted.
	assert.Equal(t, []string{"/mnt"}, *unmounted)
	assert.Len(t, results, 2)
	for _, c := range run.calls {
		assert.NotEqual(t, "/dev/sdc1", c[1], "no mount after a required failure")
	}
}

func TestOptionalFailureIsReportedNotFatal(t *testing.T) {
	run := &mountRunner{failSources: map[string]bool{"/dev/sdc1": true}}
	o, unmounted := newTestOrchestrator(run)

	results, err := o.MountAll(tasks())
	require.NoError(t, err, "a missing storage volume never blocks the install")
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	require.Error(t, results[2].Err)
	assert.Equal(t, fault.OptionalMountFailed, fault.KindOf(results[2].Err))
	assert.Empty(t, *unmounted, "successful mounts stay mounted")
}

func TestCleanupTreeUnmountsDeepestFirst(t *testing.T) {
	mountsFile := filepath.Join(t.TempDir(), "mounts")
	table := strings.Join([]string{
		"/dev/sda2 /mnt ext4 rw,relatime 0 0",
		"/dev/sda1 /mnt/boot vfat rw 0 0",
		"/dev/sdc1 /mnt/Storage ext4 rw 0 0",
		"/dev/nvme0n1p2 / ext4 rw 0 0",
	}, "\n")
	require.NoError(t, os.WriteFile(mountsFile, []byte(table), 0644))

	run := &mountRunner{}
	o, unmounted := newTestOrchestrator(run)
	o.mounts = mountsFile

	cleaned := o.CleanupTree("/mnt")
	assert.Equal(t, []string{"/mnt/boot", "/mnt/Storage", "/mnt"}, *unmounted,
		"children unmount before their parent, host root untouched")
	assert.Len(t, cleaned, 3)
}

func TestCleanupTreeDecodesEscapedMountpoints(t *testing.T) {
	mountsFile := filepath.Join(t.TempDir(), "mounts")
	table := strings.Join([]string{
		`/dev/sda2 /mnt ext4 rw 0 0`,
		`/dev/sdc1 /mnt/my\040disk ext4 rw 0 0`,
	}, "\n")
	require.NoError(t, os.WriteFile(mountsFile, []byte(table), 0644))

	run := &mountRunner{}
	o, unmounted := newTestOrchestrator(run)
	o.mounts = mountsFile

	o.CleanupTree("/mnt")
	assert.Equal(t, []string{"/mnt/my disk", "/mnt"}, *unmounted,
		"the kernel's octal escapes are decoded before unmounting")
}
