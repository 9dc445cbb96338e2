package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/metalforge/internal/blockdev"
	"github.com/sigreer/metalforge/internal/fault"
	"github.com/sigreer/metalforge/internal/installcfg"
)

// stubRunner answers lsblk queries from a canned listing and fails any
// query that names failPath.
type stubRunner struct {
	output      []byte
	failPath    string
	lookPathErr error
}

func (s *stubRunner) Run(name string, args ...string) ([]byte, error) {
	for _, a := range args {
		if s.failPath != "" && a == s.failPath {
			return nil, errors.New("lsblk: " + a + ": not a block device")
		}
	}
	return s.output, nil
}

func (s *stubRunner) LookPath(name string) (string, error) {
	if s.lookPathErr != nil {
		return "", s.lookPathErr
	}
	return "/usr/bin/" + name, nil
}

const sdaOnly = `{"blockdevices": [{"name": "sda", "path": "/dev/sda", "type": "disk", "size": 1000}]}`

func TestResolveTargetBadDeviceFlagIsInvalidTarget(t *testing.T) {
	run := &stubRunner{failPath: "/dev/bogus"}
	catalog := blockdev.NewCatalog(run)

	_, err := resolveTarget(catalog, &installcfg.Config{}, "/dev/bogus", "", "")
	require.Error(t, err)
	assert.Equal(t, fault.InvalidTarget, fault.KindOf(err))
}

func TestResolveTargetBadSecondaryFlagIsInvalidTarget(t *testing.T) {
	run := &stubRunner{output: []byte(sdaOnly), failPath: "/dev/nope"}
	catalog := blockdev.NewCatalog(run)

	// The root flag resolves; the storage flag does not.
	_, err := resolveTarget(catalog, &installcfg.Config{}, "/dev/sda", "/dev/nope", "")
	require.Error(t, err)
	assert.Equal(t, fault.InvalidTarget, fault.KindOf(err))
}

func TestResolveTargetFromFlags(t *testing.T) {
	run := &stubRunner{output: []byte(sdaOnly)}
	catalog := blockdev.NewCatalog(run)

	target, err := resolveTarget(catalog, &installcfg.Config{}, "/dev/sda", "", "")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sda", target.Root.Path)
	assert.Empty(t, target.Secondary)
}

func TestResolveTargetKeepsToolMissingKind(t *testing.T) {
	run := &stubRunner{lookPathErr: errors.New("executable file not found in $PATH")}
	catalog := blockdev.NewCatalog(run)

	_, err := resolveTarget(catalog, &installcfg.Config{}, "/dev/sda", "", "")
	require.Error(t, err)
	assert.Equal(t, fault.ToolMissing, fault.KindOf(err),
		"a missing lsblk is still a tool problem, not a bad target")
}
