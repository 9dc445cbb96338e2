// Package format puts filesystems on freshly created partitions.
package format

import (
	"fmt"

	"github.com/sigreer/metalforge/internal/fault"
	"github.com/sigreer/metalforge/internal/logging"
	"github.com/sigreer/metalforge/internal/sysrun"
)

// Kind is a supported filesystem type.
type Kind string

const (
	// FAT32 is required for the EFI System Partition.
	FAT32 Kind = "fat32"
	// Ext4 is used for the root filesystem.
	Ext4 Kind = "ext4"
)

// Formatter runs mkfs on partitions. A format failure is always fatal to
// the pipeline: a half-formatted target must never reach mounting.
type Formatter struct {
	run sysrun.Runner
}

func NewFormatter(r sysrun.Runner) *Formatter {
	return &Formatter{run: r}
}

// Tool returns the mkfs binary that formats this kind.
func (k Kind) Tool() string {
	switch k {
	case FAT32:
		return "mkfs.vfat"
	case Ext4:
		return "mkfs.ext4"
	}
	return ""
}

// Format applies the filesystem to the partition at path with the given
// label.
func (f *Formatter) Format(path string, kind Kind, label string) error {
	log := logging.GetLogger("format")
	log.Info().Str("partition", path).Str("fs", string(kind)).Str("label", label).Msg("formatting")

	var err error
	switch kind {
	case FAT32:
		_, err = f.run.Run("mkfs.vfat", "-F32", "-n", label, path)
	case Ext4:
		_, err = f.run.Run("mkfs.ext4", "-F", "-L", label, path)
	default:
		return fault.New(fault.DestructiveOpFailed, "format", path,
			fmt.Errorf("unsupported filesystem kind %q", kind))
	}
	if err != nil {
		return fault.New(fault.DestructiveOpFailed, "format", path, err)
	}
	return nil
}
