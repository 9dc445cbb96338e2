// Package blockdev enumerates block devices and their partitions via lsblk.
//
// Enumeration is always fresh: partitioning invalidates any earlier listing,
// so nothing here is cached between calls.
package blockdev

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sigreer/metalforge/internal/fault"
	"github.com/sigreer/metalforge/internal/logging"
	"github.com/sigreer/metalforge/internal/sysrun"
)

// Kind distinguishes whole disks from partitions.
type Kind string

const (
	KindDisk      Kind = "disk"
	KindPartition Kind = "part"
)

// BlockDevice is one entry from the kernel's block device tree.
type BlockDevice struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	SizeBytes  uint64 `json:"size_bytes"`
	Model      string `json:"model,omitempty"`
	Kind       Kind   `json:"kind"`
	Mountpoint string `json:"mountpoint,omitempty"`
}

// Catalog lists disks and partition children through lsblk.
type Catalog struct {
	run sysrun.Runner
}

func NewCatalog(r sysrun.Runner) *Catalog {
	return &Catalog{run: r}
}

// lsblk JSON shapes. SIZE is requested in bytes (-b) but older lsblk
// versions still quote it, so it needs a tolerant decoder.
type lsblkOutput struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Type       string        `json:"type"`
	Size       byteCount     `json:"size"`
	Model      string        `json:"model"`
	Mountpoint string        `json:"mountpoint"`
	Children   []lsblkDevice `json:"children,omitempty"`
}

type byteCount uint64

func (b *byteCount) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	if s == "" || s == "null" {
		*b = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*b = byteCount(n)
	return nil
}

const lsblkColumns = "NAME,PATH,TYPE,SIZE,MODEL,MOUNTPOINT"

func (c *Catalog) query(args ...string) (*lsblkOutput, error) {
	log := logging.GetLogger("blockdev")

	if _, err := c.run.LookPath("lsblk"); err != nil {
		return nil, fault.New(fault.ToolMissing, "enumerate", "", err)
	}

	cmdArgs := append([]string{"-J", "-b", "-o", lsblkColumns}, args...)
	out, err := c.run.Run("lsblk", cmdArgs...)
	if err != nil {
		return nil, err
	}

	var parsed lsblkOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, err
	}
	log.Trace().Int("devices", len(parsed.Blockdevices)).Msg("lsblk enumeration")
	return &parsed, nil
}

func toBlockDevice(d lsblkDevice) BlockDevice {
	path := d.Path
	if path == "" {
		path = "/dev/" + d.Name
	}
	return BlockDevice{
		Name:       d.Name,
		Path:       path,
		SizeBytes:  uint64(d.Size),
		Model:      strings.TrimSpace(d.Model),
		Kind:       Kind(d.Type),
		Mountpoint: d.Mountpoint,
	}
}

// ListDisks returns all whole-disk devices in kernel order.
func (c *Catalog) ListDisks() ([]BlockDevice, error) {
	parsed, err := c.query()
	if err != nil {
		return nil, err
	}

	var disks []BlockDevice
	for _, d := range parsed.Blockdevices {
		if d.Type != string(KindDisk) {
			continue
		}
		disks = append(disks, toBlockDevice(d))
	}
	return disks, nil
}

// Children returns the partitions of the disk at path, in the order the
// kernel reports them. Children are taken from lsblk's device tree, never
// derived from the parent name, so NVMe-style "p1" suffixes need no special
// casing here.
func (c *Catalog) Children(path string) ([]BlockDevice, error) {
	parsed, err := c.query(path)
	if err != nil {
		return nil, err
	}

	var parts []BlockDevice
	for _, d := range parsed.Blockdevices {
		for _, child := range d.Children {
			if child.Type != string(KindPartition) {
				continue
			}
			parts = append(parts, toBlockDevice(child))
		}
	}
	return parts, nil
}

// Stat returns the device at path, whether disk or partition.
func (c *Catalog) Stat(path string) (BlockDevice, error) {
	parsed, err := c.query(path)
	if err != nil {
		return BlockDevice{}, err
	}
	if len(parsed.Blockdevices) == 0 {
		return BlockDevice{}, fault.New(fault.InvalidTarget, "enumerate", path, nil)
	}
	return toBlockDevice(parsed.Blockdevices[0]), nil
}
