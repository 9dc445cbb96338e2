package partition

import "github.com/sigreer/metalforge/internal/firmware"

// Entry is one partition to create. Size uses sgdisk notation: "+512M" for
// a fixed size, "0" for the remainder of the disk.
type Entry struct {
	Index    int
	Size     string
	TypeCode string
	Label    string
}

// Plan is the ordered set of partitions for one disk. It is pure data: no
// I/O happens until a Planner applies it.
type Plan []Entry

const (
	typeEFI   = "ef00"
	typeLinux = "8300"

	espSize = "+512M"

	// RootLabel identifies the root filesystem to later stages.
	RootLabel = "ROOT"
	// ESPLabel names the EFI System Partition.
	ESPLabel = "EFI"
)

// PlanFor computes the layout for the detected firmware mode. UEFI gets an
// EFI System Partition followed by a root partition taking the remainder;
// the ESP comes first because the root size depends on what is left after
// it. BIOS gets a single whole-disk root partition.
func PlanFor(mode firmware.Mode) Plan {
	if mode == firmware.UEFI {
		return Plan{
			{Index: 1, Size: espSize, TypeCode: typeEFI, Label: ESPLabel},
			{Index: 2, Size: "0", TypeCode: typeLinux, Label: RootLabel},
		}
	}
	return Plan{
		{Index: 1, Size: "0", TypeCode: typeLinux, Label: RootLabel},
	}
}
