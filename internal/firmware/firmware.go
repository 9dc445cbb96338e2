// Package firmware decides whether the host booted via UEFI or legacy BIOS.
package firmware

import "os"

// Mode is the detected firmware mode. It is decided once per run, before
// any partitioning action, because it determines the whole plan shape.
type Mode string

const (
	UEFI Mode = "UEFI"
	BIOS Mode = "BIOS"
)

// efivars is only populated by the kernel when the machine booted via UEFI.
const efivarsPath = "/sys/firmware/efi/efivars"

// Detect reports the firmware mode of the running system. There is no
// override and no fallback probing: the marker is either there or it isn't.
func Detect() Mode {
	return detectAt(efivarsPath)
}

func detectAt(marker string) Mode {
	if _, err := os.Stat(marker); err == nil {
		return UEFI
	}
	return BIOS
}
