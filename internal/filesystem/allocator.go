// Package filesystem holds preflight disk-space checks for the CBZ
// archiver, ahead of a ZIP write that may be hundreds of megabytes.
package filesystem

import (
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// diskSpaceBuffer is kept free beyond the estimated archive size, so a
// concurrent write from elsewhere on the volume doesn't starve us mid-zip.
const diskSpaceBuffer = 100 * 1024 * 1024

// Allocator checks free disk space before a CBZ archive is assembled.
type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// CheckSpace verifies dir's volume has at least required bytes free, plus
// diskSpaceBuffer headroom.
func (a *Allocator) CheckSpace(dir string, required int64) error {
	usage, err := disk.Usage(filepath.Clean(dir))
	if err != nil {
		return fmt.Errorf("filesystem: check disk space: %w", err)
	}

	if int64(usage.Free) < required+diskSpaceBuffer {
		return fmt.Errorf("filesystem: disk full: required %d bytes, available %d bytes", required, usage.Free)
	}
	return nil
}
