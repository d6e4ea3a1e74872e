package shm

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"
)

// Available returns the number of free bytes on the filesystem backing
// named regions.
func Available(ctx context.Context) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, Dir())
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
