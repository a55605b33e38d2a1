package serverenv

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
)

// Host holds the facts recorded at the start of a run.
type Host struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Platform string `json:"platform"`
	Kernel   string `json:"kernel"`
	DiskFree uint64 `json:"disk_free"`
}

// CollectHost gathers host facts for dir. Lookups that fail leave their
// field empty.
func CollectHost(ctx context.Context, dir string) Host {
	h := Host{OS: runtime.GOOS}

	if info, err := host.InfoWithContext(ctx); err == nil {
		h.Hostname = info.Hostname
		h.Platform = info.Platform
		h.Kernel = info.KernelVersion
	}

	if usage, err := disk.UsageWithContext(ctx, dir); err == nil {
		h.DiskFree = usage.Free
	}
	return h
}

// HasRoomFor reports whether size bytes fit on the disk. Unknown free
// space counts as enough.
func (h Host) HasRoomFor(size int64) bool {
	if h.DiskFree == 0 || size <= 0 {
		return true
	}
	return uint64(size) <= h.DiskFree
}
