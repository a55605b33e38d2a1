package extract

import (
	"context"
	"os/exec"
	"runtime"
)

// Capabilities records which engines the host can run.
type Capabilities struct {
	ArchiveLibrary bool     `json:"archive_library"`
	ShellExec      bool     `json:"shell_exec"`
	UnzipPath      string   `json:"unzip_path,omitempty"`
	Platform       string   `json:"platform"`
	Reasons        []string `json:"reasons,omitempty"`
}

// CapabilityDetector detects available extraction engines.
type CapabilityDetector struct {
	LibraryEnabled bool
	ShellEnabled   bool
	// UnzipPath pins the external utility; empty means search PATH.
	UnzipPath string

	lookPath func(string) (string, error)
}

// NewCapabilityDetector creates a detector with both engines enabled.
func NewCapabilityDetector() *CapabilityDetector {
	return &CapabilityDetector{
		LibraryEnabled: true,
		ShellEnabled:   true,
		lookPath:       exec.LookPath,
	}
}

// DetectCapabilities probes the host.
func (d *CapabilityDetector) DetectCapabilities(ctx context.Context) Capabilities {
	caps := Capabilities{Platform: runtime.GOOS}

	if d.LibraryEnabled {
		caps.ArchiveLibrary = true
	} else {
		caps.Reasons = append(caps.Reasons, "archive library disabled by configuration")
	}

	d.detectShellCapability(ctx, &caps)
	return caps
}

// detectShellCapability checks for a usable unzip binary.
func (d *CapabilityDetector) detectShellCapability(ctx context.Context, caps *Capabilities) {
	if !d.ShellEnabled {
		caps.Reasons = append(caps.Reasons, "shell execution disabled by configuration")
		return
	}
	if ctx.Err() != nil {
		return
	}

	lookPath := d.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	name := d.UnzipPath
	if name == "" {
		name = "unzip"
	}
	path, err := lookPath(name)
	if err != nil {
		caps.Reasons = append(caps.Reasons, "unzip utility not found")
		return
	}
	caps.ShellExec = true
	caps.UnzipPath = path
}
