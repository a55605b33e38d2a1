// Package extract holds the extraction engines and the logic that picks one.
package extract

import (
	"context"
	"fmt"
	"strings"
)

// Mode is the engine override requested by the client or configuration.
type Mode string

const (
	ModeAuto           Mode = "auto"
	ModeArchiveLibrary Mode = "ziparchive"
	ModeShell          Mode = "shellexec"
)

// ParseMode validates a mode string. An empty string means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeArchiveLibrary, ModeShell:
		return m, nil
	default:
		return "", fmt.Errorf("unknown extraction mode %q", s)
	}
}

// Choice is the engine the selector settled on.
type Choice int

const (
	ChoiceNone Choice = iota
	ChoiceArchiveLibrary
	ChoiceShellProcess
)

func (c Choice) String() string {
	switch c {
	case ChoiceNone:
		return "none"
	case ChoiceArchiveLibrary:
		return "archive-library"
	case ChoiceShellProcess:
		return "shell-process"
	default:
		return fmt.Sprintf("choice(%d)", int(c))
	}
}

// Request is what every engine needs to extract the installer folder.
type Request struct {
	ArchivePath  string
	SourceFolder string
	DestDir      string
	Password     string

	// SearchInSubfolder looks for the source folder one level down, under a
	// single wrapper directory.
	SearchInSubfolder bool

	// ManualMarker is the marker file name inside SourceFolder; it is never
	// extracted.
	ManualMarker string

	// LibFolder is the library sub-bundle inside SourceFolder that must be
	// present after extraction. Empty disables the check.
	LibFolder string
}

// Outcome summarizes an extraction run.
type Outcome struct {
	Success       bool
	FailureReason string
	FilesFound    int
}

// Engine extracts the installer folder from an archive.
type Engine interface {
	Extract(ctx context.Context, req Request) (Outcome, error)
}

func failed(err error, files int) (Outcome, error) {
	return Outcome{FailureReason: err.Error(), FilesFound: files}, err
}
