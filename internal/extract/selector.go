package extract

import (
	"fmt"

	"github.com/slimrmm/siterestore/internal/archive"
	"github.com/slimrmm/siterestore/internal/failure"
)

// Select picks an engine from the override, the host capabilities and the
// archive kind and encryption. It has no side effects.
func Select(mode Mode, caps Capabilities, kind archive.Kind, enc archive.Encryption) (Choice, error) {
	if enc.Method == archive.MethodUnsupported {
		return ChoiceNone, &failure.CapabilityError{
			Reason:      "The archive uses an encryption method that cannot be decrypted here.",
			Remediation: "Rebuild the package with AES or standard zip encryption, or without a password.",
		}
	}
	if kind == archive.KindDAF {
		// DAF is only readable in process.
		return ChoiceArchiveLibrary, nil
	}
	// The external utility cannot decrypt AES entries.
	shellUsable := caps.ShellExec && enc.Method != archive.MethodAES

	switch mode {
	case ModeArchiveLibrary:
		if caps.ArchiveLibrary {
			return ChoiceArchiveLibrary, nil
		}
		return ChoiceNone, &failure.CapabilityError{
			Reason:      "The archive library engine was requested but is not available.",
			Remediation: "Use the automatic extraction mode or enable the archive library.",
		}
	case ModeShell:
		if shellUsable {
			return ChoiceShellProcess, nil
		}
		if caps.ShellExec {
			return ChoiceNone, &failure.CapabilityError{
				Reason:      "The unzip utility cannot decrypt AES encrypted archives.",
				Remediation: "Use the automatic extraction mode.",
			}
		}
		return ChoiceNone, &failure.CapabilityError{
			Reason:      "Shell extraction was requested but the unzip utility is not available.",
			Remediation: "Install unzip or use the automatic extraction mode.",
		}
	}

	if caps.ArchiveLibrary {
		return ChoiceArchiveLibrary, nil
	}
	if shellUsable {
		return ChoiceShellProcess, nil
	}
	if caps.ShellExec {
		return ChoiceNone, &failure.CapabilityError{
			Reason:      "The archive is AES encrypted and only the unzip utility is available, which cannot decrypt it.",
			Remediation: "Enable the archive library engine or extract the archive manually.",
		}
	}
	return ChoiceNone, &failure.CapabilityError{
		Reason:      "No extraction engine is available on this server.",
		Remediation: "Enable the archive library, install unzip, or extract the archive manually and reload the installer.",
	}
}

// Engines maps a choice and archive kind to a concrete engine.
type Engines struct {
	Library     Engine
	Shell       Engine
	Proprietary Engine
}

// For returns the engine for choice. DAF archives always use the
// proprietary engine.
func (s Engines) For(choice Choice, kind archive.Kind) (Engine, error) {
	var e Engine
	switch {
	case kind == archive.KindDAF:
		e = s.Proprietary
	case choice == ChoiceArchiveLibrary:
		e = s.Library
	case choice == ChoiceShellProcess:
		e = s.Shell
	}
	if e == nil {
		return nil, &failure.CapabilityError{
			Reason: fmt.Sprintf("No %s engine is configured for %s archives.", choice, kind),
		}
	}
	return e, nil
}
