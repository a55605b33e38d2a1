package bootstrap

// State is a step of a bootstrap run.
type State int

const (
	StateStart State = iota
	StateHashCheck
	StateManualMarkerCheck
	StateSizeCheck
	StateEncryptionCheck
	StatePasswordGate
	StateEngineCheck
	StatePurgeStaleArtifacts
	StateExtract
	StateReconcile
	StateVerifyInstallerPresent
	StateAdaptEnvironment
	StateSecureHandoff
	StateRedirect
)

var stateNames = [...]string{
	StateStart:                  "start",
	StateHashCheck:              "hash-check",
	StateManualMarkerCheck:      "manual-marker-check",
	StateSizeCheck:              "size-check",
	StateEncryptionCheck:        "encryption-check",
	StatePasswordGate:           "password-gate",
	StateEngineCheck:            "engine-check",
	StatePurgeStaleArtifacts:    "purge-stale-artifacts",
	StateExtract:                "extract",
	StateReconcile:              "reconcile",
	StateVerifyInstallerPresent: "verify-installer-present",
	StateAdaptEnvironment:       "adapt-environment",
	StateSecureHandoff:          "secure-handoff",
	StateRedirect:               "redirect",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
