package archive

import (
	"path/filepath"
	"regexp"
)

// Artifact prefixes written next to, or inside, the installer folder.
const (
	ManifestPrefix      = "site-archive"
	DatabasePrefix      = "site-database"
	InstallerDataPrefix = "site-installer-data"
	InstallerLogPrefix  = "site-installer-log"
	ScanPrefix          = "site-scan"
	BootLogPrefix       = "site-installer-bootlog"
	ManualMarkerPrefix  = "site-manual-extract"

	// DefaultSourceFolder is the installer folder name inside the archive.
	DefaultSourceFolder = "site-installer"
	// DefaultInstallerEntry is the next-stage entry point in that folder.
	DefaultInstallerEntry = "main.installer"
	// DefaultLibFolder is the library sub-bundle the next stage depends on.
	DefaultLibFolder = "lib"
)

// ManifestName is the hash-stamped archive manifest.
func ManifestName(hash string) string {
	return ManifestPrefix + "__" + hash + ".txt"
}

// BootLogName is the boot log file name.
func BootLogName(secondaryHash string) string {
	return BootLogPrefix + "__" + secondaryHash + ".txt"
}

// ManualMarkerName is the marker that signals a manual extraction.
func ManualMarkerName(hash string) string {
	return ManualMarkerPrefix + "__" + hash
}

var artifactPattern = regexp.MustCompile(
	`^(` + ManifestPrefix + `|` + DatabasePrefix + `|` + InstallerDataPrefix + `|` +
		InstallerLogPrefix + `|` + ScanPrefix + `)__(.+)\.(txt|sql|json)$`)

// ArtifactHash returns the hash embedded in a hash-stamped artifact name and
// whether the name is one at all.
func ArtifactHash(name string) (string, bool) {
	m := artifactPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", false
	}
	return m[2], true
}
