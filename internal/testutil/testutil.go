// Package testutil builds archive fixtures for package tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/yeka/zip"
)

// ArchiveName is a package archive name whose hash is ab3x9z2-00123456.
const (
	ArchiveName = "pkg_ab3x9z2_2024010100123456_archive.zip"
	PackageHash = "ab3x9z2-00123456"
)

// WriteZip writes entries to a zip at path. Names ending in "/" become
// directories. A non-empty password encrypts every file with AES-256.
func WriteZip(t testing.TB, path string, entries map[string]string, password string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating zip: %v", err)
	}
	defer f.Close()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	w := zip.NewWriter(f)
	for _, name := range names {
		if strings.HasSuffix(name, "/") || password == "" {
			fw, err := w.Create(name)
			if err != nil {
				t.Fatalf("creating entry %s: %v", name, err)
			}
			fw.Write([]byte(entries[name]))
			continue
		}
		fw, err := w.Encrypt(name, password, zip.AES256Encryption)
		if err != nil {
			t.Fatalf("creating encrypted entry %s: %v", name, err)
		}
		fw.Write([]byte(entries[name]))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
}

// InstallerEntries returns a typical installer folder with n filler files,
// the entry point and the manifest, rooted at prefix+source.
func InstallerEntries(prefix, source, hash string, n int) map[string]string {
	base := prefix + source + "/"
	entries := make(map[string]string)
	entries[base] = ""
	entries[base+"main.installer"] = "installer entry"
	entries[base+"site-archive__"+hash+".txt"] = "manifest"
	entries[base+"lib/"] = ""
	entries[base+"lib/bootstrap.inc"] = "library"
	entries[base+"site-manual-extract__"+hash] = "marker"
	for i := 0; i < n; i++ {
		entries[fmt.Sprintf("%sassets/file%02d.txt", base, i)] = fmt.Sprintf("content %d", i)
	}
	return entries
}

// WriteFile writes content to dir/name, creating parents.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
