package reconcile

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/slimrmm/siterestore/internal/failure"
	"github.com/slimrmm/siterestore/internal/testutil"
)

func TestPurgeStale(t *testing.T) {
	dir := t.TempDir()
	keep := []string{
		"site-archive__cur-1.txt",
		"site-database__cur-1.sql",
		"main.installer",
		"notes.txt",
	}
	stale := []string{
		"site-archive__old-9.txt",
		"site-database__old-9.sql",
		"site-installer-data__old-9.sql",
		"site-installer-log__old-9.txt",
		"site-scan__old-9.json",
	}
	for _, name := range append(append([]string{}, keep...), stale...) {
		testutil.WriteFile(t, dir, name, "x")
	}

	removed, err := PurgeStale(dir, "cur-1")
	if err != nil {
		t.Fatalf("PurgeStale failed: %v", err)
	}
	sort.Strings(removed)
	sort.Strings(stale)
	if len(removed) != len(stale) {
		t.Fatalf("removed %v, want %v", removed, stale)
	}
	for i := range stale {
		if removed[i] != stale[i] {
			t.Errorf("removed[%d] = %q, want %q", i, removed[i], stale[i])
		}
	}
	for _, name := range keep {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should be preserved: %v", name, err)
		}
	}
}

func TestPurgeStaleMissingDir(t *testing.T) {
	removed, err := PurgeStale(filepath.Join(t.TempDir(), "nope"), "h")
	if err != nil || len(removed) != 0 {
		t.Errorf("PurgeStale(missing) = %v, %v", removed, err)
	}
}

func TestRelocate(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "site-installer/main.installer", "new")
	testutil.WriteFile(t, root, "custom/stale.txt", "old")

	if err := Relocate(root, "site-installer", "custom"); err != nil {
		t.Fatalf("Relocate failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "site-installer")); !os.IsNotExist(err) {
		t.Error("source folder should be gone")
	}
	if _, err := os.Stat(filepath.Join(root, "custom", "stale.txt")); !os.IsNotExist(err) {
		t.Error("pre-existing target content should be removed")
	}
	got, _ := os.ReadFile(filepath.Join(root, "custom", "main.installer"))
	if string(got) != "new" {
		t.Errorf("main.installer = %q, want new", got)
	}

	if err := Relocate(root, "same", "same"); err != nil {
		t.Errorf("Relocate(same) = %v", err)
	}
	if err := Relocate(root, "missing", "x"); failure.KindOf(err) != failure.KindExtraction {
		t.Errorf("Relocate(missing) = %v, want ExtractionError", err)
	}
}

func TestRemoveAccessRestriction(t *testing.T) {
	dir := t.TempDir()

	removed, err := RemoveAccessRestriction(dir)
	if err != nil || removed {
		t.Errorf("RemoveAccessRestriction(none) = %v, %v", removed, err)
	}

	testutil.WriteFile(t, dir, AccessRestrictionFile, "Deny from all")
	removed, err = RemoveAccessRestriction(dir)
	if err != nil || !removed {
		t.Errorf("RemoveAccessRestriction = %v, %v", removed, err)
	}
}

func TestIsExtracted(t *testing.T) {
	dir := t.TempDir()
	if IsExtracted(dir, "main.installer", "h-1") {
		t.Error("empty dir reported as extracted")
	}
	testutil.WriteFile(t, dir, "main.installer", "x")
	if IsExtracted(dir, "main.installer", "h-1") {
		t.Error("dir without manifest reported as extracted")
	}
	testutil.WriteFile(t, dir, "site-archive__h-1.txt", "x")
	if !IsExtracted(dir, "main.installer", "h-1") {
		t.Error("complete dir not reported as extracted")
	}
}

func TestFixPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX modes only")
	}
	dir := t.TempDir()
	file := testutil.WriteFile(t, dir, "a/b/c.txt", "x")
	os.Chmod(file, 0600)
	os.Chmod(filepath.Join(dir, "a", "b"), 0700)

	if err := FixPermissions(dir, PermExplicit, 0750, 0640); err != nil {
		t.Fatalf("FixPermissions failed: %v", err)
	}
	info, _ := os.Stat(file)
	if info.Mode().Perm() != 0640 {
		t.Errorf("file mode = %o, want 640", info.Mode().Perm())
	}
	info, _ = os.Stat(filepath.Join(dir, "a", "b"))
	if info.Mode().Perm() != 0750 {
		t.Errorf("dir mode = %o, want 750", info.Mode().Perm())
	}

	if err := FixPermissions(dir, PermDefault, 0, 0); err != nil {
		t.Fatalf("FixPermissions(default) failed: %v", err)
	}
	info, _ = os.Stat(file)
	if want := 0666 &^ Umask(); info.Mode().Perm() != want {
		t.Errorf("file mode = %o, want %o", info.Mode().Perm(), want)
	}
}
