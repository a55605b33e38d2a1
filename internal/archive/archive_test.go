package archive

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/slimrmm/siterestore/internal/daf"
	"github.com/slimrmm/siterestore/internal/failure"
	"github.com/slimrmm/siterestore/internal/testutil"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		name     string
		wantHash string
		wantKind Kind
	}{
		{"pkg_ab3x9z2_2024010100123456_archive.zip", "ab3x9z2-00123456", KindZip},
		{"my_site_1a2b3c4d5e6f_20240101123456_archive.zip", "1a2b3c4-01123456", KindZip},
		{"/var/www/pkg_ab3x9z2_2024010100123456_archive.daf", "ab3x9z2-00123456", KindDAF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseName(tt.name)
			if err != nil {
				t.Fatalf("ParseName failed: %v", err)
			}
			if info.Hash() != tt.wantHash {
				t.Errorf("Hash() = %q, want %q", info.Hash(), tt.wantHash)
			}
			if info.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", info.Kind, tt.wantKind)
			}
		})
	}
}

func TestParseNameRejects(t *testing.T) {
	names := []string{
		"archive.zip",
		"pkg_ab3x9z_2024010100123456_archive.zip", // fragment too short
		"pkg_ab3x9z2_1234567_archive.zip",         // stamp too short
		"pkg_AB3X9Z2_2024010100123456_archive.zip",
		"pkg_ab3x9z2_2024010100123456_archive.tar",
	}
	for _, name := range names {
		if _, err := ParseName(name); err == nil {
			t.Errorf("ParseName(%q) succeeded, want error", name)
		}
	}
}

func TestValidateHash(t *testing.T) {
	if err := ValidateHash(testutil.ArchiveName, testutil.PackageHash); err != nil {
		t.Errorf("ValidateHash(match) = %v", err)
	}

	err := ValidateHash("pkg_ab3x9z2_2024010100123457_archive.zip", testutil.PackageHash)
	if failure.KindOf(err) != failure.KindValidation {
		t.Errorf("ValidateHash(mismatch) kind = %v, want validation", failure.KindOf(err))
	}
}

func TestSizeRatioBoundary(t *testing.T) {
	tests := []struct {
		actual, declared int64
		want             bool
	}{
		{89, 100, false},
		{90, 100, true},
		{100, 100, true},
		{899_999, 1_000_000, false},
		{900_000, 1_000_000, true},
		{0, 0, true},
	}
	for _, tt := range tests {
		if got := SizeRatioOK(tt.actual, tt.declared, MinSizeRatio); got != tt.want {
			t.Errorf("SizeRatioOK(%d, %d) = %v, want %v", tt.actual, tt.declared, got, tt.want)
		}
	}
}

func TestPackageCheckSize(t *testing.T) {
	p := &Package{DeclaredSize: 1000, ActualSize: 890}
	if err := p.CheckSize(0); failure.KindOf(err) != failure.KindValidation {
		t.Errorf("CheckSize(89%%) = %v, want ValidationError", err)
	}

	p.ActualSize = 900
	if err := p.CheckSize(0); err != nil {
		t.Errorf("CheckSize(90%%) = %v, want nil", err)
	}

	p = &Package{ActualSize: 1}
	if err := p.CheckSize(0); err != nil {
		t.Errorf("CheckSize(unknown declared) = %v, want nil", err)
	}
}

func TestPackageStat(t *testing.T) {
	dir := t.TempDir()
	p := &Package{Path: filepath.Join(dir, testutil.ArchiveName)}

	if err := p.Stat(); failure.KindOf(err) != failure.KindValidation {
		t.Errorf("Stat(missing) = %v, want ValidationError", err)
	}

	os.WriteFile(p.Path, []byte("12345"), 0644)
	if err := p.Stat(); err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if p.ActualSize != 5 || p.Kind != KindZip {
		t.Errorf("Stat = size %d kind %v", p.ActualSize, p.Kind)
	}
}

func TestLocate(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()

	// Missing file: raw candidate in root.
	got := Locate(root, "", testutil.ArchiveName)
	if got != filepath.Join(root, testutil.ArchiveName) {
		t.Errorf("Locate(missing) = %q", got)
	}

	// Override directory wins.
	os.WriteFile(filepath.Join(other, testutil.ArchiveName), []byte("x"), 0644)
	os.WriteFile(filepath.Join(root, testutil.ArchiveName), []byte("x"), 0644)
	got = Locate(root, other, testutil.ArchiveName)
	want, _ := filepath.EvalSymlinks(filepath.Join(other, testutil.ArchiveName))
	if got != want {
		t.Errorf("Locate(override) = %q, want %q", got, want)
	}

	// Only the base name of the archive is used.
	got = Locate(root, "", "../../"+testutil.ArchiveName)
	want, _ = filepath.EvalSymlinks(filepath.Join(root, testutil.ArchiveName))
	if got != want {
		t.Errorf("Locate(traversal name) = %q, want %q", got, want)
	}
}

func TestArtifactHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
		ok   bool
	}{
		{"site-archive__abc-123.txt", "abc-123", true},
		{"site-database__abc-123.sql", "abc-123", true},
		{"site-installer-data__x.sql", "x", true},
		{"site-installer-log__x.txt", "x", true},
		{"site-scan__x.json", "x", true},
		{"site-archive__x.sql", "", false},
		{"main.installer", "", false},
	}
	for _, tt := range tests {
		hash, ok := ArtifactHash(tt.name)
		if hash != tt.hash || ok != tt.ok {
			t.Errorf("ArtifactHash(%q) = %q, %v; want %q, %v", tt.name, hash, ok, tt.hash, tt.ok)
		}
	}
}

func TestProbeZip(t *testing.T) {
	dir := t.TempDir()
	entries := testutil.InstallerEntries("", DefaultSourceFolder, testutil.PackageHash, 2)

	plain := filepath.Join(dir, "plain.zip")
	testutil.WriteZip(t, plain, entries, "")
	enc, err := Probe(plain, KindZip)
	if err != nil || enc.Encrypted {
		t.Errorf("Probe(plain) = %+v, %v", enc, err)
	}

	locked := filepath.Join(dir, "locked.zip")
	testutil.WriteZip(t, locked, entries, "s3cret")
	enc, err = Probe(locked, KindZip)
	if err != nil {
		t.Fatalf("Probe(locked) failed: %v", err)
	}
	if !enc.Encrypted || enc.Method != MethodAES {
		t.Errorf("Probe(locked) = %+v, want AES", enc)
	}

	garbage := filepath.Join(dir, "garbage.zip")
	os.WriteFile(garbage, []byte("not a zip"), 0644)
	if _, err := Probe(garbage, KindZip); failure.KindOf(err) != failure.KindValidation {
		t.Errorf("Probe(garbage) = %v, want ValidationError", err)
	}
}

func TestProbeDAF(t *testing.T) {
	src := filepath.Join(t.TempDir(), DefaultSourceFolder)
	testutil.WriteFile(t, src, DefaultInstallerEntry, "x")

	path := filepath.Join(t.TempDir(), "a.daf")
	if err := daf.PackDir(path, src, daf.WriterOptions{Password: "pw", Iterations: 1000}); err != nil {
		t.Fatalf("PackDir failed: %v", err)
	}
	enc, err := Probe(path, KindDAF)
	if err != nil || !enc.Encrypted || enc.Method != MethodDAF {
		t.Errorf("Probe(daf) = %+v, %v", enc, err)
	}
}

func TestProbeDAFUnsupportedVersion(t *testing.T) {
	src := filepath.Join(t.TempDir(), DefaultSourceFolder)
	testutil.WriteFile(t, src, DefaultInstallerEntry, "x")

	path := filepath.Join(t.TempDir(), "a.daf")
	if err := daf.PackDir(path, src, daf.WriterOptions{}); err != nil {
		t.Fatalf("PackDir failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint16(data[4:6], 99)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	_, err = Probe(path, KindDAF)
	if failure.KindOf(err) != failure.KindCapability || !errors.Is(err, daf.ErrUnsupportedVersion) {
		t.Errorf("Probe() error = %v, want a capability error", err)
	}
}

func TestCheckZipPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), testutil.ArchiveName)
	entries := testutil.InstallerEntries("", DefaultSourceFolder, testutil.PackageHash, 1)
	testutil.WriteZip(t, path, entries, "s3cret")

	marker := DefaultSourceFolder + "/" + ManifestName(testutil.PackageHash)
	if err := CheckZipPassword(path, marker, "s3cret"); err != nil {
		t.Errorf("CheckZipPassword(correct) = %v", err)
	}
	if err := CheckZipPassword(path, marker, "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("CheckZipPassword(wrong) = %v, want ErrWrongPassword", err)
	}
	// Falls back to the first encrypted entry.
	if err := CheckZipPassword(path, "missing", "s3cret"); err != nil {
		t.Errorf("CheckZipPassword(fallback) = %v", err)
	}

	plain := filepath.Join(t.TempDir(), "plain.zip")
	testutil.WriteZip(t, plain, entries, "")
	if err := CheckZipPassword(plain, marker, "x"); !errors.Is(err, ErrNoEncryptedEntry) {
		t.Errorf("CheckZipPassword(plain) = %v, want ErrNoEncryptedEntry", err)
	}
}
