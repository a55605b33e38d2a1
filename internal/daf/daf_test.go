package daf

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingHooks struct {
	logs   []string
	chmods map[string]fs.FileMode
}

func (h *recordingHooks) Log(msg string) { h.logs = append(h.logs, msg) }

func (h *recordingHooks) Chmod(path string, mode fs.FileMode) error {
	if h.chmods == nil {
		h.chmods = make(map[string]fs.FileMode)
	}
	h.chmods[path] = mode
	return os.Chmod(path, mode)
}

func (h *recordingHooks) Mkdir(path string, mode fs.FileMode) error {
	return os.MkdirAll(path, 0755)
}

func writeArchive(t *testing.T, opts WriterOptions, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, opts)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.AddDir("site-installer", 0755); err != nil {
		t.Fatalf("AddDir failed: %v", err)
	}
	for name, content := range files {
		if err := w.AddFile(name, 0640, strings.NewReader(content)); err != nil {
			t.Fatalf("AddFile(%s) failed: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "pkg_ab3x9z2_2024010100123456_archive.daf")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing archive: %v", err)
	}
	return path
}

func TestRoundTripPlain(t *testing.T) {
	files := map[string]string{
		"site-installer/main.installer": "installer",
		"site-installer/lib/a.txt":      strings.Repeat("a", 3000),
		"wp-content/uploads/big.jpg":    "not extracted",
	}
	path := writeArchive(t, WriterOptions{BlockSize: 1024}, files)

	enc, err := IsEncrypted(path)
	if err != nil || enc {
		t.Fatalf("IsEncrypted = %v, %v; want false", enc, err)
	}

	offset, err := ExtraOffset(path, "")
	if err != nil {
		t.Fatalf("ExtraOffset failed: %v", err)
	}
	if offset != fixedHeaderLen {
		t.Errorf("offset = %d, want %d", offset, fixedHeaderLen)
	}

	dest := t.TempDir()
	hooks := &recordingHooks{}
	n, err := ExpandDirectory(path, "site-installer", dest, "", false, offset, hooks)
	if err != nil {
		t.Fatalf("ExpandDirectory failed: %v", err)
	}
	if n != 2 {
		t.Errorf("files = %d, want 2", n)
	}

	got, err := os.ReadFile(filepath.Join(dest, "site-installer", "lib", "a.txt"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(got) != files["site-installer/lib/a.txt"] {
		t.Errorf("content mismatch: got %d bytes", len(got))
	}
	if _, err := os.Stat(filepath.Join(dest, "wp-content")); !os.IsNotExist(err) {
		t.Error("entries outside the requested folder were extracted")
	}
	if mode := hooks.chmods[filepath.Join(dest, "site-installer", "main.installer")]; mode != 0640 {
		t.Errorf("chmod mode = %o, want 640", mode)
	}
}

func TestRoundTripEncrypted(t *testing.T) {
	opts := WriterOptions{Password: "correct horse", Iterations: minIterations}
	path := writeArchive(t, opts, map[string]string{
		"site-installer/main.installer": "secret installer",
	})

	enc, err := IsEncrypted(path)
	if err != nil || !enc {
		t.Fatalf("IsEncrypted = %v, %v; want true", enc, err)
	}

	if err := CheckPassword(path, "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("CheckPassword(wrong) = %v, want ErrWrongPassword", err)
	}
	if err := CheckPassword(path, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("CheckPassword(empty) = %v, want ErrPasswordRequired", err)
	}
	if err := CheckPassword(path, "correct horse"); err != nil {
		t.Fatalf("CheckPassword(correct) = %v", err)
	}

	offset, err := ExtraOffset(path, "correct horse")
	if err != nil {
		t.Fatalf("ExtraOffset failed: %v", err)
	}
	if offset != fixedHeaderLen+cryptoHeaderLen {
		t.Errorf("offset = %d, want %d", offset, fixedHeaderLen+cryptoHeaderLen)
	}

	dest := t.TempDir()
	if _, err := ExpandDirectory(path, "site-installer", dest, "wrong", false, offset, &recordingHooks{}); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("ExpandDirectory(wrong) = %v, want ErrWrongPassword", err)
	}

	n, err := ExpandDirectory(path, "site-installer", dest, "correct horse", false, offset, &recordingHooks{})
	if err != nil || n != 1 {
		t.Fatalf("ExpandDirectory = %d, %v", n, err)
	}
	got, _ := os.ReadFile(filepath.Join(dest, "site-installer", "main.installer"))
	if string(got) != "secret installer" {
		t.Errorf("content = %q", got)
	}
}

func TestCorruptBlockIsFatal(t *testing.T) {
	path := writeArchive(t, WriterOptions{Password: "pw", Iterations: minIterations}, map[string]string{
		"site-installer/x.txt": strings.Repeat("x", 100),
	})
	data, _ := os.ReadFile(path)
	data[len(data)-20] ^= 0xff
	os.WriteFile(path, data, 0644)

	_, err := ExpandDirectory(path, "site-installer", t.TempDir(), "pw", true, 0, &recordingHooks{})
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("error = %v, want ErrCorrupt even with ignoreErrors", err)
	}
}

func TestZipSlipRejected(t *testing.T) {
	path := writeArchive(t, WriterOptions{}, map[string]string{
		"site-installer/../../escape.txt": "x",
	})

	_, err := ExpandDirectory(path, "", t.TempDir(), "", false, 0, &recordingHooks{})
	if err == nil {
		t.Fatal("expected traversal entry to be rejected")
	}
}

func TestNotDAF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.daf")
	os.WriteFile(path, []byte("PK\x03\x04 not a daf"), 0644)

	if _, err := ReadHeader(path); !errors.Is(err, ErrNotDAF) {
		t.Errorf("ReadHeader = %v, want ErrNotDAF", err)
	}
}

func TestPackDir(t *testing.T) {
	src := filepath.Join(t.TempDir(), "site-installer")
	os.MkdirAll(filepath.Join(src, "lib"), 0755)
	for i := 0; i < 3; i++ {
		os.WriteFile(filepath.Join(src, "lib", fmt.Sprintf("f%d.txt", i)), []byte("data"), 0644)
	}

	dst := filepath.Join(t.TempDir(), "out.daf")
	if err := PackDir(dst, src, WriterOptions{}); err != nil {
		t.Fatalf("PackDir failed: %v", err)
	}

	dest := t.TempDir()
	n, err := ExpandDirectory(dst, "site-installer", dest, "", false, 0, &recordingHooks{})
	if err != nil || n != 3 {
		t.Fatalf("ExpandDirectory = %d, %v; want 3 files", n, err)
	}
}
