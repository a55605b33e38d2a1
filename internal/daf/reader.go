package daf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	secarchive "github.com/slimrmm/siterestore/internal/security/archive"
)

// Hooks is how ExpandDirectory reports progress and applies filesystem
// metadata. Callers decide the default modes and where log lines go.
type Hooks interface {
	Log(msg string)
	Chmod(path string, mode fs.FileMode) error
	Mkdir(path string, mode fs.FileMode) error
}

// ExtraOffset validates the password and returns the offset of the first
// entry, to be passed to ExpandDirectory.
func ExtraOffset(path, password string) (int64, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return 0, err
	}
	if _, err := unlock(h, password); err != nil {
		return 0, err
	}
	return h.Size, nil
}

type entryHeader struct {
	kind uint8
	name string
	mode fs.FileMode
}

type entryReader struct {
	r      *bufio.Reader
	dec    *zstd.Decoder
	cipher *blockCipher
}

func (er *entryReader) next() (entryHeader, error) {
	kind, err := er.r.ReadByte()
	if err != nil {
		return entryHeader{}, fmt.Errorf("%w: missing end marker", ErrCorrupt)
	}
	if kind == kindEnd {
		return entryHeader{kind: kindEnd}, nil
	}
	if kind != kindDir && kind != kindFile {
		return entryHeader{}, fmt.Errorf("%w: unknown entry kind %d", ErrCorrupt, kind)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(er.r, lenBuf[:]); err != nil {
		return entryHeader{}, fmt.Errorf("%w: truncated entry", ErrCorrupt)
	}
	nameLen := binary.LittleEndian.Uint16(lenBuf[:])
	if nameLen == 0 || int(nameLen) > maxPathLen {
		return entryHeader{}, fmt.Errorf("%w: bad name length %d", ErrCorrupt, nameLen)
	}

	rest := make([]byte, int(nameLen)+4)
	if _, err := io.ReadFull(er.r, rest); err != nil {
		return entryHeader{}, fmt.Errorf("%w: truncated entry", ErrCorrupt)
	}

	return entryHeader{
		kind: kind,
		name: string(rest[:nameLen]),
		mode: fs.FileMode(binary.LittleEndian.Uint32(rest[nameLen:])).Perm(),
	}, nil
}

// copyBlocks decodes every block of the current file entry into w and
// returns the number of raw bytes. Write errors on w stop writing but the
// blocks are still consumed so the stream stays aligned.
func (er *entryReader) copyBlocks(w io.Writer) (int64, error) {
	var total int64
	var writeErr error
	for {
		var lens [8]byte
		if _, err := io.ReadFull(er.r, lens[:]); err != nil {
			return total, fmt.Errorf("%w: truncated block header", ErrCorrupt)
		}
		rawLen := binary.LittleEndian.Uint32(lens[0:4])
		dataLen := binary.LittleEndian.Uint32(lens[4:8])
		if rawLen == 0 && dataLen == 0 {
			return total, writeErr
		}
		if rawLen > maxBlockSize || dataLen > 2*maxBlockSize {
			return total, fmt.Errorf("%w: oversized block", ErrCorrupt)
		}

		data := make([]byte, dataLen)
		if _, err := io.ReadFull(er.r, data); err != nil {
			return total, fmt.Errorf("%w: truncated block", ErrCorrupt)
		}
		if w == io.Discard {
			continue
		}

		if er.cipher != nil {
			var err error
			if data, err = er.cipher.open(data); err != nil {
				return total, err
			}
		}
		raw, err := er.dec.DecodeAll(data, make([]byte, 0, rawLen))
		if err != nil {
			return total, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
		}
		if uint32(len(raw)) != rawLen {
			return total, fmt.Errorf("%w: block length mismatch", ErrCorrupt)
		}
		total += int64(len(raw))

		if writeErr == nil {
			if _, err := w.Write(raw); err != nil {
				writeErr = err
				w = io.Discard
			}
		}
	}
}

func matches(name, relPath string) bool {
	relPath = strings.Trim(relPath, "/")
	return relPath == "" || name == relPath || strings.HasPrefix(name, relPath+"/")
}

// ExpandDirectory extracts the entries under relPath into destDir, keeping
// their archive-relative paths. offset must come from ExtraOffset. With
// ignoreErrors set, per-entry filesystem failures are reported through
// hooks.Log and skipped; archive corruption always aborts. It returns the
// number of files written.
func ExpandDirectory(path, relPath, destDir, password string, ignoreErrors bool, offset int64, hooks Hooks) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return 0, err
	}
	bc, err := unlock(h, password)
	if err != nil {
		return 0, err
	}
	if offset < h.Size {
		offset = h.Size
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seeking to entries: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return 0, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	er := &entryReader{r: bufio.NewReaderSize(f, 256*1024), dec: dec, cipher: bc}
	limits := secarchive.DefaultLimits()
	files := 0

	fail := func(err error) error {
		if ignoreErrors {
			hooks.Log(err.Error())
			return nil
		}
		return err
	}

	for {
		entry, err := er.next()
		if err != nil {
			return files, err
		}
		if entry.kind == kindEnd {
			return files, nil
		}

		if !matches(entry.name, relPath) {
			if entry.kind == kindFile {
				if _, err := er.copyBlocks(io.Discard); err != nil {
					return files, err
				}
			}
			continue
		}

		target, err := secarchive.SafeJoin(destDir, entry.name)
		if err != nil {
			return files, err
		}
		if err := secarchive.ValidateEntry(destDir, secarchive.Entry{Name: entry.name, IsDir: entry.kind == kindDir}, limits); err != nil {
			return files, err
		}

		if entry.kind == kindDir {
			if err := hooks.Mkdir(target, entry.mode); err != nil {
				if ferr := fail(fmt.Errorf("creating %s: %w", entry.name, err)); ferr != nil {
					return files, ferr
				}
			}
			continue
		}

		written, err := expandFile(er, target, entry, hooks)
		if err != nil {
			if errors.Is(err, ErrCorrupt) {
				return files, err
			}
			if ferr := fail(fmt.Errorf("writing %s: %w", entry.name, err)); ferr != nil {
				return files, ferr
			}
			continue
		}
		if written {
			files++
		}
	}
}

func expandFile(er *entryReader, target string, entry entryHeader, hooks Hooks) (bool, error) {
	if err := hooks.Mkdir(filepath.Dir(target), 0755); err != nil {
		if _, cerr := er.copyBlocks(io.Discard); cerr != nil {
			return false, cerr
		}
		return false, err
	}

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		if _, cerr := er.copyBlocks(io.Discard); cerr != nil {
			return false, cerr
		}
		return false, err
	}

	_, copyErr := er.copyBlocks(out)
	closeErr := out.Close()
	if copyErr != nil {
		return false, copyErr
	}
	if closeErr != nil {
		return false, closeErr
	}

	if err := hooks.Chmod(target, entry.mode); err != nil {
		hooks.Log(fmt.Sprintf("chmod %s: %v", entry.name, err))
	}
	return true, nil
}
