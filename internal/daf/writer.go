package daf

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// WriterOptions configures a new archive.
type WriterOptions struct {
	// Password enables encryption when non-empty.
	Password   string
	Iterations uint32
	BlockSize  int
}

// Writer streams entries into a DAF archive.
type Writer struct {
	w         io.Writer
	enc       *zstd.Encoder
	cipher    *blockCipher
	blockSize int
	closed    bool
}

// NewWriter writes the archive header to w.
func NewWriter(w io.Writer, opts WriterOptions) (*Writer, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BlockSize > maxBlockSize {
		return nil, fmt.Errorf("block size %d exceeds %d", opts.BlockSize, maxBlockSize)
	}
	if opts.Iterations == 0 {
		opts.Iterations = DefaultIterations
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dw := &Writer{w: w, enc: enc, blockSize: opts.BlockSize}

	header := make([]byte, fixedHeaderLen)
	copy(header, magic)
	binary.LittleEndian.PutUint16(header[4:6], formatVersion)

	if opts.Password != "" {
		if opts.Iterations < minIterations || opts.Iterations > maxIterations {
			return nil, fmt.Errorf("iteration count %d out of range", opts.Iterations)
		}
		binary.LittleEndian.PutUint16(header[6:8], flagEncrypted)

		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generating salt: %w", err)
		}
		key := deriveKey(opts.Password, salt, opts.Iterations)
		if dw.cipher, err = newBlockCipher(key); err != nil {
			return nil, err
		}

		header = binary.LittleEndian.AppendUint32(header, opts.Iterations)
		header = append(header, salt...)
		header = append(header, verifierFor(key)...)
	}

	if _, err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	return dw, nil
}

func (dw *Writer) writeEntryHeader(kind uint8, name string, mode fs.FileMode) error {
	if dw.closed {
		return errors.New("daf writer is closed")
	}
	name = strings.TrimSuffix(filepath.ToSlash(name), "/")
	if name == "" || len(name) > maxPathLen {
		return fmt.Errorf("invalid entry name %q", name)
	}

	buf := make([]byte, 0, 1+2+len(name)+4)
	buf = append(buf, kind)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(name)))
	buf = append(buf, name...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(mode.Perm()))
	_, err := dw.w.Write(buf)
	return err
}

// AddDir records a directory entry.
func (dw *Writer) AddDir(name string, mode fs.FileMode) error {
	return dw.writeEntryHeader(kindDir, name, mode)
}

// AddFile records a file entry with the content read from r.
func (dw *Writer) AddFile(name string, mode fs.FileMode, r io.Reader) error {
	if err := dw.writeEntryHeader(kindFile, name, mode); err != nil {
		return err
	}

	raw := make([]byte, dw.blockSize)
	for {
		n, err := io.ReadFull(r, raw)
		if n > 0 {
			if werr := dw.writeBlock(raw[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
	}

	var end [8]byte
	_, err := dw.w.Write(end[:])
	return err
}

func (dw *Writer) writeBlock(raw []byte) error {
	data := dw.enc.EncodeAll(raw, nil)
	if dw.cipher != nil {
		sealed, err := dw.cipher.seal(data)
		if err != nil {
			return err
		}
		data = sealed
	}

	var lens [8]byte
	binary.LittleEndian.PutUint32(lens[0:4], uint32(len(raw)))
	binary.LittleEndian.PutUint32(lens[4:8], uint32(len(data)))
	if _, err := dw.w.Write(lens[:]); err != nil {
		return err
	}
	_, err := dw.w.Write(data)
	return err
}

// Close writes the end marker. It does not close the underlying writer.
func (dw *Writer) Close() error {
	if dw.closed {
		return nil
	}
	dw.closed = true
	dw.enc.Close()
	_, err := dw.w.Write([]byte{kindEnd})
	return err
}

// PackDir writes every file below srcDir into a new archive at dst. Entry
// names are relative to the parent of srcDir, so the folder name is kept.
func PackDir(dst, srcDir string, opts WriterOptions) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	dw, err := NewWriter(out, opts)
	if err != nil {
		return err
	}

	base := filepath.Dir(filepath.Clean(srcDir))
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return dw.AddDir(rel, info.Mode())
		}
		if !d.Type().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return dw.AddFile(rel, info.Mode(), f)
	})
	if err != nil {
		return fmt.Errorf("packing %s: %w", srcDir, err)
	}

	if err := dw.Close(); err != nil {
		return err
	}
	return out.Close()
}
