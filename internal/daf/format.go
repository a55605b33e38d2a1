// Package daf implements the DAF block archive used for site snapshots that
// are too large for zip hosts to handle.
//
// Layout (little endian):
//
//	magic "DAF1" | version u16 | flags u16
//	[encrypted] iterations u32 | salt [16] | verifier [32]
//	entries...
//	  kind u8 (0 end, 1 dir, 2 file) | pathLen u16 | path | mode u32
//	  [file] blocks: rawLen u32 | dataLen u32 | data, ending with 0|0
//
// Block data is zstd compressed, then sealed with AES-256-GCM (nonce prefixed)
// when the archive is encrypted.
package daf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	Extension = ".daf"

	magic           = "DAF1"
	formatVersion   = 1
	flagEncrypted   = 1 << 0
	saltSize        = 16
	verifierSize    = 32
	fixedHeaderLen  = 4 + 2 + 2
	cryptoHeaderLen = 4 + saltSize + verifierSize

	kindEnd  uint8 = 0
	kindDir  uint8 = 1
	kindFile uint8 = 2

	// DefaultBlockSize is the uncompressed size of a data block.
	DefaultBlockSize = 1 << 20
	maxBlockSize     = 16 << 20
	maxPathLen       = 4096
)

var (
	ErrNotDAF             = errors.New("not a DAF archive")
	ErrUnsupportedVersion = errors.New("unsupported DAF version")
	ErrUnsupportedFlags   = errors.New("unsupported DAF flags")
	ErrWrongPassword      = errors.New("wrong archive password")
	ErrPasswordRequired   = errors.New("archive is encrypted")
	ErrCorrupt            = errors.New("corrupt DAF archive")
)

// Header is the decoded archive header.
type Header struct {
	Version    uint16
	Encrypted  bool
	Iterations uint32
	Salt       []byte
	Verifier   []byte

	// Size is the byte offset of the first entry.
	Size int64
}

func readHeader(r io.Reader) (Header, error) {
	var fixed [fixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrNotDAF, err)
	}
	if string(fixed[:4]) != magic {
		return Header{}, ErrNotDAF
	}

	h := Header{
		Version: binary.LittleEndian.Uint16(fixed[4:6]),
		Size:    fixedHeaderLen,
	}
	if h.Version != formatVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}

	flags := binary.LittleEndian.Uint16(fixed[6:8])
	if flags&^flagEncrypted != 0 {
		return Header{}, fmt.Errorf("%w: %#x", ErrUnsupportedFlags, flags)
	}
	h.Encrypted = flags&flagEncrypted != 0
	if !h.Encrypted {
		return h, nil
	}

	var crypto [cryptoHeaderLen]byte
	if _, err := io.ReadFull(r, crypto[:]); err != nil {
		return Header{}, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	h.Iterations = binary.LittleEndian.Uint32(crypto[0:4])
	h.Salt = append([]byte(nil), crypto[4:4+saltSize]...)
	h.Verifier = append([]byte(nil), crypto[4+saltSize:]...)
	h.Size += cryptoHeaderLen

	if h.Iterations < minIterations || h.Iterations > maxIterations {
		return Header{}, fmt.Errorf("%w: iteration count %d", ErrCorrupt, h.Iterations)
	}
	return h, nil
}

// ReadHeader decodes the header of the archive at path.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	return readHeader(f)
}

// IsEncrypted reports whether the archive at path requires a password.
// Unsupported reports whether err comes from a header this reader cannot
// handle.
func Unsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedVersion) || errors.Is(err, ErrUnsupportedFlags)
}

func IsEncrypted(path string) (bool, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return false, err
	}
	return h.Encrypted, nil
}
