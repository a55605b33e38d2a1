package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yeka/zip"

	"github.com/slimrmm/siterestore/internal/daf"
	"github.com/slimrmm/siterestore/internal/failure"
)

// Method is the encryption scheme found in an archive.
type Method string

const (
	MethodNone        Method = "none"
	MethodZipCrypto   Method = "zipcrypto"
	MethodAES         Method = "aes"
	MethodDAF         Method = "daf-aes-gcm"
	MethodUnsupported Method = "unsupported"
)

const (
	flagEncrypted       = 0x1
	flagStrongEncrypted = 0x40
	aesExtraID          = 0x9901
)

var (
	ErrNoEncryptedEntry = errors.New("archive has no encrypted entry")
	ErrWrongPassword    = errors.New("wrong archive password")
)

// Encryption is the probe result.
type Encryption struct {
	Encrypted bool
	Method    Method
}

// UnsupportedFormat wraps a DAF header error this installer cannot handle.
func UnsupportedFormat(err error) error {
	return &failure.CapabilityError{
		Reason:      "The archive format version is not supported by this installer.",
		Remediation: "Download the installer that was generated together with the archive.",
		Err:         err,
	}
}

// Probe reports whether the archive at path requires a password.
func Probe(path string, kind Kind) (Encryption, error) {
	if kind == KindDAF {
		enc, err := daf.IsEncrypted(path)
		if daf.Unsupported(err) {
			return Encryption{}, UnsupportedFormat(err)
		}
		if err != nil {
			return Encryption{}, &failure.ValidationError{Reason: "The archive could not be read.", Err: err}
		}
		if enc {
			return Encryption{Encrypted: true, Method: MethodDAF}, nil
		}
		return Encryption{Method: MethodNone}, nil
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return Encryption{}, &failure.ValidationError{
			Reason:      "The archive could not be opened as a zip file.",
			Remediation: "The upload may be damaged. Upload the archive again.",
			Err:         err,
		}
	}
	defer r.Close()

	result := Encryption{Method: MethodNone}
	for _, f := range r.File {
		if f.Flags&flagEncrypted == 0 {
			continue
		}
		result.Encrypted = true
		switch {
		case f.Flags&flagStrongEncrypted != 0:
			// Strong encryption cannot be decrypted by any engine here.
			return Encryption{Encrypted: true, Method: MethodUnsupported}, nil
		case hasExtra(f.Extra, aesExtraID):
			result.Method = MethodAES
		case result.Method != MethodAES:
			result.Method = MethodZipCrypto
		}
	}
	return result, nil
}

func hasExtra(extra []byte, id uint16) bool {
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		if tag == id {
			return true
		}
		if len(extra) < 4+size {
			return false
		}
		extra = extra[4+size:]
	}
	return false
}

// CheckZipPassword decrypts one entry with password. The entry named marker
// is preferred; without it the first encrypted entry is used. Any read or
// integrity failure means the password is wrong.
func CheckZipPassword(path, marker, password string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	var target *zip.File
	for _, f := range r.File {
		if !f.IsEncrypted() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if f.Name == marker {
			target = f
			break
		}
		if target == nil {
			target = f
		}
	}
	if target == nil {
		return ErrNoEncryptedEntry
	}

	target.SetPassword(password)
	rc, err := target.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrongPassword, err)
	}
	_, copyErr := io.Copy(io.Discard, rc)
	closeErr := rc.Close()
	if copyErr != nil {
		return fmt.Errorf("%w: %v", ErrWrongPassword, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: %v", ErrWrongPassword, closeErr)
	}
	return nil
}
