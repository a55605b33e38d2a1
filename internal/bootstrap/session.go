package bootstrap

import (
	"context"

	"github.com/awnumar/memguard"

	"github.com/slimrmm/siterestore/internal/archive"
	"github.com/slimrmm/siterestore/internal/extract"
	"github.com/slimrmm/siterestore/internal/serverenv"
)

// Session is the state of one bootstrap run. It lives for a single request.
type Session struct {
	RootDir           string
	SourceFolder      string
	TargetFolder      string
	TempExtractionDir string
	ManualMarkerName  string
	// ErrorMessage is the user-facing message of the failed stage.
	ErrorMessage string

	password *memguard.LockedBuffer

	encryption   *archive.Encryption
	capabilities *extract.Capabilities
	environment  *serverenv.Environment
}

// SetPassword stores the verified password in locked memory.
func (s *Session) SetPassword(pw string) {
	s.wipePassword()
	if pw == "" {
		return
	}
	s.password = memguard.NewBufferFromBytes([]byte(pw))
}

// Password returns the verified password, empty when none was needed.
func (s *Session) Password() string {
	if s.password == nil {
		return ""
	}
	return s.password.String()
}

func (s *Session) wipePassword() {
	if s.password != nil {
		s.password.Destroy()
		s.password = nil
	}
}

// Close wipes the session's secrets.
func (s *Session) Close() {
	s.wipePassword()
}

// Encryption probes the archive once per session.
func (s *Session) Encryption(probe func() (archive.Encryption, error)) (archive.Encryption, error) {
	if s.encryption != nil {
		return *s.encryption, nil
	}
	enc, err := probe()
	if err != nil {
		return enc, err
	}
	s.encryption = &enc
	return enc, nil
}

// Capabilities detects the extraction engines once per session.
func (s *Session) Capabilities(ctx context.Context, detect func(context.Context) extract.Capabilities) extract.Capabilities {
	if s.capabilities == nil {
		caps := detect(ctx)
		s.capabilities = &caps
	}
	return *s.capabilities
}

// Environment classifies the host once per session.
func (s *Session) Environment(detect func() serverenv.Environment) serverenv.Environment {
	if s.environment == nil {
		env := detect()
		s.environment = &env
	}
	return *s.environment
}
