package bootstrap

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// maxFormBytes bounds the request body accepted by the handler.
const maxFormBytes = 64 << 10

// Request parameter names.
const (
	ParamArchive      = "archive"
	ParamDupFolder    = "dup_folder"
	ParamForceExtract = "force-extract-installer"
	ParamZipMode      = "zipmode"
	ParamPassword     = "password"
	ParamSecureTry    = "secure-try"
)

// Params are the per-request inputs of a run.
type Params struct {
	// ArchiveDir overrides the directory the archive is looked up in.
	ArchiveDir string
	// DupFolder renames the installer folder after extraction.
	DupFolder    string
	ForceExtract bool
	ZipMode      string
	Password     string
	// SecureTry marks a password form submission.
	SecureTry bool

	// Client identifies the caller for password rate limiting.
	Client string
	// Bootloader is the path the bootstrap was requested at.
	Bootloader string
	// Vars are the gateway variables of the request, used to classify the
	// server. Nil falls back to the process environment.
	Vars map[string]string
}

// ParseParams reads Params from r. Both query and form values are accepted.
func ParseParams(w http.ResponseWriter, r *http.Request) (Params, error) {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	}
	if err := r.ParseForm(); err != nil {
		return Params{}, fmt.Errorf("parsing request: %w", err)
	}

	p := Params{
		ArchiveDir: strings.TrimSpace(r.Form.Get(ParamArchive)),
		DupFolder:  strings.TrimSpace(r.Form.Get(ParamDupFolder)),
		ZipMode:    strings.TrimSpace(r.Form.Get(ParamZipMode)),
		Password:   r.Form.Get(ParamPassword),
		Client:     clientKey(r),
		Bootloader: r.URL.Path,
	}
	p.ForceExtract = flag(r.Form.Get(ParamForceExtract))
	p.SecureTry = flag(r.Form.Get(ParamSecureTry))
	return p, nil
}

func flag(v string) bool {
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		// Any other non-empty value, e.g. "on" from a checkbox.
		return true
	}
	return b
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
