package bootstrap

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/slimrmm/siterestore/internal/failure"
	"github.com/slimrmm/siterestore/internal/handoff"
)

// Handler serves the bootstrap over HTTP.
type Handler struct {
	Bootstrap *Bootstrap
	Logger    *slog.Logger
	// Vars returns the gateway variables of r. Nil uses the process
	// environment.
	Vars func(r *http.Request) map[string]string
}

// NewHandler creates a handler for b.
func NewHandler(b *Bootstrap, logger *slog.Logger) *Handler {
	return &Handler{Bootstrap: b, Logger: logger}
}

// Routes registers the bootstrap page and the hand-off redemption endpoint
// on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("/", h)
	mux.Handle(handoff.RedeemPath, handoff.NewRedeemHandler(h.Bootstrap.Handoff, h.Logger))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p, err := ParseParams(w, r)
	if err != nil {
		h.Logger.Warn("bad bootstrap request", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if h.Vars != nil {
		p.Vars = h.Vars(r)
	}

	res := h.Bootstrap.Run(r.Context(), p)

	var buf bytes.Buffer
	if err := Render(&buf, res, r.URL.Path, carried(p)); err != nil {
		h.Logger.Error("rendering bootstrap view", "view", res.View.String(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	header.Set("X-Frame-Options", "DENY")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(statusFor(res))
	_, _ = w.Write(buf.Bytes())
}

// carried lists the parameters the password form posts back.
func carried(p Params) []handoff.Field {
	var fields []handoff.Field
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, handoff.Field{Name: name, Value: value})
		}
	}
	add(ParamArchive, p.ArchiveDir)
	add(ParamDupFolder, p.DupFolder)
	add(ParamZipMode, p.ZipMode)
	if p.ForceExtract {
		add(ParamForceExtract, "1")
	}
	return fields
}

func statusFor(res *Result) int {
	switch res.View {
	case ViewRedirect:
		return http.StatusOK
	case ViewPassword:
		if res.Err != nil {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	}
	switch failure.KindOf(res.Err) {
	case failure.KindValidation:
		return http.StatusUnprocessableEntity
	case failure.KindCapability:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
