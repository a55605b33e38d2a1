package handoff

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/slimrmm/siterestore/internal/security/csrf"
)

// RedeemPath is where the next stage redeems bag values.
const RedeemPath = "/handoff/redeem"

// Redeem request fields.
const (
	FieldKey   = "key"
	FieldToken = "token"
)

const maxRedeemBody = 8 << 10

// RedeemResponse is the JSON body of a successful redemption.
type RedeemResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RedeemHandler exposes Handoff.Redeem to the next stage. It takes a POST
// form with the session ID, the bag key and the token issued for it.
type RedeemHandler struct {
	Handoff *Handoff
	Logger  *slog.Logger
}

// NewRedeemHandler creates a RedeemHandler for h.
func NewRedeemHandler(h *Handoff, logger *slog.Logger) *RedeemHandler {
	return &RedeemHandler{Handoff: h, Logger: logger}
}

func (rh *RedeemHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRedeemBody)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sessionID := r.PostForm.Get(FieldSession)
	key := r.PostForm.Get(FieldKey)
	token := r.PostForm.Get(FieldToken)
	if sessionID == "" || token == "" || !slices.Contains(Keys, key) {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	value, err := rh.Handoff.Redeem(r.Context(), sessionID, key, token)
	if err != nil {
		status := redeemStatus(err)
		if status == http.StatusInternalServerError {
			rh.Logger.Error("redeeming handoff", "key", key, "error", err)
		} else {
			rh.Logger.Warn("handoff redemption refused", "key", key, "remote", r.RemoteAddr, "error", err)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(RedeemResponse{Key: key, Value: value}); err != nil {
		rh.Logger.Warn("writing handoff response", "error", err)
	}
}

func redeemStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, csrf.ErrTokenInvalid), errors.Is(err, csrf.ErrTokenExpired), errors.Is(err, csrf.ErrTokenReused):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
