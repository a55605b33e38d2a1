// Package handoff passes the verified bootstrap state to the next restore
// stage without putting secrets in URLs or forms.
package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/slimrmm/siterestore/internal/security/csrf"
	"github.com/slimrmm/siterestore/internal/security/urlval"
)

var nextStageURLs = urlval.NewDefault()

// Bag keys.
const (
	KeyURL           = "url"
	KeyArchive       = "archive"
	KeyBootloader    = "bootloader"
	KeyPassword      = "password"
	KeyBootLog       = "bootLog"
	KeyPackageHash   = "packageHash"
	KeySecondaryHash = "secondaryHash"
)

// Keys lists every bag key in form order.
var Keys = []string{KeyURL, KeyArchive, KeyBootloader, KeyPassword, KeyBootLog, KeyPackageHash, KeySecondaryHash}

// Form field names.
const (
	FieldSession     = "session"
	FieldTokenPrefix = "token_"
)

// DefaultTTL is how long the next stage has to redeem the bag.
const DefaultTTL = 15 * time.Minute

// Bag is the state handed to the next stage.
type Bag struct {
	URL           string
	Archive       string
	Bootloader    string
	Password      string
	BootLog       string
	PackageHash   string
	SecondaryHash string
}

func (b Bag) values() map[string]string {
	return map[string]string{
		KeyURL:           b.URL,
		KeyArchive:       b.Archive,
		KeyBootloader:    b.Bootloader,
		KeyPassword:      b.Password,
		KeyBootLog:       b.BootLog,
		KeyPackageHash:   b.PackageHash,
		KeySecondaryHash: b.SecondaryHash,
	}
}

func isSecret(key string) bool {
	return key == KeyPassword || key == KeySecondaryHash || key == KeyPackageHash
}

// Field is one hidden input of the hand-off form.
type Field struct {
	Name  string
	Value string
}

// Form is the self-submitting POST form that carries the hand-off.
type Form struct {
	Action    string
	SessionID string
	Fields    []Field
}

// Handoff saves bags and redeems their values.
type Handoff struct {
	store  Store
	tokens *csrf.Manager
	ttl    time.Duration
}

// New creates a Handoff backed by store.
func New(store Store, tokens *csrf.Manager, ttl time.Duration) *Handoff {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Handoff{store: store, tokens: tokens, ttl: ttl}
}

// Prepare stores bag under a new session and returns the form that posts
// the session ID, one token per key and the non-secret values to bag.URL.
func (h *Handoff) Prepare(ctx context.Context, bag Bag) (Form, error) {
	if err := checkURL(bag.URL); err != nil {
		return Form{}, err
	}

	sessionID := uuid.NewString()
	values := bag.values()
	entries := make(map[string]Entry, len(Keys))
	form := Form{
		Action:    bag.URL,
		SessionID: sessionID,
		Fields:    []Field{{Name: FieldSession, Value: sessionID}},
	}

	for _, key := range Keys {
		token, rec, err := h.tokens.Issue(sessionID, key)
		if err != nil {
			return Form{}, err
		}
		entries[key] = Entry{Value: values[key], Token: rec, Secret: isSecret(key)}
		form.Fields = append(form.Fields, Field{Name: FieldTokenPrefix + key, Value: token})
	}
	form.Fields = append(form.Fields,
		Field{Name: KeyArchive, Value: bag.Archive},
		Field{Name: KeyBootloader, Value: bag.Bootloader},
	)

	if err := h.store.Save(ctx, sessionID, entries, h.ttl); err != nil {
		return Form{}, fmt.Errorf("saving handoff: %w", err)
	}
	return form, nil
}

// Redeem returns the value stored for key once, if token matches.
func (h *Handoff) Redeem(ctx context.Context, sessionID, key, token string) (string, error) {
	e, err := h.store.Get(ctx, sessionID, key)
	if err != nil {
		return "", err
	}
	if err := h.tokens.Redeem(e.Token, sessionID, key, token); err != nil {
		return "", err
	}
	removed, err := h.store.Delete(ctx, sessionID, key)
	if err != nil {
		return "", err
	}
	if !removed {
		return "", fmt.Errorf("%w: field=%s", csrf.ErrTokenReused, key)
	}
	return e.Value, nil
}

func checkURL(raw string) error {
	if err := nextStageURLs.Validate(raw); err != nil {
		return fmt.Errorf("next stage url: %w", err)
	}
	return nil
}
