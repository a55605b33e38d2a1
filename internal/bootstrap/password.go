package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/slimrmm/siterestore/internal/archive"
	"github.com/slimrmm/siterestore/internal/daf"
	"github.com/slimrmm/siterestore/internal/failure"
	"github.com/slimrmm/siterestore/internal/metrics"
	"github.com/slimrmm/siterestore/internal/security/ratelimit"
)

// MinRejectDelay is the floor for the delay after a wrong password.
const MinRejectDelay = time.Second

// GateState is the outcome of the password gate.
type GateState int

const (
	GateNotRequired GateState = iota
	GateAwaiting
	GateVerified
	GateRejected
)

func (s GateState) String() string {
	switch s {
	case GateNotRequired:
		return "not-required"
	case GateAwaiting:
		return "awaiting-password"
	case GateVerified:
		return "verified"
	case GateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Attempt is a password submission.
type Attempt struct {
	Password string
	// Client identifies the submitter for rate limiting.
	Client string
}

// Gate verifies archive passwords.
type Gate struct {
	Delay   time.Duration
	Limiter *ratelimit.KeyedLimiter
	Metrics metrics.Metrics

	sleep    func(context.Context, time.Duration)
	checkZip func(path, marker, password string) error
	checkDAF func(path, password string) error
}

// NewGate creates a gate with the given rejection delay, clamped to
// MinRejectDelay.
func NewGate(delay time.Duration, limiter *ratelimit.KeyedLimiter, m metrics.Metrics) *Gate {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Gate{
		Delay:    delay,
		Limiter:  limiter,
		Metrics:  m,
		sleep:    sleepContext,
		checkZip: archive.CheckZipPassword,
		checkDAF: daf.CheckPassword,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (g *Gate) delay() time.Duration {
	if g.Delay < MinRejectDelay {
		return MinRejectDelay
	}
	return g.Delay
}

// Evaluate runs the gate for pkg. marker is the archive entry used to test
// zip passwords.
func (g *Gate) Evaluate(ctx context.Context, pkg *archive.Package, enc archive.Encryption, marker string, a Attempt) (GateState, error) {
	if !enc.Encrypted {
		return GateNotRequired, nil
	}
	if enc.Method == archive.MethodUnsupported {
		return GateRejected, &failure.CapabilityError{
			Reason:      "The archive uses an encryption method this installer cannot decrypt.",
			Remediation: "Rebuild the package with AES encryption.",
		}
	}
	if a.Password == "" {
		return GateAwaiting, nil
	}

	if g.Limiter != nil && !g.Limiter.Allow(a.Client) {
		g.Metrics.IncPasswordRejected("rate-limited")
		g.sleep(ctx, g.delay())
		return GateRejected, &failure.AuthError{Reason: "Too many password attempts. Wait a minute and try again."}
	}

	var err error
	if pkg.Kind == archive.KindDAF {
		err = g.checkDAF(pkg.Path, a.Password)
	} else {
		err = g.checkZip(pkg.Path, marker, a.Password)
	}

	switch {
	case err == nil:
		return GateVerified, nil
	case errors.Is(err, archive.ErrWrongPassword), errors.Is(err, daf.ErrWrongPassword), errors.Is(err, daf.ErrPasswordRequired):
		g.Metrics.IncPasswordRejected("invalid")
		g.sleep(ctx, g.delay())
		return GateRejected, &failure.AuthError{Reason: "Invalid password", Err: err}
	default:
		return GateRejected, &failure.ValidationError{
			Reason:      "The archive could not be read while checking the password.",
			Remediation: "The upload may be damaged. Upload the archive again.",
			Err:         err,
		}
	}
}
