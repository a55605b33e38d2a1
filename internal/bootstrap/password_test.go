package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/slimrmm/siterestore/internal/archive"
	"github.com/slimrmm/siterestore/internal/failure"
	"github.com/slimrmm/siterestore/internal/security/ratelimit"
)

func testGate(limiter *ratelimit.KeyedLimiter, check error) (*Gate, *[]time.Duration) {
	var slept []time.Duration
	g := NewGate(0, limiter, nil)
	g.sleep = func(_ context.Context, d time.Duration) { slept = append(slept, d) }
	g.checkZip = func(_, _, password string) error {
		if password == "right" {
			return nil
		}
		return check
	}
	return g, &slept
}

func TestGateStates(t *testing.T) {
	pkg := &archive.Package{Path: filepath.Join(t.TempDir(), "a.zip"), Kind: archive.KindZip}
	aes := archive.Encryption{Encrypted: true, Method: archive.MethodAES}
	ctx := context.Background()

	tests := []struct {
		name     string
		enc      archive.Encryption
		password string
		check    error
		want     GateState
		wantKind failure.Kind
		sleeps   int
	}{
		{"plain archive", archive.Encryption{Method: archive.MethodNone}, "", nil, GateNotRequired, failure.KindNone, 0},
		{"no password yet", aes, "", nil, GateAwaiting, failure.KindNone, 0},
		{"right password", aes, "right", nil, GateVerified, failure.KindNone, 0},
		{"wrong password", aes, "nope", archive.ErrWrongPassword, GateRejected, failure.KindAuth, 1},
		{"unreadable archive", aes, "nope", errors.New("disk on fire"), GateRejected, failure.KindValidation, 0},
		{"unsupported method", archive.Encryption{Encrypted: true, Method: archive.MethodUnsupported}, "x", nil, GateRejected, failure.KindCapability, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, slept := testGate(nil, tt.check)
			got, err := g.Evaluate(ctx, pkg, tt.enc, "", Attempt{Password: tt.password, Client: "c"})
			if got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
			if kind := failure.KindOf(err); kind != tt.wantKind {
				t.Errorf("kind = %s, want %s (%v)", kind, tt.wantKind, err)
			}
			if len(*slept) != tt.sleeps {
				t.Errorf("slept %d times, want %d", len(*slept), tt.sleeps)
			}
			for _, d := range *slept {
				if d < MinRejectDelay {
					t.Errorf("delay %v below %v", d, MinRejectDelay)
				}
			}
		})
	}
}

func TestGateRateLimit(t *testing.T) {
	pkg := &archive.Package{Kind: archive.KindZip}
	aes := archive.Encryption{Encrypted: true, Method: archive.MethodAES}
	limiter := ratelimit.NewKeyed(ratelimit.Config{Rate: 0.001, Burst: 1, MaxKeys: 10})
	g, _ := testGate(limiter, archive.ErrWrongPassword)

	if _, err := g.Evaluate(context.Background(), pkg, aes, "", Attempt{Password: "a", Client: "1.2.3.4"}); failure.Message(err) != "Invalid password" {
		t.Fatalf("first attempt: %v", err)
	}
	_, err := g.Evaluate(context.Background(), pkg, aes, "", Attempt{Password: "right", Client: "1.2.3.4"})
	if failure.KindOf(err) != failure.KindAuth || failure.Message(err) == "Invalid password" {
		t.Fatalf("second attempt should be rate limited, got %v", err)
	}
	if state, err := g.Evaluate(context.Background(), pkg, aes, "", Attempt{Password: "right", Client: "5.6.7.8"}); state != GateVerified {
		t.Errorf("other client: state=%s err=%v", state, err)
	}
}

func TestGateDelayFloor(t *testing.T) {
	g := NewGate(10*time.Millisecond, nil, nil)
	if d := g.delay(); d != MinRejectDelay {
		t.Errorf("delay = %v, want %v", d, MinRejectDelay)
	}
	g.Delay = 3 * time.Second
	if d := g.delay(); d != 3*time.Second {
		t.Errorf("delay = %v", d)
	}
}

func TestSessionMemoizes(t *testing.T) {
	s := &Session{}
	defer s.Close()

	calls := 0
	probe := func() (archive.Encryption, error) {
		calls++
		return archive.Encryption{Encrypted: true, Method: archive.MethodAES}, nil
	}
	for i := 0; i < 3; i++ {
		if enc, err := s.Encryption(probe); err != nil || !enc.Encrypted {
			t.Fatalf("Encryption = %+v, %v", enc, err)
		}
	}
	if calls != 1 {
		t.Errorf("probe ran %d times", calls)
	}

	s.SetPassword("hunter22")
	if s.Password() != "hunter22" {
		t.Errorf("Password = %q", s.Password())
	}
	s.SetPassword("")
	if s.Password() != "" {
		t.Errorf("Password after reset = %q", s.Password())
	}
}
