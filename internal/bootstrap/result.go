package bootstrap

import (
	"github.com/slimrmm/siterestore/internal/extract"
	"github.com/slimrmm/siterestore/internal/failure"
	"github.com/slimrmm/siterestore/internal/handoff"
)

// View is the terminal page a run renders.
type View int

const (
	ViewError View = iota
	ViewPassword
	ViewRedirect
)

func (v View) String() string {
	switch v {
	case ViewError:
		return "error"
	case ViewPassword:
		return "password"
	case ViewRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Result is the outcome of a run.
type Result struct {
	View  View
	State State
	Err   error

	// Message and Remediation are safe to show to the client.
	Message     string
	Remediation string

	Form       handoff.Form
	Engine     extract.Choice
	FilesFound int

	// Manual is set when the manual-extraction marker was found.
	Manual bool
	// Extracted is set when this run wrote the installer folder.
	Extracted bool
}

// Outcome labels the result for metrics.
func (r *Result) Outcome() string {
	switch r.View {
	case ViewRedirect:
		return "redirect"
	case ViewPassword:
		if r.Err != nil {
			return "password-rejected"
		}
		return "password-required"
	default:
		return string(failure.KindOf(r.Err))
	}
}

func (r *Result) fail(state State, err error) *Result {
	r.State = state
	r.Err = err
	r.Message = failure.Message(err)
	r.Remediation = failure.RemediationOf(err)
	if failure.KindOf(err) == failure.KindAuth {
		r.View = ViewPassword
	} else {
		r.View = ViewError
	}
	return r
}

func (r *Result) askPassword(state State, msg string) *Result {
	r.State = state
	r.View = ViewPassword
	r.Message = msg
	return r
}
