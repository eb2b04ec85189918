package server

import "sync/atomic"

// Session is the process-wide state control messages can change. The zero
// value has verbose mask logging off and the label table not yet sent.
type Session struct {
	verboseMask atomic.Bool
	labelsSent  atomic.Bool
}

// NewSession starts a session with verbose mask logging set to verbose.
func NewSession(verbose bool) *Session {
	s := &Session{}
	s.verboseMask.Store(verbose)
	return s
}

func (s *Session) SetVerboseMask(on bool) { s.verboseMask.Store(on) }

func (s *Session) VerboseMask() bool { return s.verboseMask.Load() }

// LabelTableSent reports whether the one-shot label table already went out.
func (s *Session) LabelTableSent() bool { return s.labelsSent.Load() }

// claimLabelTable returns true exactly once per session.
func (s *Session) claimLabelTable() bool {
	return s.labelsSent.CompareAndSwap(false, true)
}
