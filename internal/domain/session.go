package domain

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// ResumeMarker is the synthetic user text carried by navigation-triggered turns.
const ResumeMarker = "resuming"

// UnknownIntent is the sentinel the dialogue backend returns while the task is unresolved.
const UnknownIntent = "unknown"

// SessionState holds everything the widget remembers for one browser tab.
type SessionState struct {
	History      []Turn          `json:"history"`
	Intent       string          `json:"intent,omitempty"`
	SubstepFlags map[string]bool `json:"substep_flags"`
	Listening    bool            `json:"listening"`
	// Collapsed is nil until the user (or a voice toggle) has set it.
	Collapsed *bool `json:"collapsed,omitempty"`
	// State is the opaque blob last returned by the dialogue backend.
	State json.RawMessage `json:"state,omitempty"`
}

// NewSessionState returns the all-empty default state.
func NewSessionState() SessionState {
	return SessionState{
		History:      []Turn{},
		SubstepFlags: map[string]bool{},
	}
}

// HasIntent reports whether a resolved intent is present.
func (s *SessionState) HasIntent() bool {
	return IsResolvedIntent(s.Intent)
}

// CollapsedOr returns the stored collapse flag, or fallback when unset.
func (s *SessionState) CollapsedOr(fallback bool) bool {
	if s.Collapsed == nil {
		return fallback
	}
	return *s.Collapsed
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s SessionState) Clone() SessionState {
	out := s
	out.History = slices.Clone(s.History)
	if out.History == nil {
		out.History = []Turn{}
	}
	out.SubstepFlags = maps.Clone(s.SubstepFlags)
	if out.SubstepFlags == nil {
		out.SubstepFlags = map[string]bool{}
	}
	if s.Collapsed != nil {
		c := *s.Collapsed
		out.Collapsed = &c
	}
	out.State = slices.Clone(s.State)
	return out
}

// IsResolvedIntent reports whether intent names a concrete task.
func IsResolvedIntent(intent string) bool {
	switch strings.TrimSpace(strings.ToLower(intent)) {
	case "", UnknownIntent, "null", "undefined":
		return false
	}
	return true
}
