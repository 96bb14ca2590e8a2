// Package dialogue talks to the remote dialogue backend that resolves intents
// and decides what the widget says and does next.
package dialogue

import (
	"encoding/json"

	"github.com/ashureev/tellerbot/internal/domain"
)

// Request is the body of one turn request.
type Request struct {
	Messages       []domain.Turn   `json:"messages"`
	NewPageLoaded  bool            `json:"newPageLoaded"`
	SubstepUpdated bool            `json:"substepUpdated"`
	Intent         *string         `json:"intent"`
	CurrentPage    string          `json:"currentPage"`
	State          json.RawMessage `json:"state"`
	SubstepFlags   map[string]bool `json:"substep_flags"`
	Assistant      string          `json:"assistant"`
}

// Response is the body returned for one turn.
type Response struct {
	Intent       string          `json:"intent"`
	BotMessage   string          `json:"botMessage"`
	State        json.RawMessage `json:"state,omitempty"`
	SubstepFlags map[string]bool `json:"substep_flags,omitempty"`
	Actions      []Action        `json:"action,omitempty"`
	// Selector is the single-highlight form some flows still return instead
	// of an action list.
	Selector string `json:"selector,omitempty"`
}

// Action is one host-page step attached to a response.
type Action struct {
	Selector       string `json:"selector,omitempty"`
	Action         string `json:"action,omitempty"`
	Value          any    `json:"value,omitempty"`
	ImmediateReply string `json:"immediate_reply,omitempty"`
}

// Executable reports whether the action names something to run on the host page.
func (a Action) Executable() bool {
	return a.Selector != "" && a.Action != ""
}

// AllActions returns the response's actions, folding a bare Selector into a
// highlight-only action.
func (r *Response) AllActions() []Action {
	if r.Selector == "" {
		return r.Actions
	}
	out := make([]Action, 0, len(r.Actions)+1)
	out = append(out, Action{Selector: r.Selector})
	return append(out, r.Actions...)
}

// HasState reports whether the response carries a state blob.
func (r *Response) HasState() bool {
	return len(r.State) > 0 && string(r.State) != "null"
}
