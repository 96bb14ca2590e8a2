package store

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/tellerbot/internal/domain"
)

// encodePatch renders the keys set in p as JSON strings.
func encodePatch(p Patch) (map[string]string, error) {
	out := make(map[string]string, 6)
	put := func(key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		out[key] = string(data)
		return nil
	}
	if p.History != nil {
		if err := put(KeyHistory, p.History); err != nil {
			return nil, err
		}
	}
	if p.Intent != nil {
		var v any = *p.Intent
		if !domain.IsResolvedIntent(*p.Intent) {
			v = nil
		}
		if err := put(KeyIntent, v); err != nil {
			return nil, err
		}
	}
	if p.Flags != nil {
		if err := put(KeyFlags, p.Flags); err != nil {
			return nil, err
		}
	}
	if p.Listening != nil {
		if err := put(KeyListening, *p.Listening); err != nil {
			return nil, err
		}
	}
	if p.Collapsed != nil {
		if err := put(KeyCollapsed, *p.Collapsed); err != nil {
			return nil, err
		}
	}
	if p.State != nil {
		if !json.Valid(p.State) {
			return nil, fmt.Errorf("encode %s: invalid JSON", KeyState)
		}
		out[KeyState] = string(p.State)
	}
	return out, nil
}

// decodeState builds a SessionState from raw key values. A key that fails to
// decode falls back to its default and is logged; it never fails the load.
func decodeState(tabID string, raw map[string]string) domain.SessionState {
	state := domain.NewSessionState()

	decode := func(key string, dst any) bool {
		v, ok := raw[key]
		if !ok {
			return false
		}
		if err := json.Unmarshal([]byte(v), dst); err != nil {
			slog.Warn("Discarding malformed session value", "tab_id", tabID, "key", key, "error", err)
			return false
		}
		return true
	}

	var history []domain.Turn
	if decode(KeyHistory, &history) && history != nil {
		state.History = history
	}

	var intent *string
	if decode(KeyIntent, &intent) && intent != nil && domain.IsResolvedIntent(*intent) {
		state.Intent = *intent
	}

	var flags map[string]bool
	if decode(KeyFlags, &flags) && flags != nil {
		state.SubstepFlags = flags
	}

	var listening bool
	if decode(KeyListening, &listening) {
		state.Listening = listening
	}

	var collapsed bool
	if decode(KeyCollapsed, &collapsed) {
		state.Collapsed = &collapsed
	}

	if v, ok := raw[KeyState]; ok {
		switch {
		case !json.Valid([]byte(v)):
			slog.Warn("Discarding malformed session value", "tab_id", tabID, "key", KeyState)
		case v != "null":
			state.State = json.RawMessage(v)
		}
	}

	return state
}
