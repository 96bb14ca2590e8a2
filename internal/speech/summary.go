package speech

import (
	"regexp"
	"strings"

	"github.com/ashureev/tellerbot/internal/domain"
)

// Summary finds the recap of what the user confirmed on a confirmation page.
type Summary struct {
	Match  string
	Prefix *regexp.Regexp
}

// NewSummary compiles a summary pattern. An empty prefix matches nothing.
func NewSummary(match, prefix string) (*Summary, error) {
	s := &Summary{Match: match}
	if prefix != "" {
		re, err := regexp.Compile(prefix)
		if err != nil {
			return nil, err
		}
		s.Prefix = re
	}
	return s, nil
}

// Lookup scans history backwards for the latest user turn containing Match
// and returns it with the decorative prefix removed.
func (s *Summary) Lookup(history []domain.Turn) string {
	if s == nil || s.Match == "" {
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Role != domain.RoleUser || !strings.Contains(t.Content, s.Match) {
			continue
		}
		if s.Prefix == nil {
			return t.Content
		}
		return s.Prefix.ReplaceAllString(t.Content, "")
	}
	return ""
}
