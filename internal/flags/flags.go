// Package flags derives substep progress flags from host-page form state.
package flags

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/tellerbot/internal/config"
)

// Snapshot is the host form state as read by the relay client.
// Accessible is false when the relay could not reach the host document.
type Snapshot struct {
	Fields     map[string]string `json:"fields"`
	Accessible bool              `json:"accessible"`
}

type rule struct {
	flag     string
	selector string
	kind     string
	arg      string
	re       *regexp.Regexp
}

// Extractor maps pages to their flag rules.
type Extractor struct {
	pages  map[string][]rule
	logger *slog.Logger
}

// NewExtractor compiles the per-page rules.
func NewExtractor(tables map[string][]config.FlagRule, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{pages: make(map[string][]rule, len(tables)), logger: logger}
	for page, rules := range tables {
		for _, r := range rules {
			compiled := rule{flag: r.Flag, selector: r.Selector, kind: r.Rule, arg: r.Arg}
			if r.Rule == config.RulePattern {
				re, err := regexp.Compile(r.Arg)
				if err != nil {
					return nil, fmt.Errorf("compile %s rule for %s: %w", r.Flag, page, err)
				}
				compiled.re = re
			}
			e.pages[page] = append(e.pages[page], compiled)
		}
	}
	return e, nil
}

// Applies reports whether page has registered flag rules.
func (e *Extractor) Applies(page string) bool {
	return len(e.pages[page]) > 0
}

// Selectors returns the form controls the relay should watch on page.
func (e *Extractor) Selectors(page string) []string {
	rules := e.pages[page]
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.selector)
	}
	return out
}

// Extract returns the flags satisfied on page. Only satisfied flags are set.
// An inaccessible document or missing controls yield an empty or partial
// mapping and a warning, never an error.
func (e *Extractor) Extract(page string, snap *Snapshot) map[string]bool {
	out := map[string]bool{}
	rules := e.pages[page]
	if len(rules) == 0 {
		return out
	}
	if snap == nil || !snap.Accessible {
		e.logger.Warn("Unable to access host form fields", "page", page)
		return out
	}

	var missing []string
	for _, r := range rules {
		value, ok := snap.Fields[r.selector]
		if !ok {
			missing = append(missing, r.selector)
			continue
		}
		if r.satisfied(value) {
			out[r.flag] = true
		}
	}
	if len(missing) > 0 {
		e.logger.Warn("Host form controls missing", "page", page, "selectors", missing)
	}
	return out
}

// Complete reports whether every flag rule on page is satisfied.
func (e *Extractor) Complete(page string, snap *Snapshot) bool {
	rules := e.pages[page]
	if len(rules) == 0 {
		return false
	}
	got := e.Extract(page, snap)
	return len(got) == len(rules)
}

func (r rule) satisfied(value string) bool {
	switch r.kind {
	case config.RuleNotEqual:
		return value != r.arg
	case config.RulePositiveNumber:
		n, err := strconv.ParseFloat(leadingNumber(value), 64)
		return err == nil && n > 0
	case config.RuleNonEmpty:
		return strings.TrimSpace(value) != ""
	case config.RulePattern:
		return r.re != nil && r.re.MatchString(value)
	}
	return false
}

// leadingNumber trims value to its numeric prefix, like parseFloat in a
// browser: "50.25 CAD" parses as 50.25.
func leadingNumber(value string) string {
	value = strings.TrimSpace(value)
	end := 0
	seenDot, seenDigit := false, false
	for i, c := range value {
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
		case c == '.' && !seenDot:
			seenDot = true
		case (c == '-' || c == '+') && i == 0:
		default:
			if !seenDigit {
				return ""
			}
			return value[:end]
		}
		end = i + 1
	}
	if !seenDigit {
		return ""
	}
	return value[:end]
}
