package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Action modes.
const (
	// ActionAutomatic highlights a target and performs the action after a delay.
	ActionAutomatic = "automatic"
	// ActionAssisted highlights a target and leaves the action to the user.
	ActionAssisted = "assisted"
)

// Form-change gating modes.
const (
	FormChangeAllComplete = "all_complete"
	FormChangeAny         = "any"
)

// Flag rule kinds.
const (
	RuleNotEqual       = "not_equal"
	RulePositiveNumber = "positive_number"
	RuleNonEmpty       = "non_empty"
	RulePattern        = "pattern"
)

// Catalog is the persona and page-table configuration, loaded from YAML.
type Catalog struct {
	Personas  []Persona                 `yaml:"personas"`
	Summaries map[string]SummaryPattern `yaml:"summaries"`
	Flags     map[string][]FlagRule     `yaml:"flags"`
}

// Persona describes one assistant variant.
type Persona struct {
	ID               string        `yaml:"id"`
	Endpoint         string        `yaml:"endpoint"`
	Welcome          string        `yaml:"welcome"`
	Voice            Voice         `yaml:"voice"`
	CollapsedDefault bool          `yaml:"collapsed_default"`
	ActionMode       string        `yaml:"action_mode"`
	ActionDelay      time.Duration `yaml:"action_delay"`
	SendState        bool          `yaml:"send_state"`
	ResumeOnLog      bool          `yaml:"resume_on_log"`
	FormChange       string        `yaml:"form_change"`
	CollapseOnVoice  bool          `yaml:"collapse_on_voice"`
}

// Voice selects the synthesizer voice.
type Voice struct {
	Lang string  `yaml:"lang"`
	Rate float64 `yaml:"rate"`
}

// SummaryPattern locates the recap line spoken on confirmation pages.
type SummaryPattern struct {
	Match  string `yaml:"match"`
	Prefix string `yaml:"prefix"`
}

// FlagRule derives one substep flag from one host form control.
type FlagRule struct {
	Flag     string `yaml:"flag"`
	Selector string `yaml:"selector"`
	Rule     string `yaml:"rule"`
	Arg      string `yaml:"arg"`
}

// DefaultCatalog returns the built-in personas and page tables.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Personas: []Persona{
			{
				ID:               "frank",
				Endpoint:         "/tellerbot",
				Welcome:          "Hi! I'm Sam. Tell me what you want to do, for example, e-transfer, and I'll take care of it.",
				Voice:            Voice{Lang: "en-US", Rate: 1.0},
				CollapsedDefault: true,
				ActionMode:       ActionAutomatic,
				ActionDelay:      5 * time.Second,
				SendState:        true,
				FormChange:       FormChangeAllComplete,
				CollapseOnVoice:  true,
			},
			{
				ID:          "grace",
				Endpoint:    "/tutorbot",
				Welcome:     "Hi! I'm Alex. Tell me what you want to do, for example, e-transfer, and I'll walk you through.",
				Voice:       Voice{Lang: "en-AU", Rate: 0.9},
				ActionMode:  ActionAssisted,
				ResumeOnLog: true,
				FormChange:  FormChangeAny,
			},
		},
		Summaries: map[string]SummaryPattern{
			"confirm_transfer.html": {Match: "You plan to send", Prefix: `^✅\s*`},
			"success.html":          {Match: "You successfully transfered", Prefix: `^🎉\s*`},
		},
		Flags: map[string][]FlagRule{
			"send_to_alex.html": {
				{Flag: "account_chosen", Selector: "#from-account", Rule: RuleNotEqual, Arg: "instruction"},
				{Flag: "amount_entered", Selector: "#amount", Rule: RulePositiveNumber},
			},
			"add_contact.html": {
				{Flag: "name_filled", Selector: "#payee-name", Rule: RuleNonEmpty},
				{Flag: "account_filled", Selector: "#account-number", Rule: RulePattern, Arg: `^\d{11}$`},
			},
		},
	}
}

// LoadCatalog reads a YAML catalog from path and merges it over the defaults.
// An empty path returns the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		cat := DefaultCatalog()
		return cat, cat.validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// catalogFile is the on-disk catalog. Personas stay as raw nodes so each
// entry can be decoded over the built-in persona with the same id.
type catalogFile struct {
	Personas  []yaml.Node               `yaml:"personas"`
	Summaries map[string]SummaryPattern `yaml:"summaries"`
	Flags     map[string][]FlagRule     `yaml:"flags"`
}

// ParseCatalog unmarshals YAML bytes and merges them over the defaults.
// A persona entry only overrides the fields it sets; page tables replace per
// page.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	cat := DefaultCatalog()
	for i := range file.Personas {
		node := &file.Personas[i]
		var head struct {
			ID string `yaml:"id"`
		}
		if err := node.Decode(&head); err != nil {
			return nil, fmt.Errorf("config: persona %d: %w", i, err)
		}
		p, _ := cat.Persona(head.ID)
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("config: persona %q: %w", head.ID, err)
		}
		cat.upsertPersona(p)
	}
	for page, s := range file.Summaries {
		cat.Summaries[page] = s
	}
	for page, rules := range file.Flags {
		cat.Flags[page] = rules
	}
	cat.applyDefaults()
	if err := cat.validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Persona looks up a persona by id.
func (c *Catalog) Persona(id string) (Persona, bool) {
	for _, p := range c.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// Automatic reports whether the persona performs actions on its own.
func (p Persona) Automatic() bool {
	return p.ActionMode == ActionAutomatic
}

func (c *Catalog) upsertPersona(p Persona) {
	for i := range c.Personas {
		if c.Personas[i].ID == p.ID {
			c.Personas[i] = p
			return
		}
	}
	c.Personas = append(c.Personas, p)
}

// applyDefaults fills in unset persona fields.
func (c *Catalog) applyDefaults() {
	for i := range c.Personas {
		p := &c.Personas[i]
		if p.Endpoint == "" {
			p.Endpoint = "/" + p.ID
		}
		if p.ActionMode == "" {
			p.ActionMode = ActionAssisted
		}
		if p.ActionMode == ActionAutomatic && p.ActionDelay == 0 {
			p.ActionDelay = 5 * time.Second
		}
		if p.FormChange == "" {
			p.FormChange = FormChangeAny
		}
		if p.Voice.Lang == "" {
			p.Voice.Lang = "en-US"
		}
		if p.Voice.Rate == 0 {
			p.Voice.Rate = 1.0
		}
	}
}

// validate checks persona fields and compiles every regular expression once.
func (c *Catalog) validate() error {
	if len(c.Personas) == 0 {
		return fmt.Errorf("config: no personas defined")
	}
	seen := make(map[string]bool, len(c.Personas))
	for _, p := range c.Personas {
		if p.ID == "" {
			return fmt.Errorf("config: persona missing id")
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate persona %q", p.ID)
		}
		seen[p.ID] = true
		switch p.ActionMode {
		case ActionAutomatic, ActionAssisted:
		default:
			return fmt.Errorf("config: persona %q: unknown action_mode %q", p.ID, p.ActionMode)
		}
		switch p.FormChange {
		case FormChangeAllComplete, FormChangeAny:
		default:
			return fmt.Errorf("config: persona %q: unknown form_change %q", p.ID, p.FormChange)
		}
		if p.ActionDelay < 0 {
			return fmt.Errorf("config: persona %q: action_delay must be >= 0", p.ID)
		}
	}
	for page, s := range c.Summaries {
		if s.Match == "" {
			return fmt.Errorf("config: summary for %s: match is required", page)
		}
		if _, err := regexp.Compile(s.Prefix); err != nil {
			return fmt.Errorf("config: summary for %s: prefix: %w", page, err)
		}
	}
	for page, rules := range c.Flags {
		for _, r := range rules {
			if r.Flag == "" || r.Selector == "" {
				return fmt.Errorf("config: flags for %s: flag and selector are required", page)
			}
			switch r.Rule {
			case RuleNotEqual, RulePositiveNumber, RuleNonEmpty:
			case RulePattern:
				if _, err := regexp.Compile(r.Arg); err != nil {
					return fmt.Errorf("config: flags for %s: %s: %w", page, r.Flag, err)
				}
			default:
				return fmt.Errorf("config: flags for %s: %s: unknown rule %q", page, r.Flag, r.Rule)
			}
		}
	}
	return nil
}
