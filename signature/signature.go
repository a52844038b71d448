// Package signature defines the declarative predicate that identifies the
// element domguard keeps out of a page. A Signature is immutable once built
// and is shared read-only by every component that matches elements.
//
// Signatures are rendered as quamina patterns and matched against a small
// JSON event describing one element:
//
//	{"tag": "div", "attrs": {"data-automation-id": "shareButton"}}
package signature

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"quamina.net/go/quamina"
)

// Spec is the configuration form of a Signature (YAML, JSON, MCP arguments).
// Selector, Tag/Attrs and Pattern are alternatives; Selector wins over
// Tag/Attrs, Pattern wins over both.
type Spec struct {
	Name     string            `yaml:"name" json:"name,omitempty"`
	Selector string            `yaml:"selector" json:"selector,omitempty"`
	Tag      string            `yaml:"tag" json:"tag,omitempty"`
	Attrs    map[string]string `yaml:"attrs" json:"attrs,omitempty"`
	Pattern  string            `yaml:"pattern" json:"pattern,omitempty"`
}

// Attr is one attribute condition. An empty Value with Present set matches
// any value.
type Attr struct {
	Name    string `json:"name"`
	Value   string `json:"value,omitempty"`
	Present bool   `json:"present,omitempty"`
}

// Signature identifies the element to suppress.
type Signature struct {
	name    string
	tag     string
	attrs   []Attr
	pattern string
	raw     bool
}

// ErrEmpty is returned for a signature without any condition.
var ErrEmpty = errors.New("signature: no condition (would match every element)")

// New builds a Signature from its configuration form.
func New(spec Spec) (Signature, error) {
	var s Signature
	switch {
	case strings.TrimSpace(spec.Pattern) != "":
		s = Signature{pattern: strings.TrimSpace(spec.Pattern), raw: true}
	case strings.TrimSpace(spec.Selector) != "":
		parsed, err := ParseSelector(spec.Selector)
		if err != nil {
			return Signature{}, err
		}
		s = parsed
	default:
		s.tag = universal(strings.ToLower(strings.TrimSpace(spec.Tag)))
		for k, v := range spec.Attrs {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				return Signature{}, fmt.Errorf("signature: empty attribute name")
			}
			s.attrs = append(s.attrs, Attr{Name: k, Value: v})
		}
		sort.Slice(s.attrs, func(i, j int) bool { return s.attrs[i].Name < s.attrs[j].Name })
	}
	s.name = spec.Name

	if !s.raw {
		if s.tag == "" && len(s.attrs) == 0 {
			return Signature{}, ErrEmpty
		}
		p, err := s.render()
		if err != nil {
			return Signature{}, err
		}
		s.pattern = p
	}

	if err := validate(s.pattern); err != nil {
		return Signature{}, err
	}
	if s.name == "" {
		s.name = s.String()
	}
	return s, nil
}

// ParseSelector parses the attribute-selector subset used to target
// elements: an optional tag followed by one or more [attr] or [attr=value]
// groups, e.g. `button[data-automation-id="shareButton"]`.
func ParseSelector(sel string) (Signature, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return Signature{}, ErrEmpty
	}

	var s Signature
	idx := strings.IndexByte(sel, '[')
	if idx < 0 {
		idx = len(sel)
	}
	s.tag = universal(strings.ToLower(sel[:idx]))
	if strings.ContainsAny(s.tag, " >+~.#:") {
		return Signature{}, fmt.Errorf("signature: unsupported selector %q", sel)
	}

	rest := sel[idx:]
	for rest != "" {
		if rest[0] != '[' {
			return Signature{}, fmt.Errorf("signature: unexpected %q in selector %q", rest, sel)
		}
		end := closingBracket(rest)
		if end < 0 {
			return Signature{}, fmt.Errorf("signature: unterminated attribute group in %q", sel)
		}
		a, err := parseAttr(rest[1:end])
		if err != nil {
			return Signature{}, fmt.Errorf("signature: %q: %w", sel, err)
		}
		s.attrs = append(s.attrs, a)
		rest = strings.TrimSpace(rest[end+1:])
	}

	if s.tag == "" && len(s.attrs) == 0 {
		return Signature{}, ErrEmpty
	}
	p, err := s.render()
	if err != nil {
		return Signature{}, err
	}
	s.pattern = p
	s.name = sel
	return s, nil
}

// universal maps the "*" type selector to no tag condition.
func universal(tag string) string {
	if tag == "*" {
		return ""
	}
	return tag
}

// MustParse is ParseSelector for literals known to be valid.
func MustParse(sel string) Signature {
	s, err := ParseSelector(sel)
	if err != nil {
		panic(err)
	}
	return s
}

// closingBracket finds the ']' closing the group at rest[0], skipping
// brackets inside quoted values.
func closingBracket(rest string) int {
	var quote byte
	for i := 1; i < len(rest); i++ {
		c := rest[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}

func parseAttr(group string) (Attr, error) {
	eq := strings.IndexByte(group, '=')
	if eq < 0 {
		name := strings.ToLower(strings.TrimSpace(group))
		if name == "" {
			return Attr{}, fmt.Errorf("empty attribute name")
		}
		return Attr{Name: name, Present: true}, nil
	}
	name := strings.ToLower(strings.TrimSpace(group[:eq]))
	if name == "" {
		return Attr{}, fmt.Errorf("empty attribute name")
	}
	if strings.ContainsAny(name, "~|^$*") {
		return Attr{}, fmt.Errorf("attribute operator in %q not supported", group)
	}
	val := strings.TrimSpace(group[eq+1:])
	if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
		val = val[1 : len(val)-1]
	}
	return Attr{Name: name, Value: val}, nil
}

func (s Signature) render() (string, error) {
	p := map[string]any{}
	if s.tag != "" {
		p["tag"] = []string{s.tag}
	}
	if len(s.attrs) > 0 {
		attrs := make(map[string]any, len(s.attrs))
		for _, a := range s.attrs {
			if a.Present {
				attrs[a.Name] = []map[string]bool{{"exists": true}}
				continue
			}
			attrs[a.Name] = []string{a.Value}
		}
		p["attrs"] = attrs
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("signature: render pattern: %w", err)
	}
	return string(data), nil
}

func validate(pattern string) error {
	q, err := quamina.New()
	if err != nil {
		return fmt.Errorf("signature: quamina: %w", err)
	}
	if err := q.AddPattern(pattern, pattern); err != nil {
		return fmt.Errorf("signature: invalid pattern: %w", err)
	}
	return nil
}

// Name is the human-readable label used as the log source detail.
func (s Signature) Name() string { return s.name }

// Tag is the required lowercase tag name, empty for any tag.
func (s Signature) Tag() string { return s.tag }

// Attrs returns a copy of the attribute conditions.
func (s Signature) Attrs() []Attr {
	out := make([]Attr, len(s.attrs))
	copy(out, s.attrs)
	return out
}

// Pattern is the quamina pattern equivalent to the signature.
func (s Signature) Pattern() string { return s.pattern }

// Required lists attribute names every matching element carries. It is
// nil for raw patterns, whose requirements are opaque.
func (s Signature) Required() []string {
	if s.raw {
		return nil
	}
	names := make([]string, 0, len(s.attrs))
	for _, a := range s.attrs {
		names = append(names, a.Name)
	}
	return names
}

// IsZero reports whether s is the zero Signature.
func (s Signature) IsZero() bool { return s.pattern == "" }

// String renders the selector form, or the raw pattern.
func (s Signature) String() string {
	if s.raw {
		return s.pattern
	}
	var b strings.Builder
	b.WriteString(s.tag)
	for _, a := range s.attrs {
		if a.Present {
			fmt.Fprintf(&b, "[%s]", a.Name)
			continue
		}
		fmt.Fprintf(&b, "[%s=%q]", a.Name, a.Value)
	}
	return b.String()
}

// Event renders the element description matched against Pattern.
func Event(tag string, attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return json.Marshal(struct {
		Tag   string            `json:"tag"`
		Attrs map[string]string `json:"attrs"`
	}{Tag: strings.ToLower(tag), Attrs: attrs})
}
