// Package validate checks generated output mappings before they are written.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"pomconv/internal/config"
	"pomconv/internal/model"
)

// RootKey holds the problem reported when a candidate is not a mapping at all.
const RootKey = "__root__"

var safeKey = regexp.MustCompile(`^[A-Za-z0-9_\-/]+$`)

// Rules is the file namespace generated keys must live in.
type Rules struct {
	Prefixes []string
	Names    []string
}

func DefaultRules() Rules {
	return Rules{
		Prefixes: []string{"pages/", "tests/"},
		Names:    []string{"conftest", "tests/conftest"},
	}
}

// NewRules builds rules from output configuration, falling back to the
// defaults for an empty namespace.
func NewRules(cfg config.OutputConfig) Rules {
	if len(cfg.AllowedPrefixes) == 0 && len(cfg.AllowedNames) == 0 {
		return DefaultRules()
	}
	return Rules{Prefixes: cfg.AllowedPrefixes, Names: cfg.AllowedNames}
}

// Allowed reports whether key is a bare allowed name or sits under an allowed
// prefix.
func (r Rules) Allowed(key string) bool {
	for _, name := range r.Names {
		if key == name {
			return true
		}
	}
	for _, prefix := range r.Prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func (r Rules) describe() string {
	parts := append(append([]string{}, r.Prefixes...), r.Names...)
	return strings.Join(parts, ", ")
}

// Validate splits candidate into the entries that qualify as files and a
// per-key problem report. It never fails; a candidate that is not a mapping
// yields an empty clean mapping and a single RootKey problem.
func (r Rules) Validate(candidate any) (model.OutputMapping, map[string]string) {
	clean := model.OutputMapping{}
	problems := map[string]string{}

	var entries map[string]any
	switch v := candidate.(type) {
	case map[string]any:
		entries = v
	case map[string]string:
		entries = make(map[string]any, len(v))
		for k, s := range v {
			entries[k] = s
		}
	case model.OutputMapping:
		entries = make(map[string]any, len(v))
		for k, s := range v {
			entries[k] = s
		}
	default:
		problems[RootKey] = fmt.Sprintf("not a mapping (got %T)", candidate)
		return clean, problems
	}
	if entries == nil {
		problems[RootKey] = "not a mapping (got null)"
		return clean, problems
	}

	for rawKey, value := range entries {
		key := strings.TrimSpace(rawKey)
		switch {
		case key == "":
			problems[rawKey] = "empty key"
		case strings.HasPrefix(key, "/") || strings.Contains(key, ".."):
			problems[key] = "unsafe path"
		case !safeKey.MatchString(key):
			problems[key] = "invalid chars in key (allowed: A-Z a-z 0-9 _ - /)"
		case !r.Allowed(key):
			problems[key] = "disallowed path (allowed: " + r.describe() + ")"
		default:
			code, ok := value.(string)
			if !ok {
				problems[key] = fmt.Sprintf("value is not a string (got %T)", value)
				continue
			}
			if strings.TrimSpace(code) == "" {
				problems[key] = "empty code string"
				continue
			}
			clean[key] = code
		}
	}
	return clean, problems
}

// Gate rejects the whole set if any key falls outside the namespace. The
// returned validation error names every offending key.
func (r Rules) Gate(keys []string) error {
	offending := map[string]string{}
	for _, key := range keys {
		if !r.Allowed(key) {
			offending[key] = "outside allowed namespace (" + r.describe() + ")"
		}
	}
	if len(offending) == 0 {
		return nil
	}
	return &model.Error{
		Kind:     model.KindValidation,
		Op:       "gate",
		Problems: offending,
		Err:      fmt.Errorf("%d key(s) outside the allowed namespace", len(offending)),
	}
}

// SyntaxChecker reports whether src is well-formed source code.
type SyntaxChecker func(src string) error

// CheckSyntax runs check over every value and returns a problem per key whose
// code does not parse.
func CheckSyntax(mapping model.OutputMapping, check SyntaxChecker) map[string]string {
	problems := map[string]string{}
	if check == nil {
		return problems
	}
	for _, key := range mapping.Keys() {
		if err := check(mapping[key]); err != nil {
			problems[key] = "syntax error: " + err.Error()
		}
	}
	return problems
}

// FormatProblems renders problems one per line in key order.
func FormatProblems(problems map[string]string) string {
	keys := make([]string, 0, len(problems))
	for k := range problems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, problems[k])
	}
	return b.String()
}
