// Package parse implements the post-execution output transform spec.md
// §4.7 describes. As with render, the real template engines (TextFSM/TTP)
// are out of scope per spec.md §1; Parser is the pluggable contract, with
// Identity and a minimal single-state TextFSM-subset interpreter so the
// execute→parse pipeline and the S4 round-trip scenario are exercised.
package parse

import (
	"fmt"
	"regexp"
	"strings"
)

type Parser interface {
	Name() string
	Parse(template string, output string) (interface{}, error)
}

type Registry struct {
	parsers map[string]Parser
}

func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser, len(parsers))}
	for _, p := range parsers {
		r.parsers[p.Name()] = p
	}
	return r
}

func DefaultRegistry() *Registry {
	return NewRegistry(Identity{}, TextFSM{})
}

func (r *Registry) Get(name string) (Parser, bool) {
	p, ok := r.parsers[name]
	return p, ok
}

// Identity returns output unchanged — spec.md §8 law 8's round-trip parser.
type Identity struct{}

func (Identity) Name() string { return "identity" }
func (Identity) Parse(_ string, output string) (interface{}, error) {
	return output, nil
}

// TextFSM interprets the common subset of the TextFSM DSL: a block of
// `Value <Name> <regex>` declarations followed by a `Start` state whose
// rules are `^<pattern> -> Record` (or a bare `^<pattern>` that only
// updates values without emitting a row). Every Record emits a snapshot
// of the current named values as one output row — enough to satisfy
// spec.md §8 law 8 and the S4 scenario without reimplementing the full
// TextFSM state-machine language (explicitly out of scope, spec.md §1).
type TextFSM struct{}

func (TextFSM) Name() string { return "textfsm" }

type fsmValue struct {
	name    string
	pattern string
}

type fsmRule struct {
	re     *regexp.Regexp
	record bool
}

func (TextFSM) Parse(tmpl string, output string) (interface{}, error) {
	values, rules, err := compileTextFSM(tmpl)
	if err != nil {
		return nil, fmt.Errorf("textfsm: %w", err)
	}

	current := make(map[string]string, len(values))
	var rows []map[string]string
	for _, line := range strings.Split(output, "\n") {
		for _, rule := range rules {
			m := rule.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			names := rule.re.SubexpNames()
			for i, name := range names {
				if i == 0 || name == "" {
					continue
				}
				current[name] = m[i]
			}
			if rule.record {
				row := make(map[string]string, len(values))
				for _, v := range values {
					row[v.name] = current[v.name]
				}
				rows = append(rows, row)
			}
			break
		}
	}
	return rows, nil
}

var valueLine = regexp.MustCompile(`^Value\s+(\w+)\s+(.+)$`)
var recordRule = regexp.MustCompile(`^\^(.*?)\s*->\s*Record\s*$`)
var plainRule = regexp.MustCompile(`^\^(.*)$`)

func compileTextFSM(tmpl string) ([]fsmValue, []fsmRule, error) {
	var values []fsmValue
	var rules []fsmRule
	inStart := false
	for _, raw := range strings.Split(tmpl, "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case valueLine.MatchString(trimmed):
			m := valueLine.FindStringSubmatch(trimmed)
			values = append(values, fsmValue{name: m[1], pattern: m[2]})
		case trimmed == "Start":
			inStart = true
		case inStart && recordRule.MatchString(strings.TrimSpace(line)):
			m := recordRule.FindStringSubmatch(strings.TrimSpace(line))
			pattern := substituteValueRefs(m[1], values)
			re, err := regexp.Compile("^" + pattern)
			if err != nil {
				return nil, nil, fmt.Errorf("compile rule %q: %w", trimmed, err)
			}
			rules = append(rules, fsmRule{re: re, record: true})
		case inStart && strings.HasPrefix(trimmed, "^"):
			pattern := substituteValueRefs(plainRule.FindStringSubmatch(trimmed)[1], values)
			re, err := regexp.Compile("^" + pattern)
			if err != nil {
				return nil, nil, fmt.Errorf("compile rule %q: %w", trimmed, err)
			}
			rules = append(rules, fsmRule{re: re, record: false})
		}
	}
	if len(values) == 0 {
		return nil, nil, fmt.Errorf("no Value declarations found")
	}
	return values, rules, nil
}

var valueRefPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// substituteValueRefs replaces ${Name} with a named capture group around
// Name's declared regex; a name with no Value declaration captures `.+`.
func substituteValueRefs(pattern string, values []fsmValue) string {
	return valueRefPattern.ReplaceAllStringFunc(pattern, func(ref string) string {
		name := valueRefPattern.FindStringSubmatch(ref)[1]
		for _, v := range values {
			if v.name == name {
				return fmt.Sprintf("(?P<%s>%s)", name, v.pattern)
			}
		}
		return fmt.Sprintf("(?P<%s>.+)", name)
	})
}
