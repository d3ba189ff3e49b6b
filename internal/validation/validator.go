// Package validation checks and normalizes operation arguments before they
// are gated or dispatched.
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// Rule inspects arguments, records problems on c and writes normalized
// values back into c.Args.
type Rule func(c *Checker)

// Validator maps operation names to their rules. Operations without rules
// are accepted as parsed.
type Validator struct {
	rules map[string][]Rule
}

// New returns a validator with the rules of the built-in operations.
func New() *Validator {
	v := &Validator{rules: make(map[string][]Rule)}
	registerBuiltins(v)
	return v
}

// Register appends rules for an operation.
func (v *Validator) Register(name string, rules ...Rule) {
	v.rules[name] = append(v.rules[name], rules...)
}

// ParseArguments decodes raw invocation arguments into an object. Blank input
// is an empty object.
func ParseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	return args, nil
}

// Validate parses and checks the arguments of one invocation.
func (v *Validator) Validate(name, raw string) domain.ValidationOutcome {
	args, err := ParseArguments(raw)
	if err != nil {
		return domain.ValidationOutcome{
			Valid:  false,
			Errors: []string{"arguments are not a valid JSON object: " + err.Error()},
		}
	}
	c := &Checker{Args: args}
	for _, rule := range v.rules[name] {
		rule(c)
	}
	return domain.ValidationOutcome{
		Valid:               len(c.errors) == 0,
		Errors:              c.errors,
		Warnings:            c.warnings,
		NormalizedArguments: c.Args,
	}
}

// Checker accumulates validation findings for one invocation.
type Checker struct {
	Args     map[string]any
	errors   []string
	warnings []string
}

// Errorf records a validation error.
func (c *Checker) Errorf(format string, a ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, a...))
}

// Warnf records a warning.
func (c *Checker) Warnf(format string, a ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, a...))
}

// String trims args[key] and checks its length in characters. A missing
// optional string is left absent.
func String(key string, required bool, minLen, maxLen int) Rule {
	return func(c *Checker) {
		raw, present := c.Args[key]
		if !present || raw == nil {
			if required {
				c.Errorf("%s is required", key)
			}
			delete(c.Args, key)
			return
		}
		s, ok := raw.(string)
		if !ok {
			c.Errorf("%s must be a string", key)
			return
		}
		s = strings.TrimSpace(s)
		c.Args[key] = s
		n := len([]rune(s))
		switch {
		case s == "" && required:
			c.Errorf("%s must not be empty", key)
		case s == "":
			delete(c.Args, key)
		case minLen > 0 && n < minLen:
			c.Errorf("%s must be at least %d characters", key, minLen)
		case maxLen > 0 && n > maxLen:
			c.Errorf("%s must be at most %d characters", key, maxLen)
		}
	}
}

// Int checks that args[key] is an integer within [min, max]. When absent and
// def is non-nil, the default is applied.
func Int(key string, min, max int64, def *int64) Rule {
	return func(c *Checker) {
		raw, present := c.Args[key]
		if !present || raw == nil {
			if def != nil {
				c.Args[key] = *def
			} else {
				delete(c.Args, key)
			}
			return
		}
		var n int64
		switch v := raw.(type) {
		case float64:
			if v != math.Trunc(v) {
				c.Errorf("%s must be a whole number", key)
				return
			}
			n = int64(v)
		case int64:
			n = v
		case int:
			n = int64(v)
		default:
			c.Errorf("%s must be a number", key)
			return
		}
		if n < min || n > max {
			c.Errorf("%s must be between %d and %d", key, min, max)
			return
		}
		c.Args[key] = n
	}
}

// RequiredInt is Int without a default that fails when the key is absent.
func RequiredInt(key string, min, max int64) Rule {
	inner := Int(key, min, max, nil)
	return func(c *Checker) {
		if _, ok := c.Args[key]; !ok {
			c.Errorf("%s is required", key)
			return
		}
		inner(c)
	}
}

// Enum checks membership of args[key] in values, applying def when absent.
func Enum(key string, values []string, def string) Rule {
	return func(c *Checker) {
		raw, present := c.Args[key]
		if !present || raw == nil {
			if def != "" {
				c.Args[key] = def
			} else {
				delete(c.Args, key)
			}
			return
		}
		s, ok := raw.(string)
		if !ok {
			c.Errorf("%s must be a string", key)
			return
		}
		s = strings.ToLower(strings.TrimSpace(s))
		for _, v := range values {
			if strings.EqualFold(s, v) {
				c.Args[key] = v
				return
			}
		}
		c.Errorf("%s must be one of %s", key, strings.Join(values, ", "))
	}
}

// StringList checks that args[key] is an array of non-empty strings with
// between minItems and maxItems entries. Duplicates are dropped with a
// warning. maxItems <= 0 means unbounded.
func StringList(key string, minItems, maxItems int) Rule {
	return func(c *Checker) {
		raw, present := c.Args[key]
		if !present || raw == nil {
			if minItems > 0 {
				c.Errorf("%s is required", key)
			}
			delete(c.Args, key)
			return
		}
		items, ok := raw.([]any)
		if !ok {
			c.Errorf("%s must be an array of strings", key)
			return
		}
		seen := make(map[string]bool, len(items))
		out := make([]any, 0, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				c.Errorf("%s[%d] must be a non-empty string", key, i)
				return
			}
			s = strings.TrimSpace(s)
			if seen[s] {
				c.Warnf("duplicate %s entry %s ignored", key, s)
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
		switch {
		case len(out) < minItems:
			c.Errorf("%s must contain at least %d item(s)", key, minItems)
		case maxItems > 0 && len(out) > maxItems:
			c.Errorf("%s must contain at most %d items", key, maxItems)
		}
		c.Args[key] = out
	}
}

func listLen(args map[string]any, key string) int {
	items, _ := args[key].([]any)
	return len(items)
}

func int64p(n int64) *int64 { return &n }
