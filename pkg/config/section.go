package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Section holds one [section]'s options. Option keys are
// case-insensitive; reads are tracked for the unused-option warning.
type Section struct {
	name string

	mu       sync.Mutex
	options  map[string]string
	accessed map[string]struct{}
}

func newSection(name string) *Section {
	return &Section{
		name:     name,
		options:  make(map[string]string),
		accessed: make(map[string]struct{}),
	}
}

// GetName returns the full section name, e.g. "instrument left".
func (s *Section) GetName() string { return s.name }

func (s *Section) set(key, value string) {
	s.mu.Lock()
	s.options[strings.ToLower(key)] = value
	s.mu.Unlock()
}

// lookup reads an option and marks it consumed.
func (s *Section) lookup(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.options[key]
	if ok {
		s.accessed[key] = struct{}{}
	}
	return v, ok
}

// markDefault marks a defaulted option consumed so it never shows up
// as a typo warning.
func (s *Section) markDefault(option string) {
	s.mu.Lock()
	s.accessed[strings.ToLower(option)] = struct{}{}
	s.mu.Unlock()
}

// GetAccessedOptions returns the option keys something read, sorted.
func (s *Section) GetAccessedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.accessed))
	for key := range s.accessed {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// GetUnusedOptions returns the option keys nothing read, sorted.
func (s *Section) GetUnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for key := range s.options {
		if _, ok := s.accessed[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// GetPrefixOptions returns the option keys starting with prefix. The
// deck section uses this for its slot_N options.
func (s *Section) GetPrefixOptions(prefix string) []string {
	prefix = strings.ToLower(prefix)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for key := range s.options {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out
}

// Get returns a string option. With a fallback the option is optional;
// without one a missing option is an error.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	if v, ok := s.lookup(option); ok {
		return v, nil
	}
	if len(fallback) > 0 {
		s.markDefault(option)
		return fallback[0], nil
	}
	return "", ErrMissingOption(s.name, option)
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			s.markDefault(option)
			return fallback[0], nil
		}
		return 0, ErrMissingOption(s.name, option)
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, ErrInvalidValue(s.name, option, v, "integer")
	}
	return i, nil
}

// GetIntWithBounds returns an integer option checked against optional
// inclusive bounds.
func (s *Section) GetIntWithBounds(option string, minVal, maxVal *int, fallback ...int) (int, error) {
	i, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if minVal != nil && i < *minVal {
		return 0, ErrOutOfRange(s.name, option, float64(i), "must have minimum of "+strconv.Itoa(*minVal))
	}
	if maxVal != nil && i > *maxVal {
		return 0, ErrOutOfRange(s.name, option, float64(i), "must have maximum of "+strconv.Itoa(*maxVal))
	}
	return i, nil
}

// GetFloat returns a float option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			s.markDefault(option)
			return fallback[0], nil
		}
		return 0, ErrMissingOption(s.name, option)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, ErrInvalidValue(s.name, option, v, "float")
	}
	return f, nil
}

// FloatBounds constrains GetFloatWithBounds. Min/Max are inclusive,
// Above/Below exclusive; nil disables a bound.
type FloatBounds struct {
	MinVal *float64
	MaxVal *float64
	Above  *float64
	Below  *float64
}

// GetFloatWithBounds returns a float option checked against bounds.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	f, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	fmtBound := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	switch {
	case bounds.MinVal != nil && f < *bounds.MinVal:
		return 0, ErrOutOfRange(s.name, option, f, "must have minimum of "+fmtBound(*bounds.MinVal))
	case bounds.MaxVal != nil && f > *bounds.MaxVal:
		return 0, ErrOutOfRange(s.name, option, f, "must have maximum of "+fmtBound(*bounds.MaxVal))
	case bounds.Above != nil && f <= *bounds.Above:
		return 0, ErrOutOfRange(s.name, option, f, "must be above "+fmtBound(*bounds.Above))
	case bounds.Below != nil && f >= *bounds.Below:
		return 0, ErrOutOfRange(s.name, option, f, "must be below "+fmtBound(*bounds.Below))
	}
	return f, nil
}

// GetBool returns a boolean option. Accepted spellings: 1/true/yes/on
// and 0/false/no/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			s.markDefault(option)
			return fallback[0], nil
		}
		return false, ErrMissingOption(s.name, option)
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, ErrInvalidValue(s.name, option, v, "boolean (true/false/yes/no/on/off/1/0)")
}

// GetChoice returns a string option restricted to the given values,
// compared case-insensitively; the canonical spelling is returned.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, choice := range choices {
		if strings.EqualFold(v, choice) {
			return choice, nil
		}
	}
	return "", ErrInvalidChoice(s.name, option, v, choices)
}

// GetList splits an option on sep, trimming each element and dropping
// empties. Tip rack lists use this.
func (s *Section) GetList(option, sep string, fallback ...[]string) ([]string, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			s.markDefault(option)
			return fallback[0], nil
		}
		return nil, ErrMissingOption(s.name, option)
	}
	var out []string
	for _, part := range strings.Split(v, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}
