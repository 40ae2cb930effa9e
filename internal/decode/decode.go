// Package decode turns free-form model replies into typed response shapes.
//
// Decoding never fails: a reply is tried against an ordered list of
// extraction strategies, and when none yields a valid value the shape's
// fallback instance is returned instead.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Shape is implemented by every response type the decoder can produce.
type Shape interface {
	// RequiredFields lists the top-level keys a candidate must contain.
	RequiredFields() []string
	// ListField names the required list field, or "" when the shape has none.
	ListField() string
	// Validate applies shape-specific checks after unmarshalling.
	Validate() error
	// Fallback resets the value to its minimal valid instance.
	Fallback()
}

// Stage identifies which strategy produced a decoded value.
type Stage int

const (
	StageWhole Stage = iota + 1
	StageFenced
	StageBracket
	StageRepaired
	StageDefaults
	StageMinimal
)

func (s Stage) String() string {
	switch s {
	case StageWhole:
		return "whole"
	case StageFenced:
		return "fenced"
	case StageBracket:
		return "bracket"
	case StageRepaired:
		return "repaired"
	case StageDefaults:
		return "defaults"
	case StageMinimal:
		return "minimal"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Parsed reports whether the value came from the reply rather than a fallback.
func (s Stage) Parsed() bool {
	return s == StageWhole || s == StageFenced || s == StageBracket || s == StageRepaired
}

// Strategy extracts a JSON candidate from raw text.
type Strategy struct {
	Stage   Stage
	Extract func(raw string) (string, bool)
}

// Strategies is the ordered extraction chain; the first candidate that
// validates wins.
var Strategies = []Strategy{
	{Stage: StageWhole, Extract: Whole},
	{Stage: StageFenced, Extract: Fenced},
	{Stage: StageBracket, Extract: Bracketed},
	{Stage: StageRepaired, Extract: Repaired},
}

// Decode returns a valid T for raw along with the stage that produced it.
func Decode[T any, P interface {
	*T
	Shape
}](raw string) (T, Stage) {
	for _, s := range Strategies {
		candidate, ok := s.Extract(raw)
		if !ok {
			continue
		}
		var v T
		if err := Validate(candidate, P(&v)); err == nil {
			return v, s.Stage
		}
	}

	var v T
	P(&v).Fallback()
	if P(&v).ListField() != "" {
		return v, StageDefaults
	}
	return v, StageMinimal
}

var errMissingKey = errors.New("missing required key")

// Validate unmarshals candidate into dst when every required key is present
// and the shape-specific checks pass. A top-level array is wrapped into the
// shape's list field.
func Validate(candidate string, dst Shape) error {
	data := bytes.TrimSpace([]byte(candidate))
	if len(data) == 0 {
		return errors.New("empty candidate")
	}
	if data[0] == '[' {
		field := dst.ListField()
		if field == "" {
			return errors.New("array reply for a shape without a list field")
		}
		wrapped, err := json.Marshal(map[string]json.RawMessage{field: data})
		if err != nil {
			return err
		}
		data = wrapped
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("parse object: %w", err)
	}
	for _, k := range dst.RequiredFields() {
		if _, ok := keys[k]; !ok {
			return fmt.Errorf("%w: %s", errMissingKey, k)
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return dst.Validate()
}

// Whole offers the entire reply as the candidate.
func Whole(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	return s, s != ""
}

// Fenced returns the body of the first ```json code block, or of the first
// unlabeled fence when no labeled one exists.
func Fenced(raw string) (string, bool) {
	if body, ok := fenceBody(raw, "```json"); ok {
		return body, true
	}
	return fenceBody(raw, "```")
}

func fenceBody(raw, opener string) (string, bool) {
	idx := strings.Index(raw, opener)
	if idx < 0 {
		return "", false
	}
	rest := raw[idx+len(opener):]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", false
	}
	// A bare ``` opener followed by a language label other than json is not ours.
	if opener == "```" {
		label := strings.TrimSpace(rest[:nl])
		if label != "" && !strings.EqualFold(label, "json") {
			return "", false
		}
	}
	rest = rest[nl+1:]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	body := strings.TrimSpace(rest[:end])
	return body, body != ""
}

// Bracketed returns the first balanced top-level {...} or [...] span,
// ignoring brackets that appear inside JSON strings.
func Bracketed(raw string) (string, bool) {
	start := strings.IndexAny(raw, "{[")
	for start >= 0 {
		if end, ok := matchBracket(raw, start); ok {
			return raw[start : end+1], true
		}
		next := strings.IndexAny(raw[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBracket(s string, start int) (int, bool) {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Repaired takes the fenced or bracketed candidate and removes trailing
// commas before a closing bracket, the most common defect in model JSON.
func Repaired(raw string) (string, bool) {
	candidate, ok := Fenced(raw)
	if !ok {
		candidate, ok = Bracketed(raw)
	}
	if !ok {
		return "", false
	}
	fixed := stripTrailingCommas(candidate)
	return fixed, fixed != candidate
}

func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
