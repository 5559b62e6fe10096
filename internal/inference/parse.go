package inference

import (
	"encoding/json"
	"fmt"

	"github.com/Joshi004/moments-pipeline/internal/domain"
)

// momentCandidate is the wire shape a generation/refinement model is
// expected to emit per moment, before it is stamped with a run id.
type momentCandidate struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Title     string  `json:"title"`
}

// ParseMoments extracts a JSON array of moment candidates from free-form
// model text. Models routinely wrap the array in prose or markdown code
// fences, so this scans for the first well-formed top-level JSON array
// in the text rather than requiring the whole response to be pure JSON.
func ParseMoments(text string) ([]domain.Moment, error) {
	raw, err := firstJSONValue(text, '[', ']')
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	var candidates []momentCandidate
	if err := json.Unmarshal(raw, &candidates); err != nil {
		return nil, fmt.Errorf("%w: decode moment array: %v", ErrParse, err)
	}
	out := make([]domain.Moment, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, domain.Moment{
			StartTime: c.StartTime,
			EndTime:   c.EndTime,
			Title:     c.Title,
		})
	}
	return out, nil
}

// refinementCandidate is the wire shape a refinement model emits for one
// moment's adjusted window.
type refinementCandidate struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// ParseRefinement extracts a single {start_time, end_time} JSON object
// from free-form refinement model text, using the same tolerant scan as
// ParseMoments but over a brace-delimited value instead of a bracket-
// delimited array.
func ParseRefinement(text string) (startTime, endTime float64, err error) {
	raw, err := firstJSONValue(text, '{', '}')
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrParse, err)
	}
	var c refinementCandidate
	if err := json.Unmarshal(raw, &c); err != nil {
		return 0, 0, fmt.Errorf("%w: decode refinement object: %v", ErrParse, err)
	}
	return c.StartTime, c.EndTime, nil
}

// firstJSONValue scans s for the first substring delimited by open/close
// that unmarshals as valid JSON, tracking string and nesting state so
// braces/brackets inside quoted strings don't confuse the scan. When a
// candidate is not valid JSON, or an opener never closes, the scan resumes
// just after that opener, so stray delimiters in prose are skipped.
func firstJSONValue(s string, open, close byte) (json.RawMessage, error) {
	start := -1
	depth := 0
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
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return json.RawMessage(candidate), nil
					}
					return firstJSONValue(s[start+1:], open, close)
				}
			}
		}
	}
	if start >= 0 {
		return firstJSONValue(s[start+1:], open, close)
	}
	return nil, fmt.Errorf("no well-formed value delimited by %q/%q found", open, close)
}
