package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ValidationIssue describes a single field-level problem in an extraction
// payload. Field is qualified with the array index for batch payloads,
// e.g. "memories[2].value".
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	return i.Field + ": " + i.Message
}

// ValidateOptions carries context applied to every candidate in a payload.
type ValidateOptions struct {
	// Source labels where the extraction came from (session ID, importer name).
	Source string
	// ObservedAt stamps candidates that do not carry their own timestamp.
	ObservedAt *time.Time
	// StrictPath rejects candidates whose normalized path is not in the registry.
	StrictPath bool
}

// ExtractionPayload is the wire shape produced by an LLM extractor.
type ExtractionPayload struct {
	Memories []map[string]any `json:"memories"`
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// coerceString accepts strings, numbers, and bools the way lenient JSON
// producers emit them. Anything else is treated as absent.
func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

// coerceFloat returns (value, ok). Numeric strings are accepted.
func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// firstString returns the first nonempty coerced string among the keys.
func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s := coerceString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// inferTypeForPath extracts the type from a normalized path, defaulting to
// world_knowledge for unrecognized segments.
func inferTypeForPath(path string) Type {
	if t := TypeFromPath(path); t != "" {
		return t
	}
	return TypeWorldKnowledge
}

// ValidateCandidate coerces one raw extraction object into a Candidate.
//
// Validation is tolerant: LLM extractors misname fields and emit
// numbers as strings, so the value may arrive as "value", "summary", or
// "content", confidence defaults to 0.7 and is clamped to [0,1], the path is
// normalized (or synthesized from type plus subject when absent), and the
// update policy falls back to the registry default for the resolved path.
// Only a missing value, or a non-canonical path under StrictPath, is fatal.
func ValidateCandidate(raw map[string]any, opts ValidateOptions) (*Candidate, []ValidationIssue) {
	if raw == nil {
		return nil, []ValidationIssue{{Field: "memory", Message: "memory must be an object"}}
	}

	var issues []ValidationIssue

	pathRaw := firstString(raw, "path", "moryPath", "mory_path")
	typeRaw := coerceString(raw["type"])
	subjectRaw := coerceString(raw["subject"])
	value := firstString(raw, "value", "summary", "content")

	if value == "" {
		issues = append(issues, ValidationIssue{Field: "value", Message: "value is required"})
	}

	var path string
	if pathRaw != "" {
		path = Normalize(pathRaw)
	} else {
		inferred := TypeWorldKnowledge
		if t := Type(typeRaw); t.Valid() {
			inferred = t
		}
		subject := subjectRaw
		if subject == "" {
			subject = "unknown"
		}
		path = Normalize(Scheme + string(inferred) + "/" + subject)
	}

	if opts.StrictPath && !IsCanonicalPath(path) {
		issues = append(issues, ValidationIssue{
			Field:   "path",
			Message: fmt.Sprintf("path is not canonical: %s", path),
		})
	}

	memType := Type(typeRaw)
	if !memType.Valid() {
		memType = inferTypeForPath(path)
	}

	subject := subjectRaw
	if subject == "" {
		if idx := strings.LastIndex(path, "/"); idx >= 0 && idx+1 < len(path) {
			subject = path[idx+1:]
		} else {
			subject = "unknown"
		}
	}

	policy := UpdatePolicy(firstString(raw, "policy", "update_policy", "updatedPolicy"))
	if !policy.Valid() {
		policy = DefaultPolicyFor(path)
	}

	confidence := 0.7
	if v, ok := raw["confidence"]; ok {
		if f, valid := coerceFloat(v); valid {
			confidence = f
		} else {
			confidence = 0
		}
	}
	confidence = clampUnit(confidence)

	if len(issues) > 0 {
		return nil, issues
	}

	cand := &Candidate{
		Path:       path,
		Type:       memType,
		Subject:    subject,
		Value:      value,
		Confidence: confidence,
		Policy:     policy,
		Source:     opts.Source,
		ObservedAt: opts.ObservedAt,
		Title:      coerceString(raw["title"]),
	}
	if f, ok := coerceFloat(raw["importance"]); ok {
		imp := clampUnit(f)
		cand.Importance = &imp
	}
	if f, ok := coerceFloat(raw["utility"]); ok {
		util := clampUnit(f)
		cand.Utility = &util
	}
	return cand, nil
}

// ValidatePayload validates every object in an extraction payload.
//
// Valid candidates and per-candidate issues are returned together; one bad
// entry never rejects its siblings.
func ValidatePayload(payload *ExtractionPayload, opts ValidateOptions) ([]*Candidate, []ValidationIssue) {
	if payload == nil || payload.Memories == nil {
		return nil, []ValidationIssue{{Field: "memories", Message: "payload.memories must be an array"}}
	}

	var (
		candidates []*Candidate
		issues     []ValidationIssue
	)
	for i, raw := range payload.Memories {
		cand, candIssues := ValidateCandidate(raw, opts)
		if cand != nil {
			candidates = append(candidates, cand)
			continue
		}
		for _, issue := range candIssues {
			issues = append(issues, ValidationIssue{
				Field:   fmt.Sprintf("memories[%d].%s", i, issue.Field),
				Message: issue.Message,
			})
		}
	}
	return candidates, issues
}

// ParseExtractionJSON decodes raw extractor output into a payload.
// The top-level "memories" array is mandatory.
func ParseExtractionJSON(text string) (*ExtractionPayload, error) {
	var payload ExtractionPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.Memories == nil {
		return nil, fmt.Errorf("%w: missing memories array", ErrInvalidPayload)
	}
	return &payload, nil
}
