package evaluation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"ArticleReview/internal/domain"
)

// Schema selects which payload shape Validate checks.
type Schema string

const (
	SchemaEvaluation      Schema = "evaluation"
	SchemaLinkSuggestions Schema = "link_suggestions"
)

const (
	defaultMaxPayloadBytes = 256 << 10
	overallScoreTolerance  = 1
)

var (
	linkSignatureKeys       = []string{"suggested_links", "total_links"}
	evaluationSignatureKeys = []string{"promotion_flags", "overall_score", "decision", "feedback_to_author"}
)

// Aggregator recomputes the overall score for consistency checks.
type Aggregator interface {
	Aggregate(domain.EvaluationResult) int
}

// Payload is a validated evaluator payload. Exactly one field is set,
// matching the requested schema.
type Payload struct {
	Schema     Schema
	Evaluation *domain.EvaluationResult
	Links      *domain.LinkSuggestionSet
}

// Validator checks untrusted evaluator output. Anything it cannot accept as-is
// is rejected with domain.ErrMalformedEvaluation; nothing is repaired.
type Validator struct {
	agg      Aggregator
	maxBytes int
}

// NewValidator wires the aggregator used for overall_score checks. maxBytes <= 0
// selects the default payload limit.
func NewValidator(agg Aggregator, maxBytes int) *Validator {
	if maxBytes <= 0 {
		maxBytes = defaultMaxPayloadBytes
	}
	return &Validator{agg: agg, maxBytes: maxBytes}
}

// Validate decodes raw against the requested schema.
func (v *Validator) Validate(schema Schema, raw []byte) (Payload, error) {
	fields, err := v.decodeObject(raw)
	if err != nil {
		return Payload{}, err
	}

	switch schema {
	case SchemaEvaluation:
		res, err := v.evaluation(fields)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Schema: schema, Evaluation: &res}, nil
	case SchemaLinkSuggestions:
		set, err := v.links(fields)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Schema: schema, Links: &set}, nil
	default:
		return Payload{}, fmt.Errorf("evaluation: unknown schema %q", schema)
	}
}

// ValidateEvaluation validates a publishing-evaluation payload.
func (v *Validator) ValidateEvaluation(raw []byte) (domain.EvaluationResult, error) {
	p, err := v.Validate(SchemaEvaluation, raw)
	if err != nil {
		return domain.EvaluationResult{}, err
	}
	return *p.Evaluation, nil
}

// ValidateLinks validates a link-suggestion payload.
func (v *Validator) ValidateLinks(raw []byte) (domain.LinkSuggestionSet, error) {
	p, err := v.Validate(SchemaLinkSuggestions, raw)
	if err != nil {
		return domain.LinkSuggestionSet{}, err
	}
	return *p.Links, nil
}

func (v *Validator) decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, malformed("empty payload")
	}
	if len(raw) > v.maxBytes {
		return nil, malformed("payload of %d bytes exceeds limit of %d", len(raw), v.maxBytes)
	}
	if raw[0] != '{' {
		return nil, malformed("payload is not a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, malformed("decode payload: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, malformed("trailing data after JSON object")
	}
	return fields, nil
}

func (v *Validator) evaluation(fields map[string]json.RawMessage) (domain.EvaluationResult, error) {
	if key, ok := firstPresent(fields, linkSignatureKeys); ok {
		return domain.EvaluationResult{}, malformed("field %q belongs to the %s schema", key, SchemaLinkSuggestions)
	}

	res := domain.EvaluationResult{Categories: make(map[domain.Category]domain.CategoryResult, len(domain.Categories))}
	for _, c := range domain.Categories {
		cat, err := category(c, fields[string(c)])
		if err != nil {
			return domain.EvaluationResult{}, err
		}
		res.Categories[c] = cat
	}

	flags, err := stringList("promotion_flags", fields["promotion_flags"])
	if err != nil {
		return domain.EvaluationResult{}, err
	}
	res.PromotionFlags = flags

	if raw, ok := present(fields, "feedback_to_author"); ok {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return domain.EvaluationResult{}, malformed("feedback_to_author must be a string")
		}
		res.FeedbackToAuthor = strings.TrimSpace(text)
	}

	if raw, ok := present(fields, "decision"); ok {
		var decision string
		if err := json.Unmarshal(raw, &decision); err != nil {
			return domain.EvaluationResult{}, malformed("decision must be a string")
		}
		if !domain.Outcome(decision).Valid() {
			return domain.EvaluationResult{}, malformed("decision %q is not one of publish, revise, reject", decision)
		}
		res.ReportedDecision = domain.Outcome(decision)
	}

	if raw, ok := present(fields, "overall_score"); ok {
		reported, err := score("overall_score", raw)
		if err != nil {
			return domain.EvaluationResult{}, err
		}
		if v.agg != nil {
			computed := v.agg.Aggregate(res)
			if diff := reported - computed; diff > overallScoreTolerance || diff < -overallScoreTolerance {
				return domain.EvaluationResult{}, malformed("overall_score %d inconsistent with recomputed %d", reported, computed)
			}
		}
		res.ReportedScore = &reported
	}

	return res, nil
}

func category(c domain.Category, raw json.RawMessage) (domain.CategoryResult, error) {
	if isNull(raw) {
		return domain.CategoryResult{}, malformed("missing category %s", c)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return domain.CategoryResult{}, malformed("category %s must be an object", c)
	}
	scoreRaw, ok := present(body, "score")
	if !ok {
		return domain.CategoryResult{}, malformed("category %s has no score", c)
	}
	s, err := score(string(c)+".score", scoreRaw)
	if err != nil {
		return domain.CategoryResult{}, err
	}
	issues, err := stringList(string(c)+".issues", body["issues"])
	if err != nil {
		return domain.CategoryResult{}, err
	}
	suggestions, err := stringList(string(c)+".suggestions", body["suggestions"])
	if err != nil {
		return domain.CategoryResult{}, err
	}
	return domain.CategoryResult{Score: s, Issues: issues, Suggestions: suggestions}, nil
}

// score accepts JSON numbers only, checks [0,100] before rounding half-up.
func score(field string, raw json.RawMessage) (int, error) {
	f, err := number(field, raw)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 100 {
		return 0, malformed("%s %v outside [0,100]", field, f)
	}
	return int(math.Floor(f + 0.5)), nil
}

func number(field string, raw json.RawMessage) (float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !(trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9')) {
		return 0, malformed("%s must be a number", field)
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return 0, malformed("%s must be a number", field)
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, malformed("%s is not a finite number", field)
	}
	return f, nil
}

// stringList returns trimmed, non-empty strings; absent or null yields an empty list.
func stringList(field string, raw json.RawMessage) ([]string, error) {
	out := []string{}
	if isNull(raw) {
		return out, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, malformed("%s must be a list", field)
	}
	for i, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			return nil, malformed("%s[%d] must be a string", field, i)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, false
	}
	return raw, true
}

func firstPresent(fields map[string]json.RawMessage, keys []string) (string, bool) {
	for _, k := range keys {
		if _, ok := fields[k]; ok {
			return k, true
		}
	}
	return "", false
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrMalformedEvaluation}, args...)...)
}
