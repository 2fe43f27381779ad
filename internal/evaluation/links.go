package evaluation

import (
	"encoding/json"
	"math"
	"strings"

	"ArticleReview/internal/domain"
)

type rawLink struct {
	AnchorText json.RawMessage `json:"anchor_text"`
	TargetType json.RawMessage `json:"target_type"`
	TargetSlug json.RawMessage `json:"target_slug"`
	Context    json.RawMessage `json:"context"`
	Position   json.RawMessage `json:"position"`
}

func (v *Validator) links(fields map[string]json.RawMessage) (domain.LinkSuggestionSet, error) {
	if key, ok := firstPresent(fields, evaluationSignatureKeys); ok {
		return domain.LinkSuggestionSet{}, malformed("field %q belongs to the %s schema", key, SchemaEvaluation)
	}
	for _, c := range domain.Categories {
		if _, ok := fields[string(c)]; ok {
			return domain.LinkSuggestionSet{}, malformed("category %q belongs to the %s schema", c, SchemaEvaluation)
		}
	}

	raw, ok := present(fields, "suggested_links")
	if !ok {
		return domain.LinkSuggestionSet{}, malformed("suggested_links is required")
	}
	var items []rawLink
	if err := json.Unmarshal(raw, &items); err != nil {
		return domain.LinkSuggestionSet{}, malformed("suggested_links must be a list of objects")
	}

	set := domain.LinkSuggestionSet{Links: make([]domain.LinkSuggestion, 0, len(items))}
	for i, item := range items {
		link, err := linkSuggestion(i, item)
		if err != nil {
			return domain.LinkSuggestionSet{}, err
		}
		set.Links = append(set.Links, link)
	}
	set.TotalLinks = len(set.Links)

	if rawTotal, ok := present(fields, "total_links"); ok {
		total, err := integer("total_links", rawTotal)
		if err != nil {
			return domain.LinkSuggestionSet{}, err
		}
		if total != len(set.Links) {
			return domain.LinkSuggestionSet{}, malformed("total_links %d does not match %d suggested links", total, len(set.Links))
		}
	}
	return set, nil
}

func linkSuggestion(i int, item rawLink) (domain.LinkSuggestion, error) {
	anchor, err := requiredString(i, "anchor_text", item.AnchorText)
	if err != nil {
		return domain.LinkSuggestion{}, err
	}
	targetType, err := requiredString(i, "target_type", item.TargetType)
	if err != nil {
		return domain.LinkSuggestion{}, err
	}
	if !domain.LinkTargetType(targetType).Valid() {
		return domain.LinkSuggestion{}, malformed("suggested_links[%d].target_type %q is not recognized", i, targetType)
	}
	slug, err := requiredString(i, "target_slug", item.TargetSlug)
	if err != nil {
		return domain.LinkSuggestion{}, err
	}

	var rationale string
	if !isNull(item.Context) {
		if err := json.Unmarshal(item.Context, &rationale); err != nil {
			return domain.LinkSuggestion{}, malformed("suggested_links[%d].context must be a string", i)
		}
	}

	if isNull(item.Position) {
		return domain.LinkSuggestion{}, malformed("suggested_links[%d].position is required", i)
	}
	position, err := integer("position", item.Position)
	if err != nil {
		return domain.LinkSuggestion{}, err
	}
	if position < 1 {
		return domain.LinkSuggestion{}, malformed("suggested_links[%d].position %d must be >= 1", i, position)
	}

	return domain.LinkSuggestion{
		AnchorText: anchor,
		TargetType: domain.LinkTargetType(targetType),
		TargetSlug: slug,
		Rationale:  strings.TrimSpace(rationale),
		Position:   position,
	}, nil
}

func requiredString(i int, field string, raw json.RawMessage) (string, error) {
	var s string
	if isNull(raw) || json.Unmarshal(raw, &s) != nil {
		return "", malformed("suggested_links[%d].%s must be a string", i, field)
	}
	if s = strings.TrimSpace(s); s == "" {
		return "", malformed("suggested_links[%d].%s is empty", i, field)
	}
	return s, nil
}

func integer(field string, raw json.RawMessage) (int, error) {
	f, err := number(field, raw)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, malformed("%s must be an integer", field)
	}
	return int(f), nil
}
