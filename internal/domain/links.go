package domain

import "time"

// LinkTargetType is the kind of internal page a link points to.
type LinkTargetType string

const (
	TargetDiseasePage LinkTargetType = "disease_page"
	TargetProduct     LinkTargetType = "product"
	TargetNews        LinkTargetType = "news"
	TargetArticle     LinkTargetType = "article"
)

// Valid reports whether t is a recognized target type.
func (t LinkTargetType) Valid() bool {
	switch t {
	case TargetDiseasePage, TargetProduct, TargetNews, TargetArticle:
		return true
	}
	return false
}

// LinkSuggestion is a single candidate internal link. Position is the
// 1-based paragraph number the anchor appears in.
type LinkSuggestion struct {
	AnchorText string         `json:"anchor_text"`
	TargetType LinkTargetType `json:"target_type"`
	TargetSlug string         `json:"target_slug"`
	Rationale  string         `json:"context"`
	Position   int            `json:"position"`
}

// LinkSuggestionSet is the set attached to a published article.
type LinkSuggestionSet struct {
	ArticleID  string           `json:"article_id"`
	Links      []LinkSuggestion `json:"suggested_links"`
	TotalLinks int              `json:"total_links"`
	AttachedAt time.Time        `json:"attached_at,omitempty"`
}
