package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Category is one scored dimension of the evaluator output.
type Category string

const (
	CategoryMedicalAccuracy Category = "medical_accuracy"
	CategoryLanguageQuality Category = "language_quality"
	CategorySEOCompliance   Category = "seo_compliance"
	CategoryEthics          Category = "ethics"
	CategoryContentQuality  Category = "content_quality"
)

// Categories lists every category in declared order. Ties in weight are
// broken by this order.
var Categories = []Category{
	CategoryMedicalAccuracy,
	CategoryLanguageQuality,
	CategorySEOCompliance,
	CategoryEthics,
	CategoryContentQuality,
}

// Label is the human readable category name used in feedback.
func (c Category) Label() string {
	switch c {
	case CategoryMedicalAccuracy:
		return "Medical accuracy"
	case CategoryLanguageQuality:
		return "Language quality"
	case CategorySEOCompliance:
		return "SEO compliance"
	case CategoryEthics:
		return "Ethics and promotion compliance"
	case CategoryContentQuality:
		return "Content quality"
	default:
		return string(c)
	}
}

// CategoryResult is the normalized per-category evaluator verdict.
type CategoryResult struct {
	Score       int      `json:"score"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// EvaluationResult is a validated evaluator response. Prose fields are
// untrusted display strings; only scores and flags feed the policy.
type EvaluationResult struct {
	Categories       map[Category]CategoryResult `json:"categories"`
	PromotionFlags   []string                    `json:"promotion_flags"`
	ReportedScore    *int                        `json:"overall_score,omitempty"`
	ReportedDecision Outcome                     `json:"decision,omitempty"`
	FeedbackToAuthor string                      `json:"feedback_to_author,omitempty"`
}

// Score returns the category score, zero when absent.
func (e EvaluationResult) Score(c Category) int {
	return e.Categories[c].Score
}

// Fingerprint identifies the validated result. Two evaluator responses that
// normalize to the same result share a fingerprint.
func (e EvaluationResult) Fingerprint() string {
	// Marshal sorts map keys and cannot fail for these field types.
	b, _ := json.Marshal(e)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EvaluationRequest is what the evaluator receives for an article.
type EvaluationRequest struct {
	ArticleID       string   `json:"article_id"`
	Title           string   `json:"title"`
	Paragraphs      []string `json:"paragraphs"`
	AuthorID        string   `json:"author_id"`
	AuthorTrustTier string   `json:"author_trust_tier"`
}
