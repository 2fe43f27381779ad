package llm

import (
	"fmt"
	"strings"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/infrastructure/parser"
)

// EvaluationInstruction fixes the response contract of the review prompt. Field
// names are shared with existing evaluator deployments and must not change.
const EvaluationInstruction = `Evaluate the article below for publication on a patient-facing medical site.
Respond with a single JSON object and nothing else, using exactly this shape:
{
  "medical_accuracy": {"score": 0-100, "issues": [string], "suggestions": [string]},
  "language_quality": {"score": 0-100, "issues": [string], "suggestions": [string]},
  "seo_compliance": {"score": 0-100, "issues": [string], "suggestions": [string]},
  "ethics": {"score": 0-100, "issues": [string], "suggestions": [string]},
  "content_quality": {"score": 0-100, "issues": [string], "suggestions": [string]},
  "promotion_flags": [string],
  "overall_score": 0-100,
  "decision": "publish" | "revise" | "reject",
  "feedback_to_author": string
}
Scores are integers. "ethics" covers drug or treatment promotion, conflicts of interest and patient safety.
"promotion_flags" lists short snake_case tags for promotional content, e.g. "brand_mention",
"unapproved_drug_claim", "off_label_promotion"; use "critical" for anything that must block publication.
"overall_score" is the weighted mean: medical_accuracy 0.30, language_quality 0.20, seo_compliance 0.15,
ethics 0.20, content_quality 0.15.`

// LinkInstruction fixes the response contract of the internal-link prompt.
const LinkInstruction = `Suggest internal links for the published article below.
Respond with a single JSON object and nothing else, using exactly this shape:
{
  "suggested_links": [
    {"anchor_text": string, "target_type": "disease_page" | "product" | "news" | "article",
     "target_slug": string, "context": string, "position": integer}
  ],
  "total_links": integer
}
"anchor_text" must appear verbatim in the paragraph given by "position", which is the paragraph number
shown in square brackets. Suggest between 5 and 10 links, at most 2 per paragraph.`

// ArticlePrompt renders the article as the user message of either prompt.
func ArticlePrompt(req domain.EvaluationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", strings.TrimSpace(req.Title))
	if req.AuthorTrustTier != "" {
		fmt.Fprintf(&b, "Author trust tier: %s\n", req.AuthorTrustTier)
	}
	b.WriteString("\nParagraphs:\n")
	b.WriteString(parser.Numbered(req.Paragraphs))
	return b.String()
}

// StripCodeFence removes a Markdown code fence wrapped around a JSON payload.
// The payload itself is returned untouched for validation.
func StripCodeFence(text string) string {
	clean := strings.TrimSpace(text)
	if !strings.HasPrefix(clean, "```") {
		return clean
	}
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```JSON")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}
