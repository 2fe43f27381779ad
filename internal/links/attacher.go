package links

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ArticleReview/internal/config"
	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
)

// Bounds limits the size and density of a link suggestion set.
type Bounds struct {
	Min             int
	Max             int
	MaxPerParagraph int
}

// DefaultBounds allows 5 to 10 links with at most 2 per paragraph.
func DefaultBounds() Bounds {
	return Bounds{Min: 5, Max: 10, MaxPerParagraph: 2}
}

// BoundsFromConfig falls back to defaults for unset values.
func BoundsFromConfig(cfg config.LinksConfig) Bounds {
	b := DefaultBounds()
	if cfg.Min > 0 {
		b.Min = cfg.Min
	}
	if cfg.Max > 0 {
		b.Max = cfg.Max
	}
	if cfg.MaxPerParagraph > 0 {
		b.MaxPerParagraph = cfg.MaxPerParagraph
	}
	return b
}

// Attacher stores validated link suggestions on published articles. It never
// changes review state.
type Attacher struct {
	articles    ports.ArticleStore
	store       ports.LinkStore
	paragrapher ports.Paragrapher
	bounds      Bounds
	logger      *zap.Logger
	now         func() time.Time
}

// NewAttacher wires stores and bounds. paragrapher may be nil, which skips the
// paragraph range check.
func NewAttacher(articles ports.ArticleStore, store ports.LinkStore, paragrapher ports.Paragrapher, bounds Bounds, logger *zap.Logger) *Attacher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Attacher{
		articles:    articles,
		store:       store,
		paragrapher: paragrapher,
		bounds:      bounds,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Attach replaces the article's link set with set.
func (a *Attacher) Attach(ctx context.Context, articleID string, set domain.LinkSuggestionSet) (domain.LinkSuggestionSet, error) {
	article, err := a.articles.GetArticle(ctx, articleID)
	if err != nil {
		return domain.LinkSuggestionSet{}, err
	}
	if article.State != domain.StatePublished {
		return domain.LinkSuggestionSet{}, fmt.Errorf("%w: article %s is %s", domain.ErrArticleNotPublished, articleID, article.State)
	}

	if err := a.checkDensity(article, set.Links); err != nil {
		a.logger.Warn("link suggestions rejected",
			zap.String("article_id", articleID),
			zap.Int("links", len(set.Links)),
			zap.Error(err))
		return domain.LinkSuggestionSet{}, err
	}

	stored := domain.LinkSuggestionSet{
		ArticleID:  articleID,
		Links:      append([]domain.LinkSuggestion(nil), set.Links...),
		TotalLinks: len(set.Links),
		AttachedAt: a.now(),
	}
	if err := a.store.ReplaceLinks(ctx, stored); err != nil {
		return domain.LinkSuggestionSet{}, fmt.Errorf("replace links: %w", err)
	}
	a.logger.Info("link suggestions attached",
		zap.String("article_id", articleID),
		zap.Int("links", stored.TotalLinks))
	return stored, nil
}

func (a *Attacher) checkDensity(article domain.Article, links []domain.LinkSuggestion) error {
	if n := len(links); n < a.bounds.Min || n > a.bounds.Max {
		return fmt.Errorf("%w: %d links, want between %d and %d", domain.ErrLinkDensityViolation, n, a.bounds.Min, a.bounds.Max)
	}

	perParagraph := map[int]int{}
	for _, l := range links {
		perParagraph[l.Position]++
		if perParagraph[l.Position] > a.bounds.MaxPerParagraph {
			return fmt.Errorf("%w: paragraph %d has more than %d links", domain.ErrLinkDensityViolation, l.Position, a.bounds.MaxPerParagraph)
		}
	}

	if a.paragrapher == nil {
		return nil
	}
	paragraphs, err := a.paragrapher.Paragraphs(article.BodyHTML)
	if err != nil {
		return fmt.Errorf("split article %s: %w", article.ID, err)
	}
	for _, l := range links {
		if l.Position > len(paragraphs) {
			return fmt.Errorf("%w: position %d beyond the article's %d paragraphs", domain.ErrLinkDensityViolation, l.Position, len(paragraphs))
		}
	}
	return nil
}
