package links

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"ArticleReview/internal/config"
	"ArticleReview/internal/domain"
	"ArticleReview/internal/infrastructure/parser"
	"ArticleReview/internal/infrastructure/storage"
)

func body(paragraphs int) string {
	var b strings.Builder
	for i := 1; i <= paragraphs; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d about heart health.</p>", i)
	}
	return b.String()
}

func seed(t *testing.T, state domain.ReviewState) (*Attacher, *storage.MemoryRepository) {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewMemoryRepository()
	if _, err := repo.SaveArticle(ctx, domain.Article{ID: "a-1", Title: "Heart health", BodyHTML: body(8)}); err != nil {
		t.Fatalf("SaveArticle: %v", err)
	}
	if state != domain.StateDraft {
		if _, err := repo.TransitionArticle(ctx, "a-1", []domain.ReviewState{domain.StateDraft}, domain.StatePendingReview, true); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if state != domain.StatePendingReview {
			if _, err := repo.TransitionArticle(ctx, "a-1", []domain.ReviewState{domain.StatePendingReview}, state, false); err != nil {
				t.Fatalf("transition: %v", err)
			}
		}
	}
	return NewAttacher(repo, repo, parser.NewHTMLParagrapher(), DefaultBounds(), nil), repo
}

func suggestions(positions ...int) domain.LinkSuggestionSet {
	set := domain.LinkSuggestionSet{}
	for i, p := range positions {
		set.Links = append(set.Links, domain.LinkSuggestion{
			AnchorText: fmt.Sprintf("anchor %d", i),
			TargetType: domain.TargetArticle,
			TargetSlug: fmt.Sprintf("slug-%d", i),
			Position:   p,
		})
	}
	set.TotalLinks = len(set.Links)
	return set
}

func TestAttachReplacesPriorSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, repo := seed(t, domain.StatePublished)

	if _, err := a.Attach(ctx, "a-1", suggestions(1, 1, 2, 3, 4, 5)); err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	stored, err := a.Attach(ctx, "a-1", suggestions(1, 2, 3, 4, 5))
	if err != nil {
		t.Fatalf("second Attach: %v", err)
	}
	if stored.TotalLinks != 5 || stored.ArticleID != "a-1" || stored.AttachedAt.IsZero() {
		t.Fatalf("unexpected stored set %+v", stored)
	}

	current, err := repo.GetLinks(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetLinks: %v", err)
	}
	if len(current.Links) != 5 {
		t.Fatalf("expected last set to win with 5 links, got %d", len(current.Links))
	}

	article, _ := repo.GetArticle(ctx, "a-1")
	if article.State != domain.StatePublished {
		t.Fatalf("attaching links must not change state, got %s", article.State)
	}
}

func TestAttachDensityViolations(t *testing.T) {
	t.Parallel()

	cases := map[string]domain.LinkSuggestionSet{
		"eleven links":            suggestions(1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6),
		"four links":              suggestions(1, 2, 3, 4),
		"three in one paragraph":  suggestions(1, 2, 2, 2, 3),
		"position past last para": suggestions(1, 2, 3, 4, 9),
	}
	for name, set := range cases {
		a, repo := seed(t, domain.StatePublished)
		_, err := a.Attach(context.Background(), "a-1", set)
		if !errors.Is(err, domain.ErrLinkDensityViolation) {
			t.Fatalf("%s: expected ErrLinkDensityViolation, got %v", name, err)
		}
		if _, err := repo.GetLinks(context.Background(), "a-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("%s: rejected set must not be stored", name)
		}
	}
}

func TestAttachRequiresPublished(t *testing.T) {
	t.Parallel()

	for _, state := range []domain.ReviewState{domain.StateDraft, domain.StatePendingReview, domain.StateNeedsRevision, domain.StateRejected} {
		a, _ := seed(t, state)
		_, err := a.Attach(context.Background(), "a-1", suggestions(1, 2, 3, 4, 5))
		if !errors.Is(err, domain.ErrArticleNotPublished) {
			t.Fatalf("%s: expected ErrArticleNotPublished, got %v", state, err)
		}
	}
}

func TestBoundsFromConfigDefaults(t *testing.T) {
	t.Parallel()

	b := BoundsFromConfig(config.LinksConfig{Max: 8})
	if b.Min != 5 || b.Max != 8 || b.MaxPerParagraph != 2 {
		t.Fatalf("unexpected bounds %+v", b)
	}
}
