package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
)

var (
	articleColumns = []string{
		"id", "author_id", "author_trust_tier", "author_contact", "title",
		"body_html", "state", "revision", "created_at", "updated_at",
	}
	attemptColumns = []string{
		"id", "article_id", "input_hash", "revision", "status", "from_state", "to_state",
		"policy_version", "evaluation_hash", "evaluation", "decision", "error", "archive_key", "submitted_at", "committed_at",
	}
	taskColumns = []string{
		"id", "kind", "article_id", "attempt_id", "detail", "payload", "created_at", "resolved_at",
	}
)

// SQLRepository persists review state in Postgres or SQLite.
type SQLRepository struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

var _ ports.Repository = (*SQLRepository)(nil)

// NewSQLRepository wires a sql.DB opened with driver.
func NewSQLRepository(db *sql.DB, driver string) *SQLRepository {
	var format sq.PlaceholderFormat = sq.Dollar
	if driver == DriverSQLite {
		format = sq.Question
	}
	return &SQLRepository{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(format),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// GetArticle returns the article or domain.ErrNotFound.
func (r *SQLRepository) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	return r.getArticle(ctx, r.db, id)
}

// SaveArticle creates a draft or updates content of an editable article.
func (r *SQLRepository) SaveArticle(ctx context.Context, article domain.Article) (domain.Article, error) {
	if strings.TrimSpace(article.ID) == "" {
		return domain.Article{}, fmt.Errorf("article id is required")
	}

	var saved domain.Article
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		current, err := r.getArticle(ctx, tx, article.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			article.State = domain.StateDraft
			article.Revision = 0
			article.CreatedAt = now
			article.UpdatedAt = now
			query, args, err := r.sb.Insert("articles").Columns(articleColumns...).Values(
				article.ID, article.AuthorID, article.AuthorTrustTier, article.AuthorContact, article.Title,
				article.BodyHTML, string(article.State), article.Revision, article.CreatedAt, article.UpdatedAt,
			).ToSql()
			if err != nil {
				return fmt.Errorf("build insert article: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert article: %w", err)
			}
			saved = article
			return nil
		case err != nil:
			return err
		}

		if !current.State.Editable() {
			return fmt.Errorf("%w: article %s is %s", domain.ErrInvalidTransition, article.ID, current.State)
		}
		current.AuthorID = article.AuthorID
		current.AuthorTrustTier = article.AuthorTrustTier
		current.AuthorContact = article.AuthorContact
		current.Title = article.Title
		current.BodyHTML = article.BodyHTML
		current.UpdatedAt = now

		query, args, err := r.sb.Update("articles").SetMap(map[string]any{
			"author_id":         current.AuthorID,
			"author_trust_tier": current.AuthorTrustTier,
			"author_contact":    current.AuthorContact,
			"title":             current.Title,
			"body_html":         current.BodyHTML,
			"updated_at":        current.UpdatedAt,
		}).Where(sq.Eq{"id": current.ID}).ToSql()
		if err != nil {
			return fmt.Errorf("build update article: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update article: %w", err)
		}
		saved = current
		return nil
	})
	return saved, err
}

// TransitionArticle moves an article to `to` if its current state is one of from.
func (r *SQLRepository) TransitionArticle(ctx context.Context, id string, from []domain.ReviewState, to domain.ReviewState, bumpRevision bool) (domain.Article, error) {
	var updated domain.Article
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		update := r.sb.Update("articles").
			Set("state", string(to)).
			Set("updated_at", r.now()).
			Where(sq.Eq{"id": id, "state": statesToStrings(from)})
		if bumpRevision {
			update = update.Set("revision", sq.Expr("revision + 1"))
		}
		query, args, err := update.ToSql()
		if err != nil {
			return fmt.Errorf("build transition: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("transition article: %w", err)
		}

		article, err := r.getArticle(ctx, tx, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: article %s is %s, cannot move to %s", domain.ErrInvalidTransition, id, article.State, to)
		}
		updated = article
		return nil
	})
	return updated, err
}

// ListArticlesInState returns articles in state ordered by id.
func (r *SQLRepository) ListArticlesInState(ctx context.Context, state domain.ReviewState) ([]domain.Article, error) {
	query, args, err := r.sb.Select(articleColumns...).From("articles").
		Where(sq.Eq{"state": string(state)}).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list articles: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// CommitAttempt applies the decision's transition with a compare-and-set on
// (state = pending_review, revision) and appends the attempt in one
// transaction. A committed attempt for the same input hash is replayed.
func (r *SQLRepository) CommitAttempt(ctx context.Context, attempt domain.ReviewAttempt) (domain.ReviewAttempt, bool, error) {
	var stored domain.ReviewAttempt
	var replayed bool

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := r.findCommitted(ctx, tx, attempt.ArticleID, attempt.InputHash)
		if err == nil {
			stored, err = replayOf(existing, attempt)
			replayed = err == nil
			return err
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		query, args, err := r.sb.Update("articles").
			Set("state", string(attempt.ToState)).
			Set("updated_at", r.now()).
			Where(sq.Eq{
				"id":       attempt.ArticleID,
				"state":    string(domain.StatePendingReview),
				"revision": attempt.Revision,
			}).ToSql()
		if err != nil {
			return fmt.Errorf("build commit transition: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("commit transition: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			article, err := r.getArticle(ctx, tx, attempt.ArticleID)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: article %s is %s at revision %d",
				domain.ErrInvalidTransition, attempt.ArticleID, article.State, article.Revision)
		}

		if err := r.insertAttempt(ctx, tx, attempt); err != nil {
			return err
		}
		stored = attempt
		return nil
	})
	if err == nil {
		return stored, replayed, nil
	}

	// A concurrent commit of the same input wins the race either on the
	// unique index or on the compare-and-set. It is a replay only when it
	// committed the same evaluation.
	if isUniqueViolation(err) || errors.Is(err, domain.ErrInvalidTransition) {
		if existing, findErr := r.FindCommittedAttempt(ctx, attempt.ArticleID, attempt.InputHash); findErr == nil {
			stored, replayErr := replayOf(existing, attempt)
			if replayErr != nil {
				return domain.ReviewAttempt{}, false, replayErr
			}
			return stored, true, nil
		}
	}
	return domain.ReviewAttempt{}, false, err
}

// RecordAttempt appends a non-committing attempt.
func (r *SQLRepository) RecordAttempt(ctx context.Context, attempt domain.ReviewAttempt) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.getArticle(ctx, tx, attempt.ArticleID); err != nil {
			return err
		}
		return r.insertAttempt(ctx, tx, attempt)
	})
}

// FindCommittedAttempt looks up the committed attempt for (article, hash).
func (r *SQLRepository) FindCommittedAttempt(ctx context.Context, articleID, inputHash string) (domain.ReviewAttempt, error) {
	return r.findCommitted(ctx, r.db, articleID, inputHash)
}

// HasAttempt reports whether any attempt exists for (article, hash).
func (r *SQLRepository) HasAttempt(ctx context.Context, articleID, inputHash string) (bool, error) {
	query, args, err := r.sb.Select("COUNT(*)").From("review_attempts").
		Where(sq.Eq{"article_id": articleID, "input_hash": inputHash}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build has attempt: %w", err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("count attempts: %w", err)
	}
	return n > 0, nil
}

// ListAttempts returns the audit trail of an article in submission order.
func (r *SQLRepository) ListAttempts(ctx context.Context, articleID string) ([]domain.ReviewAttempt, error) {
	query, args, err := r.sb.Select(attemptColumns...).From("review_attempts").
		Where(sq.Eq{"article_id": articleID}).OrderBy("submitted_at", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list attempts: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := []domain.ReviewAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// ReplaceLinks upserts the article's link suggestion set.
func (r *SQLRepository) ReplaceLinks(ctx context.Context, set domain.LinkSuggestionSet) error {
	links, err := json.Marshal(set.Links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	attachedAt := set.AttachedAt
	if attachedAt.IsZero() {
		attachedAt = r.now()
	}

	query, args, err := r.sb.Insert("link_suggestion_sets").
		Columns("article_id", "links", "total_links", "attached_at").
		Values(set.ArticleID, string(links), set.TotalLinks, attachedAt).
		Suffix("ON CONFLICT (article_id) DO UPDATE SET links = EXCLUDED.links, total_links = EXCLUDED.total_links, attached_at = EXCLUDED.attached_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert links: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert links: %w", err)
	}
	return nil
}

// GetLinks returns the current link set or domain.ErrNotFound.
func (r *SQLRepository) GetLinks(ctx context.Context, articleID string) (domain.LinkSuggestionSet, error) {
	query, args, err := r.sb.Select("article_id", "links", "total_links", "attached_at").
		From("link_suggestion_sets").Where(sq.Eq{"article_id": articleID}).ToSql()
	if err != nil {
		return domain.LinkSuggestionSet{}, fmt.Errorf("build get links: %w", err)
	}

	var (
		set   domain.LinkSuggestionSet
		links string
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&set.ArticleID, &links, &set.TotalLinks, &set.AttachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LinkSuggestionSet{}, fmt.Errorf("links for %s: %w", articleID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.LinkSuggestionSet{}, fmt.Errorf("scan links: %w", err)
	}
	if err := json.Unmarshal([]byte(links), &set.Links); err != nil {
		return domain.LinkSuggestionSet{}, fmt.Errorf("decode links: %w", err)
	}
	return set, nil
}

// Enqueue adds an operator task.
func (r *SQLRepository) Enqueue(ctx context.Context, task domain.OperatorTask) (domain.OperatorTask, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = r.now()
	}

	query, args, err := r.sb.Insert("operator_tasks").Columns(taskColumns...).Values(
		task.ID, string(task.Kind), task.ArticleID, task.AttemptID, task.Detail, task.Payload, task.CreatedAt, nullTime(task.ResolvedAt),
	).ToSql()
	if err != nil {
		return domain.OperatorTask{}, fmt.Errorf("build insert task: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return domain.OperatorTask{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// ListOpenTasks returns unresolved tasks oldest first.
func (r *SQLRepository) ListOpenTasks(ctx context.Context) ([]domain.OperatorTask, error) {
	query, args, err := r.sb.Select(taskColumns...).From("operator_tasks").
		Where(sq.Eq{"resolved_at": nil}).OrderBy("created_at", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list tasks: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	out := []domain.OperatorTask{}
	for rows.Next() {
		var (
			t        domain.OperatorTask
			kind     string
			resolved sql.NullTime
		)
		if err := rows.Scan(&t.ID, &kind, &t.ArticleID, &t.AttemptID, &t.Detail, &t.Payload, &t.CreatedAt, &resolved); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Kind = domain.OperatorTaskKind(kind)
		t.ResolvedAt = timePtr(resolved)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// ResolveTask marks a task as handled. Resolving twice is a no-op.
func (r *SQLRepository) ResolveTask(ctx context.Context, id string) error {
	query, args, err := r.sb.Update("operator_tasks").Set("resolved_at", r.now()).
		Where(sq.Eq{"id": id, "resolved_at": nil}).ToSql()
	if err != nil {
		return fmt.Errorf("build resolve task: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("resolve task: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	query, args, err = r.sb.Select("COUNT(*)").From("operator_tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build task lookup: %w", err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return fmt.Errorf("lookup task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("operator task %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *SQLRepository) getArticle(ctx context.Context, q queryer, id string) (domain.Article, error) {
	query, args, err := r.sb.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build get article: %w", err)
	}
	article, err := scanArticle(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	return article, err
}

func (r *SQLRepository) findCommitted(ctx context.Context, q queryer, articleID, inputHash string) (domain.ReviewAttempt, error) {
	query, args, err := r.sb.Select(attemptColumns...).From("review_attempts").
		Where(sq.Eq{
			"article_id": articleID,
			"input_hash": inputHash,
			"status":     string(domain.AttemptCommitted),
		}).Limit(1).ToSql()
	if err != nil {
		return domain.ReviewAttempt{}, fmt.Errorf("build find committed: %w", err)
	}
	attempt, err := scanAttempt(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReviewAttempt{}, fmt.Errorf("committed attempt for %s: %w", articleID, domain.ErrNotFound)
	}
	return attempt, err
}

func (r *SQLRepository) insertAttempt(ctx context.Context, tx *sql.Tx, a domain.ReviewAttempt) error {
	evaluation, err := nullJSON(a.Evaluation)
	if err != nil {
		return fmt.Errorf("marshal evaluation: %w", err)
	}
	decision, err := nullJSON(a.Decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	query, args, err := r.sb.Insert("review_attempts").Columns(attemptColumns...).Values(
		a.ID, a.ArticleID, a.InputHash, a.Revision, string(a.Status), string(a.FromState), string(a.ToState),
		a.PolicyVersion, a.EvaluationHash, evaluation, decision, a.Error, a.ArchiveKey, a.SubmittedAt, nullTime(a.CommittedAt),
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert attempt: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func scanArticle(row rowScanner) (domain.Article, error) {
	var (
		a     domain.Article
		state string
	)
	err := row.Scan(&a.ID, &a.AuthorID, &a.AuthorTrustTier, &a.AuthorContact, &a.Title,
		&a.BodyHTML, &state, &a.Revision, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Article{}, err
		}
		return domain.Article{}, fmt.Errorf("scan article: %w", err)
	}
	a.State = domain.ReviewState(state)
	return a, nil
}

func scanAttempt(row rowScanner) (domain.ReviewAttempt, error) {
	var (
		a                         domain.ReviewAttempt
		status, fromState, toState string
		evaluation, decision      sql.NullString
		committedAt               sql.NullTime
	)
	err := row.Scan(&a.ID, &a.ArticleID, &a.InputHash, &a.Revision, &status, &fromState, &toState,
		&a.PolicyVersion, &a.EvaluationHash, &evaluation, &decision, &a.Error, &a.ArchiveKey, &a.SubmittedAt, &committedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReviewAttempt{}, err
		}
		return domain.ReviewAttempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	a.Status = domain.AttemptStatus(status)
	a.FromState = domain.ReviewState(fromState)
	a.ToState = domain.ReviewState(toState)
	a.CommittedAt = timePtr(committedAt)

	if evaluation.Valid {
		a.Evaluation = &domain.EvaluationResult{}
		if err := json.Unmarshal([]byte(evaluation.String), a.Evaluation); err != nil {
			return domain.ReviewAttempt{}, fmt.Errorf("decode evaluation: %w", err)
		}
	}
	if decision.Valid {
		a.Decision = &domain.Decision{}
		if err := json.Unmarshal([]byte(decision.String), a.Decision); err != nil {
			return domain.ReviewAttempt{}, fmt.Errorf("decode decision: %w", err)
		}
	}
	return a, nil
}

func nullJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func statesToStrings(states []domain.ReviewState) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, string(s))
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// replayOf accepts the committed attempt as a replay of attempt only when
// both carry the same evaluation.
func replayOf(committed, attempt domain.ReviewAttempt) (domain.ReviewAttempt, error) {
	if committed.EvaluationHash != attempt.EvaluationHash {
		return domain.ReviewAttempt{}, fmt.Errorf("%w: article %s already decided revision %d from a different evaluation",
			domain.ErrInvalidTransition, attempt.ArticleID, committed.Revision)
	}
	return committed, nil
}
