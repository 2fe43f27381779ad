package domain

import "time"

// Outcome is the publication decision.
type Outcome string

const (
	OutcomePublish Outcome = "publish"
	OutcomeRevise  Outcome = "revise"
	OutcomeReject  Outcome = "reject"
)

// Valid reports whether o is one of the three recognized outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePublish, OutcomeRevise, OutcomeReject:
		return true
	}
	return false
}

// TargetState maps an outcome to the state it moves a pending article into.
func (o Outcome) TargetState() (ReviewState, bool) {
	switch o {
	case OutcomePublish:
		return StatePublished, true
	case OutcomeRevise:
		return StateNeedsRevision, true
	case OutcomeReject:
		return StateRejected, true
	}
	return "", false
}

// Override names the rule that took precedence over the weighted score.
type Override string

const (
	OverrideNone                  Override = ""
	OverrideEthicsFloor           Override = "ethics_floor"
	OverrideCriticalPromotionFlag Override = "critical_promotion_flag"
	OverrideTrustGate             Override = "pending_human_review"
)

// Decision is the output of the decision policy.
type Decision struct {
	Outcome       Outcome  `json:"outcome"`
	Score         int      `json:"aggregate_score"`
	Override      Override `json:"override,omitempty"`
	Feedback      string   `json:"feedback_to_author"`
	PolicyVersion string   `json:"policy_version"`
	CriticalFlags []string `json:"critical_flags,omitempty"`
}

// AttemptStatus records how a review attempt ended.
type AttemptStatus string

const (
	AttemptCommitted           AttemptStatus = "committed"
	AttemptEvaluationFailed    AttemptStatus = "evaluation_failed"
	AttemptMalformedEvaluation AttemptStatus = "malformed_evaluation"
)

// ReviewAttempt is the append-only audit record of one review cycle.
// SubmittedAt is when the attempt sent the article to the evaluator.
// EvaluationHash is the Fingerprint of Evaluation for committed attempts.
type ReviewAttempt struct {
	ID             string            `json:"id"`
	ArticleID      string            `json:"article_id"`
	InputHash      string            `json:"input_hash"`
	Revision       int               `json:"revision"`
	Status         AttemptStatus     `json:"status"`
	FromState      ReviewState       `json:"from_state"`
	ToState        ReviewState       `json:"to_state"`
	PolicyVersion  string            `json:"policy_version"`
	EvaluationHash string            `json:"evaluation_hash,omitempty"`
	Evaluation     *EvaluationResult `json:"evaluation,omitempty"`
	Decision       *Decision         `json:"decision,omitempty"`
	Error          string            `json:"error,omitempty"`
	ArchiveKey     string            `json:"archive_key,omitempty"`
	SubmittedAt    time.Time         `json:"submitted_at"`
	CommittedAt    *time.Time        `json:"committed_at,omitempty"`

	// Replayed is set when an identical attempt had already been committed.
	Replayed bool `json:"-"`
}

// DeliveryReceipt describes the outcome of author feedback delivery.
type DeliveryReceipt struct {
	AttemptID       string    `json:"attempt_id"`
	ArticleID       string    `json:"article_id"`
	Channel         string    `json:"channel"`
	Delivered       bool      `json:"delivered"`
	Attempts        int       `json:"attempts"`
	DeliveredAt     time.Time `json:"delivered_at,omitempty"`
	QueuedForOps    bool      `json:"queued_for_operator"`
	AuthorMessage   string    `json:"author_message"`
	InternalSummary string    `json:"internal_summary"`
}

// FeedbackMessage is what a notification channel delivers to an author.
type FeedbackMessage struct {
	ArticleID string `json:"article_id"`
	AuthorID  string `json:"author_id"`
	Recipient string `json:"recipient,omitempty"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// OperatorTaskKind classifies work surfaced to operators.
type OperatorTaskKind string

const (
	TaskFeedbackDelivery    OperatorTaskKind = "feedback_delivery"
	TaskEvaluationFailed    OperatorTaskKind = "evaluation_failed"
	TaskMalformedEvaluation OperatorTaskKind = "malformed_evaluation"
)

// OperatorTask is an item in the operator attention queue.
type OperatorTask struct {
	ID         string           `json:"id"`
	Kind       OperatorTaskKind `json:"kind"`
	ArticleID  string           `json:"article_id"`
	AttemptID  string           `json:"attempt_id,omitempty"`
	Detail     string           `json:"detail"`
	Payload    string           `json:"payload,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}
