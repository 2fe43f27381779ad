package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// ReviewState is the editorial lifecycle state of an article.
type ReviewState string

const (
	StateDraft         ReviewState = "draft"
	StatePendingReview ReviewState = "pending_review"
	StatePublished     ReviewState = "published"
	StateNeedsRevision ReviewState = "needs_revision"
	StateRejected      ReviewState = "rejected"
)

// TrustTierApproved marks authors allowed to be auto-published.
const TrustTierApproved = "approved"

var transitions = map[ReviewState][]ReviewState{
	StateDraft:         {StatePendingReview},
	StatePendingReview: {StatePublished, StateNeedsRevision, StateRejected, StateDraft},
	StateNeedsRevision: {StatePendingReview},
	StatePublished:     nil,
	StateRejected:      nil,
}

// Valid reports whether s is a known state.
func (s ReviewState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s ReviewState) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is an allowed lifecycle edge.
func CanTransition(from, to ReviewState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Editable reports whether the article content may still change.
func (s ReviewState) Editable() bool {
	return s == StateDraft || s == StateNeedsRevision
}

// Article is the slice of the content subsystem's article the review engine needs.
type Article struct {
	ID              string      `json:"id"`
	AuthorID        string      `json:"author_id"`
	AuthorTrustTier string      `json:"author_trust_tier"`
	AuthorContact   string      `json:"author_contact,omitempty"`
	Title           string      `json:"title"`
	BodyHTML        string      `json:"body_html"`
	State           ReviewState `json:"state"`
	Revision        int         `json:"revision"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// ReviewInputHash fingerprints everything a review attempt is computed from.
// The revision is part of the hash so an unchanged resubmission starts a new cycle.
func (a Article) ReviewInputHash(policyVersion string) string {
	h := sha256.New()
	for _, part := range []string{
		a.ID,
		strconv.Itoa(a.Revision),
		a.Title,
		a.BodyHTML,
		a.AuthorTrustTier,
		policyVersion,
	} {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{':'})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
