package domain

import "errors"

var (
	// ErrMalformedEvaluation rejects untrusted evaluator output; never repaired.
	ErrMalformedEvaluation = errors.New("malformed evaluation")
	// ErrInvalidTransition reports a state that drifted under concurrency or withdrawal.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrEvaluationTimeout   = errors.New("evaluation timeout")
	ErrEvaluationTransport = errors.New("evaluation transport failure")
	// ErrEvaluationFailed is returned once evaluator retries are exhausted.
	ErrEvaluationFailed     = errors.New("evaluation failed")
	ErrArticleNotPublished  = errors.New("article not published")
	ErrLinkDensityViolation = errors.New("link density violation")
	ErrDeliveryFailure      = errors.New("delivery failure")
	ErrNotFound             = errors.New("not found")
)
