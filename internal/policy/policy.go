package policy

import (
	"fmt"
	"sort"
	"strings"

	"ArticleReview/internal/config"
	"ArticleReview/internal/domain"
)

// Severity classifies a promotion flag.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityAdvisory Severity = "advisory"
)

// Settings is the versioned configuration a Policy is built from.
type Settings struct {
	Version               string
	Weights               Weights
	EthicsFloor           int
	PublishThreshold      int
	ReviseThreshold       int
	RequireApprovedAuthor bool
	ApprovedTiers         []string
	Severities            map[string]Severity
}

// DefaultSettings mirrors the built-in editorial policy.
func DefaultSettings() Settings {
	return Settings{
		Version:               "default",
		Weights:               DefaultWeights(),
		EthicsFloor:           40,
		PublishThreshold:      80,
		ReviseThreshold:       50,
		RequireApprovedAuthor: true,
		ApprovedTiers:         []string{domain.TrustTierApproved},
		Severities:            map[string]Severity{"critical": SeverityCritical},
	}
}

// SettingsFromConfig converts the YAML policy section.
func SettingsFromConfig(cfg config.PolicyConfig) (Settings, error) {
	weights, err := WeightsFromFractions(cfg.Weights)
	if err != nil {
		return Settings{}, err
	}
	severities := make(map[string]Severity, len(cfg.PromotionFlagSeverity))
	for flag, sev := range cfg.PromotionFlagSeverity {
		switch Severity(strings.ToLower(strings.TrimSpace(sev))) {
		case SeverityCritical:
			severities[normalizeFlag(flag)] = SeverityCritical
		case SeverityAdvisory:
			severities[normalizeFlag(flag)] = SeverityAdvisory
		default:
			return Settings{}, fmt.Errorf("policy: unknown severity %q for flag %q", sev, flag)
		}
	}
	return Settings{
		Version:               cfg.Version,
		Weights:               weights,
		EthicsFloor:           cfg.EthicsFloor,
		PublishThreshold:      cfg.PublishThreshold,
		ReviseThreshold:       cfg.ReviseThreshold,
		RequireApprovedAuthor: cfg.RequireApprovedAuthor,
		ApprovedTiers:         cfg.ApprovedTiers,
		Severities:            severities,
	}, nil
}

// Policy is an immutable, versioned decision policy.
type Policy struct {
	settings Settings
	order    []domain.Category
	approved map[string]bool
}

// New validates settings and builds a Policy.
func New(s Settings) (*Policy, error) {
	if strings.TrimSpace(s.Version) == "" {
		return nil, fmt.Errorf("policy: version is required")
	}
	if err := s.Weights.validate(); err != nil {
		return nil, err
	}
	if s.EthicsFloor < 0 || s.EthicsFloor > 100 {
		return nil, fmt.Errorf("policy: ethics floor %d out of range", s.EthicsFloor)
	}
	if s.ReviseThreshold < 0 || s.ReviseThreshold > s.PublishThreshold || s.PublishThreshold > 100 {
		return nil, fmt.Errorf("policy: thresholds must satisfy 0 <= revise (%d) <= publish (%d) <= 100",
			s.ReviseThreshold, s.PublishThreshold)
	}

	weights := make(Weights, len(s.Weights))
	for c, v := range s.Weights {
		weights[c] = v
	}
	severities := make(map[string]Severity, len(s.Severities))
	for flag, sev := range s.Severities {
		severities[normalizeFlag(flag)] = sev
	}
	approved := make(map[string]bool, len(s.ApprovedTiers))
	for _, tier := range s.ApprovedTiers {
		approved[strings.ToLower(strings.TrimSpace(tier))] = true
	}

	s.Weights = weights
	s.Severities = severities
	return &Policy{settings: s, order: weights.Ordered(), approved: approved}, nil
}

// Version identifies the policy in audit records.
func (p *Policy) Version() string { return p.settings.Version }

// Weights returns a copy of the category weights.
func (p *Policy) Weights() Weights {
	out := make(Weights, len(p.settings.Weights))
	for c, v := range p.settings.Weights {
		out[c] = v
	}
	return out
}

// Aggregate applies the policy's weights.
func (p *Policy) Aggregate(eval domain.EvaluationResult) int {
	return Aggregate(eval, p.settings.Weights)
}

// Severity looks a flag up in the severity table. Unknown flags are advisory.
func (p *Policy) Severity(flag string) Severity {
	if sev, ok := p.settings.Severities[normalizeFlag(flag)]; ok {
		return sev
	}
	return SeverityAdvisory
}

// CriticalFlags returns the flags the severity table marks critical, sorted.
func (p *Policy) CriticalFlags(flags []string) []string {
	var out []string
	for _, f := range flags {
		if p.Severity(f) == SeverityCritical {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Decide maps an evaluation and its aggregate score to a decision. Rules are
// applied in strict order: ethics veto, publish bar, revise band, reject.
func (p *Policy) Decide(eval domain.EvaluationResult, score int, authorTrustTier string) domain.Decision {
	d := domain.Decision{Score: score, PolicyVersion: p.settings.Version}

	ethics := eval.Score(domain.CategoryEthics)
	critical := p.CriticalFlags(eval.PromotionFlags)

	switch {
	case ethics < p.settings.EthicsFloor:
		d.Outcome = domain.OutcomeReject
		d.Override = domain.OverrideEthicsFloor
		d.Feedback = p.ethicsFeedback(eval, "the ethics and promotion compliance review found problems serious enough to block publication")
	case len(critical) > 0:
		d.Outcome = domain.OutcomeReject
		d.Override = domain.OverrideCriticalPromotionFlag
		d.CriticalFlags = critical
		d.Feedback = p.ethicsFeedback(eval, "it contains promotional content that editorial compliance rules do not allow")
	case score >= p.settings.PublishThreshold:
		if p.trusted(authorTrustTier) {
			d.Outcome = domain.OutcomePublish
			d.Feedback = fmt.Sprintf("Your article scored %d and has been approved for publication.", score)
			return d
		}
		d.Outcome = domain.OutcomeRevise
		d.Override = domain.OverrideTrustGate
		d.Feedback = fmt.Sprintf("Your article scored %d, which meets the publication bar. "+
			"Articles from authors who are not yet approved need an editor's sign-off before they go live; "+
			"an editor will review it shortly.", score)
	case score >= p.settings.ReviseThreshold:
		d.Outcome = domain.OutcomeRevise
		d.Feedback = p.reviseFeedback(eval, score)
	default:
		d.Outcome = domain.OutcomeReject
		d.Feedback = p.rejectSummary(eval, score)
	}
	return d
}

func (p *Policy) trusted(tier string) bool {
	if !p.settings.RequireApprovedAuthor {
		return true
	}
	return p.approved[strings.ToLower(strings.TrimSpace(tier))]
}

func (p *Policy) ethicsFeedback(eval domain.EvaluationResult, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your article cannot be published: %s.", reason)
	ethics := eval.Categories[domain.CategoryEthics]
	writeList(&b, "\n\nPlease address:", ethics.Issues, "")
	writeList(&b, "", ethics.Suggestions, "Suggestion: ")
	return b.String()
}

func (p *Policy) reviseFeedback(eval domain.EvaluationResult, score int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your article scored %d and needs revision before it can be published.", score)
	for _, c := range p.order {
		res := eval.Categories[c]
		if len(res.Issues) == 0 && len(res.Suggestions) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n\n%s:", c.Label())
		writeList(&b, "", res.Issues, "")
		writeList(&b, "", res.Suggestions, "Suggestion: ")
	}
	return b.String()
}

func (p *Policy) rejectSummary(eval domain.EvaluationResult, score int) string {
	weakest := domain.Categories[0]
	for _, c := range domain.Categories[1:] {
		if eval.Score(c) < eval.Score(weakest) {
			weakest = c
		}
	}
	return fmt.Sprintf("Your article scored %d, below the minimum of %d required for revision. "+
		"The weakest area was %s. A substantial rewrite is needed before resubmitting.",
		score, p.settings.ReviseThreshold, strings.ToLower(weakest.Label()))
}

func writeList(b *strings.Builder, header string, items []string, prefix string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(header)
	for _, item := range items {
		b.WriteString("\n- ")
		b.WriteString(prefix)
		b.WriteString(item)
	}
}

func normalizeFlag(flag string) string {
	return strings.ToLower(strings.TrimSpace(flag))
}
