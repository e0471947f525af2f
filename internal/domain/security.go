package domain

// RiskLevel enumerates guardrail outcomes.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// GuardrailAction describes how the executor reacts to a matched rule.
// Every action is confirmed by a human anyway; the guardrail only decides
// whether the executor may spawn it at all.
type GuardrailAction string

const (
	ActionAllow GuardrailAction = "allow"
	ActionBlock GuardrailAction = "block"
)

// RiskAssessment aggregates security evaluation data.
type RiskAssessment struct {
	Level        RiskLevel
	Action       GuardrailAction
	Reasons      []string
	MatchedRules []string
}

// Blocked reports whether the assessment forbids execution.
func (r RiskAssessment) Blocked() bool {
	return r.Action == ActionBlock
}
