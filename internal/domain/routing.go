package domain

// Policy is the routing category assigned to an incoming message.
type Policy string

const (
	PolicyGreeting         Policy = "GREETING"
	PolicySimpleQA         Policy = "SIMPLE_QA"
	PolicyCodeComplex      Policy = "CODE_COMPLEX"
	PolicyReasoningComplex Policy = "REASONING_COMPLEX"
	PolicyManualOverride   Policy = "MANUAL_OVERRIDE"
)

// ModelTier is the cost/capability class a policy maps to.
type ModelTier string

const (
	// TierNone answers without calling any model.
	TierNone  ModelTier = "none"
	TierSmall ModelTier = "small"
	TierLarge ModelTier = "large"
)

// IsCallable reports whether the tier is backed by a model.
func (t ModelTier) IsCallable() bool {
	return t == TierSmall || t == TierLarge
}

// ParseOverride converts a caller supplied override into a tier.
// Only small and large are accepted.
func ParseOverride(value string) (ModelTier, bool) {
	switch ModelTier(value) {
	case TierSmall, TierLarge:
		return ModelTier(value), true
	default:
		return "", false
	}
}

// RoutingDecision is produced once per request by the router.
type RoutingDecision struct {
	Policy     Policy
	Tier       ModelTier
	Overridden bool
}

// RouteOptions carries caller hints for routing.
type RouteOptions struct {
	ModelOverride string
}
