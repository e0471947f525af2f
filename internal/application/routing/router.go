// Package routing classifies incoming messages into policies and model tiers.
package routing

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/doeshing/shai-agent/internal/domain"
)

// Thresholds used by the classifier.
const (
	GreetingMaxWords = 8
	LongMinWords     = 40
	LongMinChars     = 250
	LongMinSentences = 3
	ShortMaxWords    = 25
	ShortMaxChars    = 160
)

// A greeting must open the message. RE2 word boundaries are ASCII-only, so
// the terminator is spelled out to cover Georgian and Cyrillic.
var greetingPattern = regexp.MustCompile(`^(?:hi|hello|hey|hiya|yo|greetings|good\s+(?:morning|afternoon|evening|day)|howdy|gamarjoba|გამარჯობა|გაგიმარჯოს|სალამი|ჰაი|привет|здравствуйте|hola|buenos\s+d[ií]as|bonjour|ciao)(?:$|[\s!.,?;:)])`)

var codePattern = regexp.MustCompile(`(?i)(?:` + strings.Join([]string{
	"```",
	`\b(?:type|reference|syntax|range|value|attribute|key|index|runtime|null ?pointer)error\b`,
	`\bexception\b`, `\bstack ?trace\b`, `\btraceback\b`, `\bsegfault\b`, `\bpanic:`,
	`\bbug\b`, `\bdebug(?:ging)?\b`, `\bcompile(?:r|s|d)?\b`, `\bundefined is not\b`,
	`\bfunction\b`, `\bfunc\b`, `\bclass\b`, `\bmethod\b`, `\bvariable\b`, `\bregex\b`,
	`\brefactor\b`, `\bunit tests?\b`, `\bnpm\b`, `\bimport\b`, `\bsql\b`, `\bapi endpoint\b`,
	`\b[\w-]+\.(?:js|ts|tsx|jsx|go|py|java|rb|rs|c|cpp|cs|php|css|html)\b`,
	`შეცდომა`, `ბაგი`, `კოდი`, `ფუნქცია`, `ошибка`, `код`,
}, "|") + `)`)

var reasoningPattern = regexp.MustCompile(`(?i)(?:` + strings.Join([]string{
	`\bexplain\b`, `\banaly[sz]e\b`, `\banalysis\b`, `\bcompare\b`, `\bcomparison\b`,
	`\bwhy\b`, `\btrade-?offs?\b`, `\bpros and cons\b`, `\bdesign\b`, `\barchitecture\b`,
	`\bstrategy\b`, `\bplan\b`, `\bevaluate\b`, `\breason(?:ing)?\b`, `\bstep by step\b`,
	`\bimplications?\b`, `\bbest approach\b`,
	`ახსენი`, `რატომ`, `შეადარე`, `გაანალიზე`, `объясни`, `почему`, `сравни`,
}, "|") + `)`)

var factualPattern = regexp.MustCompile(`(?i)(?:` + strings.Join([]string{
	`^what(?:'s| is| are)\b`, `^who\b`, `^when\b`, `^where\b`, `^which\b`, `^how (?:many|much|old|long)\b`,
	`\bdefine\b`, `\bdefinition\b`, `\bmeaning of\b`,
	`^(?:რა|ვინ|როდის|სად|что|кто|где)(?:\s|$)`,
}, "|") + `)`)

// Sentence terminators: Latin, ellipsis, CJK and Devanagari.
var sentenceSplit = regexp.MustCompile(`[.!?…。！？।]+`)

// Router implements the deterministic classification rules.
// It is stateless and safe for concurrent use.
type Router struct{}

// NewRouter creates a Router.
func NewRouter() *Router {
	return &Router{}
}

// Features are the measurements the rules are evaluated against.
type Features struct {
	Words     int
	Chars     int
	Sentences int
}

// Measure computes the features of a normalised message.
func Measure(message string) Features {
	normalized := normalize(message)
	return Features{
		Words:     len(strings.Fields(normalized)),
		Chars:     utf8.RuneCountInString(normalized),
		Sentences: countSentences(normalized),
	}
}

// Route assigns a policy and tier. It never fails: anything unmatched falls
// back to the cheap tier.
func (r *Router) Route(message string, opts domain.RouteOptions) domain.RoutingDecision {
	if tier, ok := domain.ParseOverride(opts.ModelOverride); ok {
		return domain.RoutingDecision{Policy: domain.PolicyManualOverride, Tier: tier, Overridden: true}
	}

	normalized := strings.ToLower(normalize(message))
	features := Measure(normalized)

	switch {
	case features.Words <= GreetingMaxWords && greetingPattern.MatchString(normalized):
		return decision(domain.PolicyGreeting, domain.TierNone)
	case codePattern.MatchString(normalized):
		return decision(domain.PolicyCodeComplex, domain.TierLarge)
	case reasoningPattern.MatchString(normalized) || isLong(features):
		return decision(domain.PolicyReasoningComplex, domain.TierLarge)
	case factualPattern.MatchString(normalized) || isShort(features):
		return decision(domain.PolicySimpleQA, domain.TierSmall)
	default:
		return decision(domain.PolicySimpleQA, domain.TierSmall)
	}
}

// TierFor returns the fixed tier of a non-override policy.
func TierFor(policy domain.Policy) domain.ModelTier {
	switch policy {
	case domain.PolicyGreeting:
		return domain.TierNone
	case domain.PolicyCodeComplex, domain.PolicyReasoningComplex:
		return domain.TierLarge
	default:
		return domain.TierSmall
	}
}

func decision(policy domain.Policy, tier domain.ModelTier) domain.RoutingDecision {
	return domain.RoutingDecision{Policy: policy, Tier: tier}
}

func isLong(f Features) bool {
	return f.Words >= LongMinWords || f.Chars >= LongMinChars || f.Sentences >= LongMinSentences
}

func isShort(f Features) bool {
	return f.Words <= ShortMaxWords && f.Chars <= ShortMaxChars
}

func normalize(message string) string {
	return strings.Join(strings.Fields(message), " ")
}

func countSentences(text string) int {
	count := 0
	for _, part := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}
	return count
}
