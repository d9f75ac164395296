package types

// Intent is the routing decision for an incoming question. It is advisory
// for cost and latency only; every branch still performs its own validation.
type Intent string

const (
	IntentCachedSummary Intent = "cached_summary"
	IntentQuery         Intent = "query"
	IntentArithmetic    Intent = "arithmetic"
	IntentConversation  Intent = "conversation"
)

func ParseIntent(s string) (Intent, bool) {
	switch Intent(s) {
	case IntentCachedSummary, IntentQuery, IntentArithmetic, IntentConversation:
		return Intent(s), true
	default:
		return "", false
	}
}
