package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bizpilot/insight-gateway/internal/oracle"
	"github.com/bizpilot/insight-gateway/internal/telemetry"
	"github.com/bizpilot/insight-gateway/internal/types"
)

const (
	maxContextTurns = 3
	maxTurnChars    = 280
)

const classifyInstruction = `You route questions for a business analytics assistant.
Reply with exactly one word:
cached_summary - the user asks how the current or a specific month is going overall (totals, pace, summary)
query - the user asks for specific data from their business records
arithmetic - the user asks for a pure calculation unrelated to their data
conversation - anything else, including greetings and unclear requests`

// Router classifies a question into one closed Intent. The decision is
// advisory only; every downstream branch re-validates its own inputs, so
// anything unrecognized maps to the conversation branch rather than a
// data-access path.
type Router struct {
	oracle  oracle.Oracle
	model   string
	metrics *telemetry.Metrics
}

func NewRouter(o oracle.Oracle, classifierModel string, metrics *telemetry.Metrics) *Router {
	return &Router{oracle: o, model: classifierModel, metrics: metrics}
}

func (r *Router) Classify(ctx context.Context, question string, recentTurns []types.Turn) types.Intent {
	turns := types.TailTurns(recentTurns, maxContextTurns, maxTurnChars)
	turns = oracle.TurnsWithQuestion(turns, question)

	raw, err := r.oracle.Complete(ctx, oracle.Request{
		System:    classifyInstruction,
		Turns:     turns,
		Model:     r.model,
		MaxTokens: 8,
	})
	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.RecordOracleCall("classify", status)
	}
	if err != nil {
		slog.Warn("classification failed, defaulting to conversation", "error", err)
		return types.IntentConversation
	}

	token := strings.ToLower(strings.TrimSpace(raw))
	// Some models wrap the token in punctuation or prose; take the first word.
	if i := strings.IndexAny(token, " \t\n.,:"); i >= 0 {
		token = token[:i]
	}

	decision, ok := types.ParseIntent(token)
	if !ok {
		slog.Debug("unrecognized intent token", "token", token)
		return types.IntentConversation
	}
	return decision
}
