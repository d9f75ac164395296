package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bizpilot/insight-gateway/internal/calc"
	"github.com/bizpilot/insight-gateway/internal/guard"
	"github.com/bizpilot/insight-gateway/internal/history"
	"github.com/bizpilot/insight-gateway/internal/httputil"
	"github.com/bizpilot/insight-gateway/internal/intent"
	"github.com/bizpilot/insight-gateway/internal/oracle"
	"github.com/bizpilot/insight-gateway/internal/stream"
	"github.com/bizpilot/insight-gateway/internal/summary"
	"github.com/bizpilot/insight-gateway/internal/telemetry"
	"github.com/bizpilot/insight-gateway/internal/tenant"
	"github.com/bizpilot/insight-gateway/internal/types"
)

const answerInstruction = `You are a concise business analytics assistant.
Answer the user's question from the query results provided. Use plain
language and concrete numbers. If a chart would help, append exactly one
fenced block opened with ` + "```chart-json" + ` containing a JSON object
{"type","title","series"} and closed with ` + "```" + `. Never invent data.`

const conversationInstruction = `You are a friendly business analytics assistant.
Answer briefly. You cannot access the user's data in this reply; suggest a
concrete question about their numbers when that would help.`

// Handler wires the safety pipeline for one chat request: rate limiting
// and tenant resolution happen in middleware; the handler routes intent
// and streams the answer.
type Handler struct {
	router    *intent.Router
	resolver  *guard.Resolver
	summaries *summary.Manager
	oracle    oracle.Oracle
	recorder  history.Recorder
	metrics   *telemetry.Metrics
}

func NewHandler(router *intent.Router, resolver *guard.Resolver, summaries *summary.Manager, o oracle.Oracle, recorder history.Recorder, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		router:    router,
		resolver:  resolver,
		summaries: summaries,
		oracle:    o,
		recorder:  recorder,
		metrics:   metrics,
	}
}

// Chat handles POST /v1/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		httputil.WriteBadRequestError(w, reqID, "question is required")
		return
	}

	// Identity fields come from the middleware, never from the body.
	req.RequestID = reqID
	req.CallerID = tc.CallerID
	req.CrossTenantAdmin = tc.CrossTenantAdmin
	req.ReceivedAt = receivedAt

	// Tenant selection: an explicit tenant in the body must be permitted
	// by the caller's membership; absent one, the caller's own tenant is
	// used, or cross-tenant mode for admins.
	target := tc.TenantID
	if req.TenantID != "" {
		if !tc.Permits(req.TenantID) {
			httputil.WriteError(w, reqID, http.StatusForbidden, "tenant_error", "tenant_not_permitted", "Caller may not access the requested tenant")
			return
		}
		target = req.TenantID
	}
	if target == "" && !tc.CrossTenantAdmin {
		httputil.WriteNoTenantError(w, reqID)
		return
	}

	scoped := &tenant.Context{
		CallerID:         tc.CallerID,
		CallerName:       tc.CallerName,
		TenantID:         target,
		CrossTenantAdmin: tc.CrossTenantAdmin,
		AllowedTenantIDs: tc.AllowedTenantIDs,
	}
	req.TenantID = target

	sw, err := stream.NewWriter(w, reqID)
	if err != nil {
		httputil.WriteInternalError(w, reqID, err.Error())
		return
	}

	history.AppendAsync(h.recorder, history.Message{
		SessionID: req.SessionID,
		TenantID:  target,
		Role:      types.RoleUser,
		Text:      req.Question,
	})

	decision := h.router.Classify(r.Context(), req.Question, req.RecentTurns)

	slog.Info("question routed",
		"request_id", reqID,
		"tenant_id", target,
		"intent", string(decision),
	)

	status := h.dispatch(r.Context(), sw, decision, req, scoped)

	if h.metrics != nil {
		h.metrics.RecordRequest(string(decision), status, float64(time.Since(receivedAt).Milliseconds()))
	}

	slog.Info("request completed",
		"request_id", reqID,
		"tenant_id", target,
		"intent", string(decision),
		"status", status,
		"duration_ms", time.Since(receivedAt).Milliseconds(),
	)
}

func (h *Handler) dispatch(ctx context.Context, sw *stream.Writer, decision types.Intent, req types.ChatRequest, tc *tenant.Context) string {
	switch decision {
	case types.IntentCachedSummary:
		return h.handleSummary(ctx, sw, req, tc)
	case types.IntentQuery:
		// Monthly-summary-shaped questions take the cached path even when
		// routed as queries; the cache is cheaper and already tenant-scoped.
		if tc.TenantID != "" && looksLikeMonthlySummary(req.Question) {
			return h.handleSummary(ctx, sw, req, tc)
		}
		return h.handleQuery(ctx, sw, req, tc)
	case types.IntentArithmetic:
		return h.handleArithmetic(ctx, sw, req, tc)
	default:
		return h.handleConversation(ctx, sw, req, tc)
	}
}

func (h *Handler) handleSummary(ctx context.Context, sw *stream.Writer, req types.ChatRequest, tc *tenant.Context) string {
	if tc.TenantID == "" {
		// Cross-tenant admins must name a tenant for summaries.
		sw.WriteFrame(stream.Text("Which tenant should I summarize? Include a tenant_id in the request."))
		sw.WriteFrame(stream.Done())
		return "needs_tenant"
	}

	sw.WriteFrame(stream.Status("computing monthly summary"))

	year, month := parsePeriod(req.Question, time.Now())
	s, err := h.summaries.GetMonthlySummary(ctx, tc.TenantID, year, month)
	if err != nil {
		slog.Error("monthly summary failed", "error", err, "tenant_id", tc.TenantID)
		sw.WriteFrame(stream.Error("I couldn't compute that summary right now. Please try again."))
		return "error"
	}

	var answer strings.Builder
	for _, line := range formatSummary(s) {
		answer.WriteString(line)
		if err := sw.WriteFrame(stream.Text(line)); err != nil {
			return "client_gone"
		}
	}
	chart := summaryChart(s)
	if chart != nil {
		sw.WriteFrame(stream.Chart(chart))
	}
	sw.WriteFrame(stream.Done())

	history.AppendAsync(h.recorder, history.Message{
		SessionID: req.SessionID,
		TenantID:  tc.TenantID,
		Role:      types.RoleAssistant,
		Text:      answer.String(),
		Chart:     chart,
	})
	return "ok"
}

func (h *Handler) handleQuery(ctx context.Context, sw *stream.Writer, req types.ChatRequest, tc *tenant.Context) string {
	sw.WriteFrame(stream.Status("looking that up"))

	out, err := h.resolver.Resolve(ctx, req.Question, tc, req.RecentTurns)
	if err != nil {
		switch {
		case errors.Is(err, guard.ErrRejected), errors.Is(err, guard.ErrNoResult):
			sw.WriteFrame(stream.Text("I couldn't retrieve that. Try rephrasing the question."))
			sw.WriteFrame(stream.Done())
			return "no_result"
		case errors.Is(err, oracle.ErrUnavailable):
			return h.oracleUnavailable(sw, req.RequestID)
		default:
			slog.Error("query resolution failed", "error", err)
			sw.WriteFrame(stream.Error("Something went wrong answering that."))
			return "error"
		}
	}

	if len(out.Rows) == 0 {
		sw.WriteFrame(stream.Text("I didn't find any matching data for that."))
		sw.WriteFrame(stream.Done())
		return "empty"
	}

	prompt := fmt.Sprintf("Question: %s\n\nQuery results:\n%s", req.Question, renderRows(out, 50))
	return h.streamAnswer(ctx, sw, req, tc, answerInstruction, prompt)
}

func (h *Handler) handleArithmetic(ctx context.Context, sw *stream.Writer, req types.ChatRequest, tc *tenant.Context) string {
	result, err := calc.Evaluate(extractExpression(req.Question))
	if err != nil {
		// Typed rejection, not a crash: explain conversationally instead.
		slog.Debug("arithmetic rejected, falling back", "error", err)
		return h.handleConversation(ctx, sw, req, tc)
	}

	answer := formatNumber(result)
	if err := sw.WriteFrame(stream.Text(answer)); err != nil {
		return "client_gone"
	}
	sw.WriteFrame(stream.Done())

	history.AppendAsync(h.recorder, history.Message{
		SessionID: req.SessionID,
		TenantID:  tc.TenantID,
		Role:      types.RoleAssistant,
		Text:      answer,
	})
	return "ok"
}

func (h *Handler) handleConversation(ctx context.Context, sw *stream.Writer, req types.ChatRequest, tc *tenant.Context) string {
	return h.streamAnswer(ctx, sw, req, tc, conversationInstruction, req.Question)
}

// streamAnswer runs one oracle completion through the fence extractor so
// prose streams token-by-token while an embedded chart block is emitted
// as a single frame.
func (h *Handler) streamAnswer(ctx context.Context, sw *stream.Writer, req types.ChatRequest, tc *tenant.Context, system, finalUserText string) string {
	turns := oracle.TurnsWithQuestion(types.TailTurns(req.RecentTurns, 3, 280), finalUserText)
	ex := stream.NewExtractor(sw)

	err := h.oracle.StreamCompletion(ctx, oracle.Request{System: system, Turns: turns}, ex.Write)
	if h.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		h.metrics.RecordOracleCall("answer", status)
	}
	if err != nil {
		if errors.Is(err, oracle.ErrUnavailable) {
			return h.oracleUnavailable(sw, req.RequestID)
		}
		// Frame delivery failed: the caller disconnected, stop issuing calls.
		slog.Debug("stream aborted", "error", err)
		return "client_gone"
	}
	ex.Close()
	sw.WriteFrame(stream.Done())

	history.AppendAsync(h.recorder, history.Message{
		SessionID: req.SessionID,
		TenantID:  tc.TenantID,
		Role:      types.RoleAssistant,
		Text:      ex.Text(),
		Chart:     ex.Chart(),
	})
	return "ok"
}

// oracleUnavailable degrades to a plain 503 when nothing has been
// streamed yet; a committed stream gets an error frame instead.
func (h *Handler) oracleUnavailable(sw *stream.Writer, reqID string) string {
	const msg = "The assistant is temporarily unavailable. Please try again shortly."
	if !sw.Started() {
		httputil.WriteServiceUnavailableError(sw.ResponseWriter(), reqID, msg)
	} else {
		sw.WriteFrame(stream.Error(msg))
	}
	return "oracle_unavailable"
}

var (
	periodPattern         = regexp.MustCompile(`\b(20\d{2})-(0?[1-9]|1[0-2])\b`)
	monthlySummaryPattern = regexp.MustCompile(`(?i)\b(this month|month going|monthly summary|monthly pace|how('s| is) (the )?month)\b`)
	expressionLeadPattern = regexp.MustCompile(`(?i)^\s*(what\s+is|what's|calculate|compute|evaluate|how much is)\b`)
)

func looksLikeMonthlySummary(q string) bool {
	return monthlySummaryPattern.MatchString(q)
}

// parsePeriod extracts an explicit "YYYY-MM" hint, defaulting to the
// current month.
func parsePeriod(q string, now time.Time) (int, int) {
	if m := periodPattern.FindStringSubmatch(q); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		return year, month
	}
	return now.Year(), int(now.Month())
}

// extractExpression strips conversational lead-ins so that "what is
// 2+2*2?" reaches the evaluator as "2+2*2".
func extractExpression(q string) string {
	q = expressionLeadPattern.ReplaceAllString(q, "")
	q = strings.TrimSpace(q)
	q = strings.TrimSuffix(q, "?")
	q = strings.TrimSuffix(q, "=")
	return strings.TrimSpace(q)
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', 10, 64)
}
