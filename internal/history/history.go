package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is one persisted conversation entry.
type Message struct {
	SessionID string
	TenantID  string
	Role      string
	Text      string
	Chart     json.RawMessage
}

// Recorder appends conversation messages. Persistence failures are the
// collaborator's problem, never the user's: callers use AppendAsync.
type Recorder interface {
	Append(ctx context.Context, msg Message) error
}

// PGRecorder stores conversation turns in Postgres.
type PGRecorder struct {
	pool *pgxpool.Pool
}

func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

func (r *PGRecorder) Append(ctx context.Context, msg Message) error {
	var chart any
	if len(msg.Chart) > 0 {
		chart = []byte(msg.Chart)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversations (session_id, tenant_id, role, content, chart)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.SessionID, msg.TenantID, msg.Role, msg.Text, chart)
	if err != nil {
		return fmt.Errorf("insert conversation message: %w", err)
	}
	return nil
}

// AppendAsync records a message without blocking the in-flight response.
// Failures are logged and swallowed.
func AppendAsync(rec Recorder, msg Message) {
	if rec == nil || msg.SessionID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rec.Append(ctx, msg); err != nil {
			slog.Error("conversation persistence failed", "error", err, "session_id", msg.SessionID)
		}
	}()
}
