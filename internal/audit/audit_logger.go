package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/usdtpay/settlement/internal/models"
)

const (
	ActorUser   = "user"
	ActorAdmin  = "admin"
	ActorSystem = "system"
)

const masked = "***"

var sensitiveKeys = map[string]bool{
	"password":       true,
	"token":          true,
	"secret":         true,
	"private_key":    true,
	"aadhaar_number": true,
	"pan_number":     true,
	"account_number": true,
}

// Logger appends audit entries to audit_logs and mirrors them to the log.
// A failed insert is logged and never fails the caller.
type Logger struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewLogger(db *sql.DB, logger zerolog.Logger) *Logger {
	return &Logger{db: db, logger: logger}
}

func (a *Logger) Log(ctx context.Context, entry models.AuditEntry) {
	if a == nil {
		return
	}
	meta := Mask(entry.Metadata)
	data, err := json.Marshal(meta)
	if err != nil {
		data = []byte("{}")
	}

	a.logger.Info().
		Str("actor_type", entry.ActorType).
		Str("actor_id", entry.ActorID).
		Str("action", entry.Action).
		Str("reference_id", entry.ReferenceID).
		RawJSON("metadata", data).
		Msg("AUDIT")

	if a.db == nil {
		return
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO audit_logs (actor_type, actor_id, action, reference_id, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ActorType, entry.ActorID, entry.Action, entry.ReferenceID, string(data),
	)
	if err != nil {
		a.logger.Error().Err(err).Str("action", entry.Action).Msg("failed to persist audit entry")
	}
}

func (a *Logger) System(ctx context.Context, action, referenceID string, metadata map[string]any) {
	a.Log(ctx, models.AuditEntry{
		ActorType:   ActorSystem,
		ActorID:     "system",
		Action:      action,
		ReferenceID: referenceID,
		Metadata:    metadata,
	})
}

// Mask returns a copy with sensitive values replaced, recursing into nested maps.
func Mask(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if sensitiveKeys[strings.ToLower(k)] {
			out[k] = masked
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Mask(nested)
			continue
		}
		out[k] = v
	}
	return out
}
