package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Level names written in the level field.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelFatal = "FATAL"
)

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError+4:
		return LevelFatal
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// outcomes lists the accepted values of the outcome field; others are dropped.
var outcomes = map[string]bool{
	"ok":           true,
	"fail":         true,
	"cancelled":    true,
	"rate_limited": true,
}

// defaultKeyOrder puts the fields people grep for first; the rest follow sorted.
var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"chat_type",
	"handler",
	"cb_key",
	"intent",
	"outcome",
	"duration_ms",
	"elapsed_ms",
	"app_user_id",
	"request_id",
	"alert_id",
	"media_type",
	"media_id",
	"kind",
	"count",
	"pending_count",
	"date",
	"lock_key",
	"method",
	"path",
	"http_status",
	"attempt",
	"attempts",
	"mode",
	"listen",
	"public_url",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"cause",
}

// fields is one log line before encoding.
type fields map[string]any

func (f fields) str(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (f fields) setDefault(key string, val any) {
	if _, ok := f[key]; !ok {
		f[key] = val
	}
}

// fromContext copies update identifiers that the call site did not set itself.
func (f fields) fromContext(ctx context.Context) {
	m := metaFrom(ctx)
	if m.rid != "" {
		f.setDefault("rid", m.rid)
	}
	if m.updateID != 0 {
		f.setDefault("update_id", m.updateID)
	}
	if m.userID != 0 {
		f.setDefault("user_id", m.userID)
	}
	if m.chatID != 0 {
		f.setDefault("chat_id", m.chatID)
	}
	if m.handler != "" {
		f.setDefault("handler", m.handler)
	}
}

// tidy lowercases enumerations and removes empty values.
func (f fields) tidy() {
	if s := f.str("status"); s != "" {
		f["status"] = strings.ToLower(strings.TrimSpace(s))
	}
	if o := strings.ToLower(strings.TrimSpace(f.str("outcome"))); outcomes[o] {
		f["outcome"] = o
	} else {
		delete(f, "outcome")
	}
	for k, v := range f {
		switch x := v.(type) {
		case nil:
			delete(f, k)
		case string:
			if x == "" {
				delete(f, k)
			}
		case fmt.Stringer:
			if x.String() == "" {
				delete(f, k)
			}
		}
	}
}
