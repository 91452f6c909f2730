package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// UsageEvent is one audit record of a single tool invocation. Events are
// append-only: they are inserted once and later bulk-deleted by retention
// cleanup, never updated.
type UsageEvent struct {
	ID             string    `json:"id" db:"id"`
	TokenID        string    `json:"token_id" db:"token_id"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
	ToolName       string    `json:"tool_name" db:"tool_name"`
	Success        bool      `json:"success" db:"success"`
	IPAddress      string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent      string    `json:"user_agent,omitempty" db:"user_agent"`
	ResponseTimeMs int64     `json:"response_time_ms" db:"response_time_ms"`
	ErrorMessage   string    `json:"error_message,omitempty" db:"error_message"`
}

// ToolCount is one entry of a per-tool usage breakdown.
type ToolCount struct {
	ToolName string `json:"tool_name" db:"tool_name"`
	Count    int64  `json:"count" db:"count"`
}

// UsageStats aggregates a token's usage events over a trailing window.
type UsageStats struct {
	TokenID         string      `json:"token_id"`
	PeriodHours     int         `json:"period_hours"`
	TotalRequests   int64       `json:"total_requests"`
	SuccessRequests int64       `json:"successful_requests"`
	ErrorRate       float64     `json:"error_rate"`
	AvgResponseMs   float64     `json:"avg_response_time_ms"`
	ToolBreakdown   []ToolCount `json:"tools_usage"`
}

// TokenActivity pairs a token with its request count, used for the
// most-active ranking in system analytics.
type TokenActivity struct {
	TokenID  string `json:"token_id" db:"token_id"`
	Name     string `json:"name" db:"name"`
	Requests int64  `json:"requests" db:"requests"`
}

// Analytics is the system-wide usage summary across all tokens.
type Analytics struct {
	PeriodHours   int             `json:"period_hours"`
	TotalTokens   int64           `json:"total_tokens"`
	ActiveTokens  int64           `json:"active_tokens"`
	TotalRequests int64           `json:"total_requests"`
	ErrorRate     float64         `json:"error_rate"`
	MostActive    []TokenActivity `json:"most_active_tokens"`
}

// StringList is a []string persisted as a JSON array in a single TEXT
// column. A nil list round-trips as SQL NULL, which the token model uses
// to mean "unrestricted".
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("scan string list: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("scan string list: %w", err)
	}
	*l = out
	return nil
}
