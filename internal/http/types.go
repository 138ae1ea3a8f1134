package http

import (
	"time"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
	"github.com/fyrsmithlabs/agentjj/internal/conflict"
	"github.com/fyrsmithlabs/agentjj/internal/hooks"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status         string    `json:"status"`
	ActiveSessions int       `json:"active_sessions"`
	OpenConflicts  int       `json:"open_conflicts"`
	LogSize        int       `json:"log_size"`
	LogCapacity    int       `json:"log_capacity"`
	Timestamp      time.Time `json:"timestamp"`
}

// OperationsResponse is the response body for GET /api/v1/operations.
type OperationsResponse struct {
	Operations []oplog.Operation `json:"operations"`
	Count      int               `json:"count"`
}

// ConflictsResponse is the response body for GET /api/v1/conflicts.
type ConflictsResponse struct {
	Conflicts []conflict.Conflict `json:"conflicts"`
	Open      int                 `json:"open"`
	Resolved  int                 `json:"resolved"`
}

// SessionsResponse is the response body for GET /api/v1/sessions.
type SessionsResponse struct {
	Sessions []hooks.SessionInfo `json:"sessions"`
	Count    int                 `json:"count"`
}

// ClassifyRequest is the request body for POST /api/v1/classify.
type ClassifyRequest struct {
	Command string `json:"command"`
}

// ClassifyResponse is the response body for POST /api/v1/classify.
type ClassifyResponse struct {
	Command        string                  `json:"command"`
	Classification classify.Classification `json:"classification"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findings_count"`
}
