package api

import (
	"time"

	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/query"
)

// QueryRequest is the JSON body for POST /query.
type QueryRequest struct {
	Input string `json:"input"`
	// Wait blocks the response until the query finished or WaitTimeout passed.
	Wait bool `json:"wait,omitempty"`
}

// QueryResponse describes the execution a query started.
type QueryResponse struct {
	ExecutionID string `json:"execution_id"`
	Input       string `json:"input"`
	State       string `json:"state"`
}

// ResultsResponse is returned by GET /results and POST /results/more.
type ResultsResponse struct {
	ExecutionID   string      `json:"execution_id"`
	Input         string      `json:"input"`
	State         string      `json:"state"`
	RowCount      int         `json:"row_count"`
	CanFetchMore  bool        `json:"can_fetch_more"`
	Rows          []query.Row `json:"rows"`
	FallbackLabel string      `json:"fallback_label,omitempty"`
}

// ActivateResponse is returned by the activation endpoints.
type ActivateResponse struct {
	ExecutionID string `json:"execution_id"`
	Activated   bool   `json:"activated"`
}

// PluginsResponse is returned by GET /plugins.
type PluginsResponse struct {
	Plugins []extension.PluginInfo `json:"plugins"`
}

// SortRequest is the JSON body for PUT /settings/incremental-sort.
type SortRequest struct {
	Enabled bool `json:"enabled"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Extensions    int    `json:"extensions"`
	QueryHandlers int    `json:"query_handlers"`
	SessionActive bool   `json:"session_active"`
}

type resultsQuery struct {
	offset int
	limit  int
}

const defaultWaitTimeout = 5 * time.Second
