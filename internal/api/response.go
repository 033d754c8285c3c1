// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

// Package api provides the HTTP surface: the WebSocket connect
// endpoint, the management API and health/metrics endpoints, routed
// with chi.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/cadencecrm/realtime/internal/logging"
)

// APIResponse is the response wrapper for every JSON endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError carries a machine-readable code plus a human message.
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// APIMeta carries response metadata.
type APIMeta struct {
	Timestamp time.Time `json:"timestamp"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	resp := APIResponse{
		Success: true,
		Data:    data,
		Meta:    &APIMeta{Timestamp: time.Now().UTC()},
	}
	writeResponse(w, status, resp)
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	apiErr := &APIError{Code: code, Message: message}
	if err != nil {
		logging.Error().Err(err).Str("code", code).Msg(message)
		apiErr.Details = err.Error()
	}
	writeResponse(w, status, APIResponse{
		Success: false,
		Error:   apiErr,
		Meta:    &APIMeta{Timestamp: time.Now().UTC()},
	})
}

func writeResponse(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}
