package main

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/forum-chat/internal/connection"
)

// statusReport is the /health response body.
type statusReport struct {
	Status       string `json:"status"`
	State        string `json:"state"`
	Attempt      int    `json:"attempt"`
	Messages     int    `json:"messages"`
	Pending      int    `json:"pending"`
	Sent         int64  `json:"sent"`
	Malformed    int64  `json:"malformed"`
	Handshakes   int64  `json:"handshakes"`
	LastError    string `json:"last_error,omitempty"`
	HistoryError string `json:"history_error,omitempty"`
}

// newStatusHandler creates the HTTP handler for connection status.
func newStatusHandler(mgr connection.Manager) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snap := mgr.Snapshot()

		report := statusReport{
			Status:     snap.Status(),
			State:      snap.State.String(),
			Attempt:    snap.Attempt,
			Messages:   snap.Messages,
			Pending:    snap.Pending,
			Sent:       snap.Sent,
			Malformed:  snap.Malformed,
			Handshakes: snap.Handshakes,
		}
		if snap.LastError != nil {
			report.LastError = snap.LastError.Error()
		}
		if snap.HistoryError != nil {
			report.HistoryError = snap.HistoryError.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		if snap.State != connection.StateOpen {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	})

	return mux
}
