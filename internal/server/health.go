package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type healthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Blobs      int64  `json:"blobs"`
	BlobBytes  int64  `json:"blob_bytes"`
	Namespaces int    `json:"namespaces"`
	Throttled  int64  `json:"throttled,omitempty"`
}

type readyResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// healthHandler always answers ok; fill adds the store counters.
func healthHandler(startTime time.Time, fill func(*healthResponse)) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{
			Status: "ok",
			Uptime: formatDuration(time.Since(startTime)),
		}
		if fill != nil {
			fill(&resp)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// readyHandler reports ready while the catalog answers check.
func readyHandler(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := check(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(readyResponse{
				Status: "not ready",
				Error:  err.Error(),
			})
			return
		}

		json.NewEncoder(w).Encode(readyResponse{Status: "ready"})
	}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd%dh%dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
