// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/thurstonsan/anypod/internal/version"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Version   string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   "anypod",
		Version:   version.Version,
	})
}
