/*
NAME
  control.go - HTTP control plane for privacy override and input selection.

DESCRIPTION
  revid exposes its control surface as netsender variables polled into
  Config.Update (revid/config/config.go); spec.md §6 instead calls for a
  small synchronous HTTP API, so this package swaps the polling model for a
  go-chi/chi/v5 router, the same router jmylchreest-tvarr wires for its own
  control endpoints, while keeping the teacher's "GET returns current state,
  POST changes it" shape.

LICENSE
  See repository LICENSE.
*/

// Package control serves the switching engine's HTTP control plane: privacy
// override, manual input selection, and a health check.
package control

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Engine is the subset of engine behaviour the control plane drives.
type Engine interface {
	SetPrivacy(asserted bool)
	PrivacyAsserted() bool
	SetManualInput(source string) error
	ManualInput() string
	Healthy() bool
}

// Server is the HTTP control plane.
type Server struct {
	router *chi.Mux
	engine Engine
}

// New returns a Server wired to engine.
func New(engine Engine) *Server {
	s := &Server{router: chi.NewRouter(), engine: engine}
	s.router.Get("/privacy", s.getPrivacy)
	s.router.Post("/privacy", s.postPrivacy)
	s.router.Get("/input", s.getInput)
	s.router.Post("/input", s.postInput)
	s.router.Get("/health", s.getHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

type privacyBody struct {
	Asserted bool `json:"asserted"`
}

func (s *Server) getPrivacy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, privacyBody{Asserted: s.engine.PrivacyAsserted()})
}

func (s *Server) postPrivacy(w http.ResponseWriter, r *http.Request) {
	var body privacyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.engine.SetPrivacy(body.Asserted)
	writeJSON(w, http.StatusOK, body)
}

type inputBody struct {
	Source string `json:"source"`
}

func (s *Server) getInput(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, inputBody{Source: s.engine.ManualInput()})
}

func (s *Server) postInput(w http.ResponseWriter, r *http.Request) {
	var body inputBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.engine.SetManualInput(body.Source); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Healthy() {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
