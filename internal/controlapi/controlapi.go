// Package controlapi is the HTTP control plane: a thin JSON adapter
// over core.Node's operations, external to the core per the node's
// operation surface. Not part of the ring's RPC plane.
package controlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ringcmh/internal/core"
	"ringcmh/internal/logger"
)

// Server wraps an *http.Server exposing the control-plane routes.
type Server struct {
	node *core.Node
	lgr  logger.Logger
	http *http.Server
}

func New(node *core.Node, bind string, lgr logger.Logger) *Server {
	s := &Server{node: node, lgr: lgr.Named("controlapi")}
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/delay", s.setDelay).Methods(http.MethodPost)
	r.HandleFunc("/joinother", s.joinOther).Methods(http.MethodPost)
	r.HandleFunc("/status", s.status).Methods(http.MethodGet)
	r.HandleFunc("/leave", s.leave).Methods(http.MethodPost)
	r.HandleFunc("/kill", s.kill).Methods(http.MethodPost)
	r.HandleFunc("/revive", s.revive).Methods(http.MethodPost)
	r.HandleFunc("/acquire", s.acquire).Methods(http.MethodPost)
	r.HandleFunc("/release", s.release).Methods(http.MethodPost)
	r.HandleFunc("/detection/start", s.startDetection).Methods(http.MethodPost)
	r.HandleFunc("/waitForMessage", s.waitForMessage).Methods(http.MethodPost)
	r.HandleFunc("/setActive", s.setActive).Methods(http.MethodPost)
	r.HandleFunc("/setPassive", s.setPassive).Methods(http.MethodPost)

	s.http = &http.Server{Addr: bind, Handler: r}
	return s
}

// ListenAndServe runs until the server is closed (e.g. via Shutdown).
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type delayConfig struct {
	DelayMs int64 `json:"delay_ms"`
}

func (s *Server) setDelay(w http.ResponseWriter, r *http.Request) {
	var cfg delayConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	s.node.SetDelay(time.Duration(cfg.DelayMs) * time.Millisecond)
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type joinRequest struct {
	Address string `json:"address"`
}

func (s *Server) joinOther(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.node.Join(r.Context(), req.Address); err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) leave(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Leave(r.Context()); err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type killReviveRequest struct {
	NodeID string `json:"node_id,omitempty"`
}

func (s *Server) kill(w http.ResponseWriter, r *http.Request) {
	var req killReviveRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.node.Kill()
	writeJSON(w, http.StatusOK, healthResponse{Status: "killed"})
}

func (s *Server) revive(w http.ResponseWriter, r *http.Request) {
	var req killReviveRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.node.Revive()
	writeJSON(w, http.StatusOK, healthResponse{Status: "revived"})
}

type resourceRequest struct {
	Resource string `json:"resource"`
}

func (s *Server) acquire(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	reply, err := s.node.AcquireResource(r.Context(), req.Resource)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	reply, err := s.node.ReleaseResource(r.Context(), req.Resource)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) startDetection(w http.ResponseWriter, r *http.Request) {
	s.node.StartDetection(r.Context())
	writeJSON(w, http.StatusOK, healthResponse{Status: "started"})
}

type sendMessageRequest struct {
	Address string `json:"address"`
	Message string `json:"message"`
}

// waitForMessage is a diagnostic no-op endpoint kept from the original
// control plane: it exercises the Lamport clock tick without driving
// any protocol state, useful for manually nudging clock divergence
// during testing.
func (s *Server) waitForMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.node.SendTick()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) setActive(w http.ResponseWriter, r *http.Request) {
	s.node.SetActive()
	writeJSON(w, http.StatusOK, healthResponse{Status: "active"})
}

func (s *Server) setPassive(w http.ResponseWriter, r *http.Request) {
	s.node.SetPassive()
	writeJSON(w, http.StatusOK, healthResponse{Status: "passive"})
}
