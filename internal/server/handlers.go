package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crimson-sun/doccat/internal/engine"
	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/model"
	"github.com/crimson-sun/doccat/internal/store"
)

const (
	unknownCategory = "UNKNOWN"
	maxBodyBytes    = 1 << 20
	maxModelBytes   = 256 << 20
)

// TrainResponse is the body of GET /train-model.
type TrainResponse struct {
	Model         string   `json:"model"`
	ModelID       string   `json:"model_id"`
	Labels        []string `json:"labels"`
	Features      int      `json:"features"`
	Iterations    int      `json:"iterations"`
	LogLikelihood float64  `json:"log_likelihood"`
	Converged     bool     `json:"converged"`
	DurationMS    int64    `json:"duration_ms"`
}

// ClassifyRequest is the body of POST /v1/classify.
type ClassifyRequest struct {
	Text string `json:"text"`
}

// ListResponse is the body of GET /v1/models.
type ListResponse struct {
	Models []string `json:"models"`
}

// APIError is the body of every JSON error response.
type APIError struct {
	Error string `json:"error"`
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /train-model", s.handleTrain)
	s.mux.HandleFunc("GET /commodity-category", s.handleCommodityCategory)
	s.mux.HandleFunc("POST /v1/classify", s.handleClassify)
	s.mux.HandleFunc("GET /v1/models", s.handleListModels)
	s.mux.HandleFunc("GET /v1/models/{name}", s.handleGetModel)
	s.mux.HandleFunc("PUT /v1/models/{name}", s.requireToken(s.handlePutModel))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// handleTrain retrains from the corpus and persists the model. Only one
// training runs at a time.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if !s.training.TryLock() {
		jsonError(w, "training already in progress", http.StatusConflict)
		return
	}
	defer s.training.Unlock()

	start := time.Now()
	e, err := s.train(r.Context())
	if e == nil && err == nil {
		err = errors.New("trainer returned no model")
	}
	if e == nil {
		s.log.Error("training failed", "error", err)
		code := http.StatusInternalServerError
		if errors.Is(err, maxent.ErrInsufficientData) {
			code = http.StatusUnprocessableEntity
		}
		jsonError(w, err.Error(), code)
		return
	}
	if err != nil && !errors.Is(err, maxent.ErrConvergence) {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m := e.Model()
	if err := s.store.Save(r.Context(), s.cfg.ModelName, m); err != nil {
		s.log.Error("saving model failed", "model", s.cfg.ModelName, "error", err)
		jsonError(w, "save model: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.current.Store(e)

	meta := m.Metadata()
	writeJSON(w, http.StatusOK, TrainResponse{
		Model:         s.cfg.ModelName,
		ModelID:       meta.ID,
		Labels:        m.Labels().Names(),
		Features:      m.Features().Len(),
		Iterations:    meta.Iterations,
		LogLikelihood: meta.LogLikelihood,
		Converged:     meta.Converged,
		DurationMS:    time.Since(start).Milliseconds(),
	})
}

// handleCommodityCategory answers "<desc> [ <category>]" as plain text. The
// category is UNKNOWN when no model is available or classification fails.
func (s *Server) handleCommodityCategory(w http.ResponseWriter, r *http.Request) {
	desc, ok := r.URL.Query()["shipmentDesc"]
	if !ok {
		http.Error(w, "missing required parameter shipmentDesc", http.StatusBadRequest)
		return
	}
	text := desc[0]

	category := unknownCategory
	if p, err := s.classify(r.Context(), text); err != nil {
		s.log.Warn("commodity category failed", "error", err)
	} else if p != nil {
		category = p.Label
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, text+" [ "+category+"]")
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	p, err := s.classify(r.Context(), req.Text)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if p == nil {
		jsonError(w, "no trained model; call /train-model first", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// classify returns nil without error when no model exists yet.
func (s *Server) classify(ctx context.Context, text string) (*model.Prediction, error) {
	e, err := s.Engine(ctx)
	if err != nil || e == nil {
		return nil, err
	}
	p, err := e.Process(text)
	if err != nil {
		return nil, err
	}
	if s.out != nil {
		if err := s.out.Write(ctx, p); err != nil {
			s.log.Warn("prediction output failed", "error", err)
		}
	}
	return &p, nil
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List(r.Context())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Models: names})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := store.ValidateName(name); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := s.store.Load(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := m.MarshalBinary()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// handlePutModel stores an uploaded model. Uploading the served model name
// also replaces the serving engine.
func (s *Server) handlePutModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := store.ValidateName(name); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxModelBytes))
	if err != nil {
		jsonError(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	m, err := maxent.Unmarshal(data)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var e *engine.Engine
	if name == s.cfg.ModelName {
		if e, err = engine.FromModel(m, s.supplied...); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := s.store.Save(r.Context(), name, m); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if e != nil {
		s.current.Store(e)
		s.log.Info("serving uploaded model", "model", name, "model_id", m.Metadata().ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "model": s.cfg.ModelName}
	if e := s.current.Load(); e != nil {
		resp["model_id"] = e.Model().Metadata().ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// requireToken guards next with the configured bearer token. Without a
// token the route is disabled.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Token == "" {
		return func(w http.ResponseWriter, r *http.Request) {
			jsonError(w, "model uploads disabled: no server token configured", http.StatusForbidden)
		}
	}
	want := []byte("Bearer " + s.cfg.Token)
	return func(w http.ResponseWriter, r *http.Request) {
		got := []byte(strings.TrimSpace(r.Header.Get("Authorization")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, APIError{Error: message})
}
