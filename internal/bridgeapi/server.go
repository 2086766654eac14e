// Package bridgeapi exposes the lighting core to the external protocol
// stack over local HTTP/JSON. Every request runs on the work queue.
package bridgeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/copperlight/internal/attr"
	"github.com/dokzlo13/copperlight/internal/device"
	"github.com/dokzlo13/copperlight/internal/errcode"
	"github.com/dokzlo13/copperlight/internal/ledger"
	"github.com/dokzlo13/copperlight/internal/workq"
)

// RequestIDHeader carries the correlation id of a bridge request.
const RequestIDHeader = "X-Request-ID"

// Device is the part of the controller the bridge drives.
type Device interface {
	SetLevel(level uint16) error
	SetOnOff(on bool)
	StartIdentify(effectID uint8)
	SetJoined(joined bool)
	WriteAttribute(id attr.ID, value uint16) error
	Snapshot() device.State
}

// Options tunes the server.
type Options struct {
	RateLimit      rate.Limit
	Burst          int
	RequestTimeout time.Duration
	Ledger         *ledger.Ledger // optional, enables GET /events
}

// Server is the bridge adapter.
type Server struct {
	addr       string
	q          *workq.Queue
	dev        Device
	limiter    *rate.Limiter
	timeout    time.Duration
	ledger     *ledger.Ledger
	httpServer *http.Server
}

// NewServer creates a bridge adapter listening on host:port.
func NewServer(host string, port int, q *workq.Queue, dev Device, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Inf
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	return &Server{
		addr:    fmt.Sprintf("%s:%d", host, port),
		q:       q,
		dev:     dev,
		limiter: rate.NewLimiter(opts.RateLimit, opts.Burst),
		timeout: opts.RequestTimeout,
		ledger:  opts.Ledger,
	}
}

// Handler returns the HTTP handler with request ids and rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /level", s.handleLevel)
	mux.HandleFunc("POST /on_off", s.handleOnOff)
	mux.HandleFunc("POST /identify", s.handleIdentify)
	mux.HandleFunc("POST /network", s.handleNetwork)
	mux.HandleFunc("POST /attributes", s.handleAttribute)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	return s.withRequestID(s.withRateLimit(mux))
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting bridge adapter")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Bridge adapter shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type ctxKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		log.Debug().Str("request_id", id).Str("method", r.Method).Str("path", r.URL.Path).Msg("Bridge request")
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" && !s.limiter.Allow() {
			writeError(w, r, http.StatusTooManyRequests, errcode.Busy, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type levelRequest struct {
	Level *int `json:"level"`
}

type onOffRequest struct {
	On *bool `json:"on"`
}

type identifyRequest struct {
	EffectID *int `json:"effect_id"`
}

type networkRequest struct {
	Joined *bool `json:"joined"`
}

type attributeRequest struct {
	ID    string `json:"id"`
	Value *int   `json:"value"`
}

func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	var req levelRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Level == nil || *req.Level < 0 || *req.Level > 0xffff {
		writeError(w, r, http.StatusBadRequest, errcode.InvalidAttribute, "level must be 0-65535")
		return
	}
	level := uint16(*req.Level)
	s.exec(w, r, func() error { return s.dev.SetLevel(level) })
}

func (s *Server) handleOnOff(w http.ResponseWriter, r *http.Request) {
	var req onOffRequest
	if !decode(w, r, &req) {
		return
	}
	if req.On == nil {
		writeError(w, r, http.StatusBadRequest, errcode.InvalidAttribute, "on is required")
		return
	}
	on := *req.On
	s.exec(w, r, func() error {
		s.dev.SetOnOff(on)
		return nil
	})
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.EffectID == nil || *req.EffectID < 0 || *req.EffectID > 0xff {
		writeError(w, r, http.StatusBadRequest, errcode.InvalidAttribute, "effect_id must be 0-255")
		return
	}
	id := uint8(*req.EffectID)
	s.exec(w, r, func() error {
		s.dev.StartIdentify(id)
		return nil
	})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Joined == nil {
		writeError(w, r, http.StatusBadRequest, errcode.InvalidAttribute, "joined is required")
		return
	}
	joined := *req.Joined
	s.exec(w, r, func() error {
		s.dev.SetJoined(joined)
		return nil
	})
}

func (s *Server) handleAttribute(w http.ResponseWriter, r *http.Request) {
	var req attributeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Value == nil || *req.Value < 0 || *req.Value > 0xffff {
		writeError(w, r, http.StatusBadRequest, errcode.InvalidAttribute, "id and a value 0-65535 are required")
		return
	}
	id, value := attr.ID(req.ID), uint16(*req.Value)
	s.exec(w, r, func() error { return s.dev.WriteAttribute(id, value) })
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	var st device.State
	err := s.run(r.Context(), func() error {
		st = s.dev.Snapshot()
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, r, http.StatusNotImplemented, errcode.NotImplemented, "event ledger disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, r, http.StatusBadRequest, errcode.InvalidAttribute, "limit must be 1-1000")
			return
		}
		limit = n
	}

	var (
		entries []*ledger.Entry
		err     error
	)
	if t := r.URL.Query().Get("type"); t != "" {
		entries, err = s.ledger.GetByType(t, limit)
	} else {
		entries, err = s.ledger.Recent(limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to read ledger")
		writeError(w, r, http.StatusInternalServerError, errcode.PersistenceFailure, "failed to read ledger")
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// exec runs fn on the work queue and writes the status response.
func (s *Server) exec(w http.ResponseWriter, r *http.Request, fn func() error) {
	if err := s.run(r.Context(), fn); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     string(errcode.OK),
		"request_id": requestID(r.Context()),
	})
}

func (s *Server) run(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.q.DoSync(ctx, fn)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workq.ErrClosed):
		writeError(w, r, http.StatusServiceUnavailable, errcode.Busy, "device shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, r, http.StatusServiceUnavailable, errcode.Busy, "device busy")
	default:
		code := errcode.Of(err)
		status := http.StatusInternalServerError
		switch code {
		case errcode.InvalidAttribute:
			status = http.StatusBadRequest
		case errcode.NotImplemented:
			status = http.StatusNotImplemented
		}
		writeError(w, r, status, code, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, errcode.InvalidAttribute, "malformed request: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code errcode.Code, msg string) {
	log.Warn().
		Str("request_id", requestID(r.Context())).
		Str("path", r.URL.Path).
		Str("code", string(code)).
		Msg(msg)
	writeJSON(w, status, map[string]string{
		"error":      string(code),
		"message":    msg,
		"request_id": requestID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
