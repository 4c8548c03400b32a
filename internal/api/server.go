// Package api exposes the flow engine as a REST/JSON surface plus a
// websocket event stream.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fossabot/authrim-sub000/internal/events"
	"github.com/fossabot/authrim-sub000/internal/executor"
)

type Server struct {
	executor   *executor.Executor
	dispatcher *events.Dispatcher
	before     *events.BeforeHookRegistry
	after      *events.AfterHookRegistry
	logger     *log.Logger

	httpServer *http.Server
}

func NewServer(exec *executor.Executor, dispatcher *events.Dispatcher, before *events.BeforeHookRegistry, after *events.AfterHookRegistry) *Server {
	return &Server{
		executor:   exec,
		dispatcher: dispatcher,
		before:     before,
		after:      after,
		logger:     log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-ID")
			if req.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	// Flow lifecycle
	r.HandleFunc("/api/flow/init", s.handleInit).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/flow/submit", s.handleSubmit).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/flow/state/{session_id}", s.handleState).Methods("GET")
	r.HandleFunc("/api/flow/cancel", s.handleCancel).Methods("POST", "OPTIONS")

	// Introspection
	r.HandleFunc("/api/hooks", s.handleListHooks).Methods("GET")
	r.HandleFunc("/api/events/stats", s.handleEventStats).Methods("GET")
	r.HandleFunc("/api/events/stream", s.handleEventStream).Methods("GET")

	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

func (s *Server) Start(port string) error {
	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	s.logger.Printf("Flow engine listening on :%s", port)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
