package httpapi

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	app "github.com/carbonledger/platform/internal/app"
	"github.com/carbonledger/platform/internal/app/metrics"
	"github.com/carbonledger/platform/internal/app/system"
	"github.com/carbonledger/platform/pkg/logger"
)

// Service exposes the HTTP API and fits into the system manager lifecycle.
type Service struct {
	addr    string
	server  *http.Server
	handler http.Handler
	log     *logger.Logger

	mu    sync.RWMutex
	bound string
}

func NewService(application *app.Application, addr string, tokens []string, authMgr authManager, log *logger.Logger, db *sql.DB) *Service {
	if log == nil {
		log = logger.NewDefault("http")
	}
	var auditSink auditSink
	if path := strings.TrimSpace(os.Getenv("AUDIT_LOG_PATH")); path != "" {
		if sink, err := newFileAuditSink(path); err == nil {
			auditSink = sink
			log.Infof("audit log persisting to %s", path)
		} else {
			log.Warnf("audit log file not configured: %v", err)
		}
	} else if db != nil {
		auditSink = newPostgresAuditSink(db)
	}
	audit := newAuditLog(300, auditSink)
	handler := NewHandler(application, authMgr, audit)
	// Order matters: auth should see real requests, CORS should short-circuit
	// preflight OPTIONS before auth, metrics wraps the final handler.
	handler = wrapWithAuth(handler, tokens, log, authMgr)
	handler = wrapWithAudit(handler, audit)
	handler = wrapWithCORS(handler)
	handler = metrics.InstrumentHandler(handler)
	return &Service{
		addr:    addr,
		handler: handler,
		log:     log,
	}
}

var _ system.Service = (*Service)(nil)

func (s *Service) Name() string { return "http" }

func (s *Service) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.bound = listener.Addr().String()
	s.mu.Unlock()

	s.server = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the address the server actually bound to, resolved once
// Start has run (useful when addr was given as "host:0").
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound
}

// wrapWithCORS allows cross-origin requests from any origin ("*") and
// short-circuits preflight requests.
func wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
