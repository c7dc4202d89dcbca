package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	serverShutdownTimeout = 5 * time.Second
	serverReadTimeout     = 10 * time.Second
	serverWriteTimeout    = 10 * time.Second

	// maxConfigBodySize bounds the /config request body.
	maxConfigBodySize = 4 << 10
)

// Server is the setup portal HTTP server. It serves the configuration page
// and the endpoints the mobile app drives during provisioning.
type Server struct {
	manager *Manager
	listen  string
	logger  Logger
	server  *http.Server
}

// NewServer returns a portal server bound to the given manager.
func NewServer(manager *Manager, listen string, logger Logger) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Server{manager: manager, listen: listen, logger: logger}
}

// Start begins listening in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.listen,
		Handler:           s.buildRouter(),
		ReadTimeout:       serverReadTimeout,
		ReadHeaderTimeout: serverReadTimeout,
		WriteTimeout:      serverWriteTimeout,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("setup server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts the portal down.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down setup server: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/", s.handleRoot)
	r.Post("/config", s.handleConfig)
	r.Get("/status", s.handleStatus)
	r.Get("/handshake", s.handleHandshake)
	r.Get("/confirm", s.handleConfirm)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})

	return r
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("portal request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in portal handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeConfigError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// HANDLERS
// ============================================================================

// configRequest is the JSON body shape for /config. The wifi_ssid/wifi_pass
// aliases are accepted for older app versions.
type configRequest struct {
	SSID     string `json:"ssid"`
	WiFiSSID string `json:"wifi_ssid"`
	Password string `json:"password"`
	WiFiPass string `json:"wifi_pass"`
	Token    string `json:"token"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(setupPage))
}

// handleConfig accepts credentials as form fields or a JSON body. Saving the
// credentials marks the session confirmed; the device loop then tears down
// the hotspot and attempts the join.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxConfigBodySize)

	var ssid, password, token string

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var req configRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeConfigError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		ssid = firstOf(req.SSID, req.WiFiSSID)
		password = firstOf(req.Password, req.WiFiPass)
		token = req.Token
	} else {
		if err := r.ParseForm(); err != nil {
			writeConfigError(w, http.StatusBadRequest, "Invalid form body")
			return
		}
		ssid = r.Form.Get("ssid")
		password = r.Form.Get("password")
		token = r.Form.Get("token")
	}

	if ssid == "" {
		writeConfigError(w, http.StatusBadRequest, "SSID is required")
		return
	}
	if token == "" {
		writeConfigError(w, http.StatusBadRequest, "Device token is required")
		return
	}

	if err := s.manager.submit(Credentials{SSID: ssid, Password: password, Token: token}); err != nil {
		s.logger.Error("credential save failed", "error", err)
		writeConfigError(w, http.StatusInternalServerError, "Failed to save credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Configuration saved",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.manager.mu.Lock()
	state := s.manager.state
	apSSID := s.manager.apSSID
	s.manager.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"state":  state.String(),
		"method": "ap",
		"apSSID": apSSID,
		"apIP":   s.manager.ap.APAddress(),
	})
}

// handleHandshake lets the app check the portal is reachable.
func (s *Server) handleHandshake(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleConfirm lets the app poll whether credentials have landed.
func (s *Server) handleConfirm(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"received": s.manager.credentialsReceived()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	json.NewEncoder(w).Encode(v)
}

func writeConfigError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
