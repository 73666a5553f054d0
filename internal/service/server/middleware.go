package server

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-ID"

// statusRecorder remembers the status written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// LoggingMiddleware tags every request with an id, logs it once it is served
// and turns handler panics into 500 responses
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					logger.Error("handler panicked",
						zap.String("request_id", id),
						zap.String("path", r.URL.Path),
						zap.Any("panic", p),
						zap.Stack("stack"))
					rec.status = http.StatusInternalServerError
					http.Error(rec, "Internal server error", http.StatusInternalServerError)
				}

				level := zapcore.DebugLevel
				if rec.status >= http.StatusInternalServerError {
					level = zapcore.WarnLevel
				}
				logger.Check(level, "HTTP request").Write(
					zap.String("request_id", id),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Int("status", rec.status),
					zap.Duration("duration", time.Since(start)))
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// BasicAuthMiddleware guards a handler with HTTP basic auth
func BasicAuthMiddleware(username, password string, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	challenge := func(w http.ResponseWriter, msg string) {
		w.Header().Set("WWW-Authenticate", `Basic realm="filesync"`)
		http.Error(w, msg, http.StatusUnauthorized)
	}

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				challenge(w, "Authentication required")
				return
			}

			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
			if !userOK || !passOK {
				logger.Warn("rejected admin credentials",
					zap.String("username", user),
					zap.String("remote_addr", r.RemoteAddr))
				challenge(w, "Invalid credentials")
				return
			}

			next(w, r)
		}
	}
}
