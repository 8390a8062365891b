package observability

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ctxKeyLog struct{}
type ctxKeyRequestID struct{}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(level, format string) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stdout
	log.Level = logrus.InfoLevel
	if lvl, err := logrus.ParseLevel(strings.TrimSpace(level)); err == nil {
		log.Level = lvl
	}
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	} else {
		log.Formatter = &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
			TimestampFormat: time.RFC3339Nano,
		}
	}
	return log
}

func WithLogger(ctx context.Context, log logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKeyLog{}, log)
}

// LoggerFromContext returns the request-scoped logger, or the standard logrus
// logger when none was attached.
func LoggerFromContext(ctx context.Context) logrus.FieldLogger {
	if log, ok := ContextLogger(ctx); ok {
		return log
	}
	return logrus.StandardLogger()
}

func ContextLogger(ctx context.Context) (logrus.FieldLogger, bool) {
	if ctx == nil {
		return nil, false
	}
	log, ok := ctx.Value(ctxKeyLog{}).(logrus.FieldLogger)
	return log, ok && log != nil
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	b      int
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.b += n
	return n, err
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Hijack keeps websocket upgrades working behind the logging middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// RequestLogger attaches a request id and a logger carrying it to every
// request, and logs one line when the request completes.
func RequestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if requestID == "" {
				requestID = uuid.NewString()
			}
			rr := &responseRecorder{ResponseWriter: w}
			rlog := log.WithFields(logrus.Fields{
				"http.req.path":   r.URL.Path,
				"http.req.method": r.Method,
				"http.req.id":     requestID,
			})
			ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, requestID)
			ctx = WithLogger(ctx, rlog)
			w.Header().Set("X-Request-ID", requestID)

			defer func() {
				rlog.WithFields(logrus.Fields{
					"http.resp.took_ms": int64(time.Since(start) / time.Millisecond),
					"http.resp.status":  rr.status,
					"http.resp.bytes":   rr.b,
				}).Debug("request complete")
			}()
			next.ServeHTTP(rr, r.WithContext(ctx))
		})
	}
}
