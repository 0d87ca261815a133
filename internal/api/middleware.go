package api

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gwi.com/messaging-loadtest/internal/chaos"
	"gwi.com/messaging-loadtest/internal/metrics"
)

const (
	HeaderResponseTime = "X-Response-Time"
	HeaderServerID     = "X-Server-Id"
	HeaderRequestID    = "X-Request-Id"

	chaosFaultMessage = "Chaos monkey strike!"
)

// exchange tracks one request: when it started, the status sent, and whether it
// has been finalized.
type exchange struct {
	start       time.Time
	status      int
	wroteHeader bool
	finished    atomic.Bool
}

// stamp sets X-Response-Time just before the status line goes out. It reports
// false when headers were already sent.
func (ex *exchange) stamp(w http.ResponseWriter, code int) bool {
	if ex.wroteHeader {
		return false
	}
	ex.wroteHeader = true
	ex.status = code
	w.Header().Set(HeaderResponseTime, fmt.Sprintf("%.2fms", elapsedMs(ex.start)))
	return true
}

// wrap hooks every path that can flush headers. Optional interfaces of w
// (Flusher, Hijacker, ReaderFrom) are preserved by httpsnoop.
func (ex *exchange) wrap(w http.ResponseWriter) http.ResponseWriter {
	return httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				if ex.stamp(w, code) {
					next(code)
				}
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				ex.stamp(w, http.StatusOK)
				return next(b)
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				ex.stamp(w, http.StatusOK)
				return next(src)
			}
		},
		Flush: func(next httpsnoop.FlushFunc) httpsnoop.FlushFunc {
			return func() {
				ex.stamp(w, http.StatusOK)
				next()
			}
		},
	})
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Instrumentation must be the outermost middleware: it counts the request, stamps
// the identity headers and finalizes exactly once however the response was produced.
type Instrumentation struct {
	recorder *metrics.Recorder
	logger   *zap.Logger
	serverID string
}

func NewInstrumentation(recorder *metrics.Recorder, logger *zap.Logger, serverID string) *Instrumentation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumentation{recorder: recorder, logger: logger, serverID: serverID}
}

func (in *Instrumentation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ex := &exchange{start: time.Now(), status: http.StatusOK}
		in.recorder.RecordRequestStart()

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderServerID, in.serverID)
		w.Header().Set(HeaderRequestID, requestID)

		defer in.finish(ex, r, requestID)
		next.ServeHTTP(ex.wrap(w), r)

		// Handlers that never write still get a status line carrying the timing header.
		if ex.stamp(w, http.StatusOK) {
			w.WriteHeader(http.StatusOK)
		}
	})
}

func (in *Instrumentation) finish(ex *exchange, r *http.Request, requestID string) {
	if !ex.finished.CompareAndSwap(false, true) {
		return
	}
	duration := elapsedMs(ex.start)
	if err := in.recorder.RecordRequestEnd(duration); err != nil {
		in.logger.Warn("request end without matching start", zap.Error(err))
	}

	in.logger.Info("request completed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", ex.status),
		zap.Float64("duration_ms", round(duration, 2)),
		zap.String("server_id", in.serverID),
		zap.String("request_id", requestID),
	)
}

// Recover turns a handler panic into a JSON 500 and counts it as a fault.
func Recover(recorder *metrics.Recorder, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				recorder.RecordError()
				logger.Error("panic while serving request",
					zap.Any("panic", rvr),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Chaos short-circuits a request with a synthetic 500 when the injector fires.
func Chaos(injector *chaos.Injector, recorder *metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if injector.ShouldFail() {
				recorder.RecordError()
				writeError(w, http.StatusInternalServerError, chaosFaultMessage)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
