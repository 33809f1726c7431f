package core

import (
	"bufio"
	"bytes"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/eldarion/identeco/internal/lookingglass"
)

// RequestLogger logs HTTP requests with timing information
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Printf(
				"[HTTP] %s %s %d %s %s %s",
				r.Method,
				r.URL.Path,
				ww.Status(),
				time.Since(start),
				r.RemoteAddr,
				middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// SecurityHeaders adds security headers to responses
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// The decide and login pages must not be framed
		w.Header().Set("X-Frame-Options", "DENY")

		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// RateLimiter limits requests per client IP over a sliding window
type RateLimiter struct {
	requests  map[string][]time.Time
	limit     int
	window    time.Duration
	now       func() time.Time
	lastSweep time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow records a request from key and reports whether it is within the limit
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	if now.Sub(rl.lastSweep) >= rl.window {
		rl.sweep(cutoff)
		rl.lastSweep = now
	}
	valid := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

// sweep drops clients with no requests after cutoff
func (rl *RateLimiter) sweep(cutoff time.Time) {
	for key, times := range rl.requests {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(rl.requests, key)
		}
	}
}

// Limit returns middleware that rate limits requests by IP
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Recovery middleware recovers from panics
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				log.Printf("[HTTP] Panic recovered on %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

const (
	captureSessionHeader   = "X-Looking-Glass-Session"
	captureSessionQueryKey = "lg_session"
	captureBodyLimitBytes  = 16 * 1024
)

// captureResponseWriter keeps the status and the first captureBodyLimitBytes of a response
type captureResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
	truncated   bool
}

func (w *captureResponseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureResponseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	if remaining := captureBodyLimitBytes - w.body.Len(); remaining > 0 {
		if n > remaining {
			w.body.Write(p[:remaining])
			w.truncated = true
		} else {
			w.body.Write(p[:n])
		}
	} else if n > 0 {
		w.truncated = true
	}
	return n, err
}

func (w *captureResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *captureResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hijacker.Hijack()
}

func (w *captureResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// CaptureMiddleware records OpenID traffic of requests tagged with a looking
// glass session. Only openid.* arguments are captured; credentials posted to
// the login form never reach the event stream.
func CaptureMiddleware(lg *lookingglass.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := captureSessionID(r)
			if lg == nil || sessionID == "" || strings.HasPrefix(r.URL.Path, "/ws/") {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := lg.GetSession(sessionID); !ok {
				next.ServeHTTP(w, r)
				return
			}

			// Parsed here so the arguments survive request copies made further down
			if r.Method == http.MethodPost {
				r.ParseForm()
			}

			start := time.Now()
			cw := &captureResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			lg.NewEventBroadcaster(sessionID).EmitHTTPExchange(buildCapturedExchange(r, cw, time.Since(start)))
		})
	}
}

func captureSessionID(r *http.Request) string {
	if sessionID := r.Header.Get(captureSessionHeader); sessionID != "" {
		return sessionID
	}
	return r.URL.Query().Get(captureSessionQueryKey)
}

func buildCapturedExchange(r *http.Request, w *captureResponseWriter, elapsed time.Duration) lookingglass.CapturedExchange {
	exchange := lookingglass.CapturedExchange{
		Method:          r.Method,
		Path:            r.URL.Path,
		Status:          w.status,
		RequestArgs:     openIDArgs(r),
		ResponseHeaders: make(map[string]string),
		Truncated:       w.truncated,
		Duration:        elapsed,
	}
	for _, h := range []string{"Content-Type", "Location", "X-XRDS-Location"} {
		if v := w.Header().Get(h); v != "" {
			exchange.ResponseHeaders[h] = v
		}
	}
	if loc, ok := exchange.ResponseHeaders["Location"]; ok {
		exchange.ResponseHeaders["Location"] = redactLocation(loc)
	}
	// HTML pages carry CSRF tokens and are not useful in the stream
	ct := w.Header().Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "text/html"):
	case strings.HasPrefix(ct, "text/plain"):
		exchange.ResponseBody = redactKV(w.body.String())
	default:
		exchange.ResponseBody = w.body.String()
	}
	return exchange
}

const redacted = "[redacted]"

// secretKeys are message keys whose values never enter the event stream
var secretKeys = map[string]bool{
	"mac_key":     true,
	"enc_mac_key": true,
	"sig":         true,
}

func isSecretArg(key string) bool {
	return secretKeys[strings.TrimPrefix(key, "openid.")]
}

// redactKV masks secret values in a key-value form body
func redactKV(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if k, _, ok := strings.Cut(line, ":"); ok && secretKeys[k] {
			lines[i] = k + ":" + redacted
		}
	}
	return strings.Join(lines, "\n")
}

// redactLocation masks secret openid.* arguments in a redirect URL
func redactLocation(loc string) string {
	u, err := url.Parse(loc)
	if err != nil || u.RawQuery == "" {
		return loc
	}
	q := u.Query()
	changed := false
	for k := range q {
		if strings.HasPrefix(k, "openid.") && isSecretArg(k) {
			q.Set(k, redacted)
			changed = true
		}
	}
	if !changed {
		return loc
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// openIDArgs returns the openid.* arguments of the query and of an already parsed form
func openIDArgs(r *http.Request) map[string]string {
	args := make(map[string]string)
	collect := func(values map[string][]string) {
		for k, v := range values {
			if !strings.HasPrefix(k, "openid.") || len(v) == 0 {
				continue
			}
			if isSecretArg(k) {
				args[k] = redacted
			} else {
				args[k] = v[0]
			}
		}
	}
	collect(r.URL.Query())
	collect(r.PostForm)
	if len(args) == 0 {
		return nil
	}
	return args
}
