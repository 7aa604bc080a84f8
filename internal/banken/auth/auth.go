// Package auth implements the inbound request guard for the agent's HTTP API.
//
// Core authenticates to the agent with three layers:
//
//   - Authorization: Bearer <token> — shared-secret identity, compared in
//     constant time.
//   - X-Banken-Timestamp + X-Banken-Nonce — replay protection: the timestamp
//     must fall within the replay window and the nonce must not have been
//     seen within it.
//   - X-Banken-Signature — payload integrity: hex-encoded
//     HMAC-SHA256(secret, timestamp + "." + nonce + "." + body).
//
// The signature layers are only enforced when an HMAC secret is configured;
// bearer-only mode is intended for development setups.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/Banken/common/trace"
)

// Request headers checked by the guard.
const (
	HeaderTimestamp = "X-Banken-Timestamp"
	HeaderNonce     = "X-Banken-Nonce"
	HeaderSignature = "X-Banken-Signature"
)

// DefaultReplayWindow is how far a request timestamp may drift from the
// agent's clock, in either direction.
const DefaultReplayWindow = 5 * time.Minute

// maxBodyBytes caps inbound request bodies to prevent memory exhaustion
// from oversized payloads.
const maxBodyBytes = 1 * 1024 * 1024 // 1 MiB

// Config holds options for creating a Guard.
type Config struct {
	// Token is the bearer token Core must present. Required.
	Token string
	// HMACSecret enables signature and replay checks when non-empty.
	HMACSecret string
	// ReplayWindow overrides DefaultReplayWindow when positive.
	ReplayWindow time.Duration
}

// Guard authenticates inbound API requests.
type Guard struct {
	token  string
	secret []byte
	window time.Duration

	mu     sync.Mutex
	nonces map[string]time.Time

	now func() time.Time // injectable clock for tests
}

// New creates a Guard from cfg.
func New(cfg Config) *Guard {
	window := cfg.ReplayWindow
	if window <= 0 {
		window = DefaultReplayWindow
	}
	var secret []byte
	if cfg.HMACSecret != "" {
		secret = []byte(cfg.HMACSecret)
	}
	return &Guard{
		token:  cfg.Token,
		secret: secret,
		window: window,
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Middleware wraps next with request authentication. Rejected requests get a
// 401 and never reach next. The request body is re-buffered so handlers can
// read it normally after signature verification. Every accepted request is
// tagged with a trace ID in its context.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if len(body) > maxBodyBytes {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}

		if err := g.Verify(r, body); err != nil {
			slog.Info("auth: request rejected",
				"method", r.Method, "path", r.URL.Path, "err", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := trace.WithTraceID(r.Context(), traceIDFor(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verify checks the bearer token and, when an HMAC secret is configured, the
// replay window, nonce freshness, and payload signature for the given body.
func (g *Guard) Verify(r *http.Request, body []byte) error {
	if err := g.verifyBearer(r); err != nil {
		return err
	}
	if len(g.secret) == 0 {
		return nil
	}

	ts := r.Header.Get(HeaderTimestamp)
	nonce := r.Header.Get(HeaderNonce)
	sig := r.Header.Get(HeaderSignature)
	if ts == "" || nonce == "" || sig == "" {
		return fmt.Errorf("missing signature headers")
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed timestamp %q", ts)
	}
	now := g.now()
	drift := now.Sub(time.Unix(unix, 0))
	if drift < -g.window || drift > g.window {
		return fmt.Errorf("timestamp outside replay window (drift %s)", drift.Round(time.Second))
	}

	// The signature is checked before the nonce is recorded: a forged
	// request must not burn a nonce the legitimate caller has yet to send.
	want := Sign(g.secret, ts, nonce, body)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return fmt.Errorf("invalid payload signature")
	}

	if !g.recordNonce(nonce, now) {
		return fmt.Errorf("nonce already seen")
	}
	return nil
}

// verifyBearer compares the Authorization header against the configured token
// in constant time.
func (g *Guard) verifyBearer(r *http.Request) error {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return fmt.Errorf("missing or malformed Authorization header")
	}
	token := strings.TrimPrefix(auth, prefix)
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
		return fmt.Errorf("invalid bearer token")
	}
	return nil
}

// recordNonce registers a nonce, reporting false when it was already seen
// inside the replay window. Expired nonces are pruned on each insert; the
// cache stays bounded because valid requests carry fresh timestamps.
func (g *Guard) recordNonce(nonce string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-2 * g.window)
	for n, seen := range g.nonces {
		if seen.Before(cutoff) {
			delete(g.nonces, n)
		}
	}

	if _, dup := g.nonces[nonce]; dup {
		return false
	}
	g.nonces[nonce] = now
	return true
}

// Sign computes the hex HMAC-SHA256 signature for a request. Exported so the
// test suite and any Go-side Core client can produce valid signatures.
func Sign(secret []byte, timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(nonce))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// traceIDFor returns the inbound X-Trace-ID header, or a fresh ID when the
// caller did not send one.
func traceIDFor(r *http.Request) string {
	if id := r.Header.Get("X-Trace-ID"); id != "" {
		return id
	}
	return trace.GenerateID()
}
