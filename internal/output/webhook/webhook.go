// Package webhook delivers predictions to an HTTP endpoint in batches.
//
// Each POST carries a JSON Payload. When a secret is configured the body is
// signed with HMAC-SHA256 and the hex digest is sent as
// "X-Doccat-Signature: sha256=<digest>".
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/crimson-sun/doccat/internal/model"
	"github.com/crimson-sun/doccat/internal/output"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 5 * time.Second
	defaultTimeout       = 10 * time.Second
	defaultBackoff       = time.Second
	maxRetries           = 3

	// SignatureHeader carries the body signature.
	SignatureHeader = "X-Doccat-Signature"
)

// Payload is the body of every POST.
type Payload struct {
	SentAt      time.Time          `json:"sent_at"`
	Count       int                `json:"count"`
	Predictions []model.Prediction `json:"predictions"`
}

// Option configures a webhook Output.
type Option func(*Output)

// WithHeaders sets headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(o *Output) { o.headers = h }
}

// WithSecret signs every body with HMAC-SHA256.
func WithSecret(secret string) Option {
	return func(o *Output) { o.secret = []byte(secret) }
}

// WithBatchSize sets how many predictions trigger a send. Default: 50.
func WithBatchSize(n int) Option {
	return func(o *Output) { o.batchSize = max(n, 1) }
}

// WithFlushInterval bounds how long a prediction waits for its batch to
// fill. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Output) { o.flushInterval = d }
}

// WithTimeout sets the per-request timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(o *Output) { o.client.Timeout = d }
}

// WithBackoff sets the first retry delay; it doubles per retry. Default: 1s.
func WithBackoff(d time.Duration) Option {
	return func(o *Output) { o.backoff = d }
}

// WithVerbosity trims predictions before sending. Default: Standard.
func WithVerbosity(v output.Verbosity) Option {
	return func(o *Output) { o.verbosity = v }
}

// WithOnError receives errors from interval-driven sends, which have no
// caller to return to.
func WithOnError(f func(error)) Option {
	return func(o *Output) { o.errFunc = f }
}

// Output batches predictions and POSTs them. 429 and 5xx responses are
// retried; other failures are returned at once.
type Output struct {
	client        *http.Client
	url           string
	headers       map[string]string
	secret        []byte
	batchSize     int
	flushInterval time.Duration
	backoff       time.Duration
	verbosity     output.Verbosity
	errFunc       func(error)

	mu    sync.Mutex
	batch []model.Prediction
	timer *time.Timer
}

func New(url string, opts ...Option) *Output {
	o := &Output{
		client:        &http.Client{Timeout: defaultTimeout},
		url:           url,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		backoff:       defaultBackoff,
		verbosity:     output.Standard,
		errFunc:       func(err error) { slog.Warn("webhook send failed", "error", err) },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Write queues p and sends the batch once it is full.
func (o *Output) Write(ctx context.Context, p model.Prediction) error {
	o.mu.Lock()
	o.batch = append(o.batch, output.FormatPrediction(p, o.verbosity))
	var full []model.Prediction
	switch {
	case len(o.batch) >= o.batchSize:
		full = o.takeLocked()
	case len(o.batch) == 1:
		o.timer = time.AfterFunc(o.flushInterval, o.flushOnTimer)
	}
	o.mu.Unlock()

	if full == nil {
		return nil
	}
	return o.send(ctx, full)
}

// Close sends whatever is queued.
func (o *Output) Close() error {
	o.mu.Lock()
	batch := o.takeLocked()
	o.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return o.send(context.Background(), batch)
}

func (o *Output) flushOnTimer() {
	o.mu.Lock()
	batch := o.takeLocked()
	o.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := o.send(context.Background(), batch); err != nil {
		o.errFunc(err)
	}
}

// takeLocked requires o.mu.
func (o *Output) takeLocked() []model.Prediction {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	batch := o.batch
	o.batch = nil
	return batch
}

func (o *Output) send(ctx context.Context, batch []model.Prediction) error {
	body, err := json.Marshal(Payload{SentAt: time.Now().UTC(), Count: len(batch), Predictions: batch})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	var signature string
	if len(o.secret) > 0 {
		signature = "sha256=" + Sign(o.secret, body)
	}

	var wait time.Duration
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("webhook: %w", ctx.Err())
			case <-t.C:
			}
		}
		status, retryAfter, err := o.post(ctx, body, signature)
		if err != nil {
			return err
		}
		if status >= 200 && status < 300 {
			return nil
		}
		retryable := status == http.StatusTooManyRequests || status >= 500
		if !retryable || attempt == maxRetries {
			return fmt.Errorf("webhook: %d predictions not delivered: HTTP %d", len(batch), status)
		}
		wait = o.backoff << attempt
		if retryAfter > 0 {
			wait = retryAfter
		}
	}
}

// post makes one attempt and reports the status and any Retry-After delay.
func (o *Output) post(ctx context.Context, body []byte, signature string) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	var retryAfter time.Duration
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		retryAfter = time.Duration(secs) * time.Second
	}
	return resp.StatusCode, retryAfter, nil
}

// Sign returns the hex HMAC-SHA256 of body. Receivers compare it against
// the SignatureHeader value with the "sha256=" prefix removed.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
