// Package inference is the remote inference client: chat-completion and
// transcription calls made through an acquired tunnel.Handle, guarded by a
// per-model circuit breaker and a single transport-level retry. Grounded
// on the teacher's internal/openwebif.Client — hardened *http.Client with
// disabled keep-alives, a promauto request-duration/retry/failure metric
// triad, and a resilience.CircuitBreaker wrapping every call — generalized
// from OpenWebIF's receiver API to an OpenAI-compatible inference surface.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/log"
	"github.com/Joshi004/moments-pipeline/internal/resilience"
)

const maxErrBody = 8 * 1024

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moments_inference_request_duration_seconds",
		Help:    "Duration of inference HTTP requests per attempt",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
	}, []string{"operation", "status"})

	requestRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moments_inference_request_retries_total",
		Help: "Number of inference request retries performed",
	}, []string{"operation"})

	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moments_inference_request_failures_total",
		Help: "Number of failed inference requests by error class",
	}, []string{"operation", "error_class"})
)

// Client performs inference calls against one tunnel.Handle's base URL.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *resilience.CircuitBreaker
	backoff time.Duration
}

// New builds a Client bound to a tunnel's local base URL. breaker may be
// shared across calls for the same model_key so failures across requests
// accumulate in one sliding window.
func New(baseURL string, breaker *resilience.CircuitBreaker) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		DisableKeepAlives:     true,
		MaxConnsPerHost:       8,
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Transport: transport, Timeout: 120 * time.Second},
		cb:      breaker,
		backoff: 1 * time.Second,
	}
}

// ChatMessage is one turn in a chat-completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	TopK        int           `json:"top_k,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// ChatComplete sends messages to modelID with the given sampling
// parameters and returns the first choice's raw text content.
func (c *Client) ChatComplete(ctx context.Context, modelID string, messages []ChatMessage, params domain.SamplingParams) (string, error) {
	req := chatRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		MaxTokens:   params.MaxTokens,
	}
	var resp chatResponse
	if err := c.call(ctx, "chat_complete", "/v1/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrParse)
	}
	return resp.Choices[0].Message.Content, nil
}

type transcribeResponse struct {
	Text     string                    `json:"text"`
	Words    []domain.WordTimestamp    `json:"words"`
	Segments []domain.SegmentTimestamp `json:"segments"`
}

// TranscriptionResult is the decoded transcription response.
type TranscriptionResult struct {
	Text     string
	Words    []domain.WordTimestamp
	Segments []domain.SegmentTimestamp
}

// Transcribe submits audioPath's bytes (already fetched by the caller's
// stage, passed here as raw bytes) as a multipart transcription request.
func (c *Client) Transcribe(ctx context.Context, modelID string, audio []byte, filename string) (*TranscriptionResult, error) {
	body := &bytes.Buffer{}
	writer := newMultipartWriter(body)
	if err := writer.writeField("model", modelID); err != nil {
		return nil, err
	}
	if err := writer.writeFile("file", filename, audio); err != nil {
		return nil, err
	}
	if err := writer.close(); err != nil {
		return nil, err
	}

	var resp transcribeResponse
	if err := c.callMultipart(ctx, "transcribe", "/v1/audio/transcriptions", body, writer.contentType(), &resp); err != nil {
		return nil, err
	}
	return &TranscriptionResult{Text: resp.Text, Words: resp.Words, Segments: resp.Segments}, nil
}

func (c *Client) call(ctx context.Context, operation, path string, reqBody, respBody any) error {
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("inference: marshal %s request: %w", operation, err)
	}
	return c.doWithResilience(ctx, operation, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.doAndDecode(req, operation, respBody)
	})
}

func (c *Client) callMultipart(ctx context.Context, operation, path string, body *bytes.Buffer, contentType string, respBody any) error {
	payload := body.Bytes()
	return c.doWithResilience(ctx, operation, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		return c.doAndDecode(req, operation, respBody)
	})
}

// doWithResilience wraps fn in the circuit breaker (if configured) and a
// single transport-level retry after c.backoff (resilience.RetryOnce).
func (c *Client) doWithResilience(ctx context.Context, operation string, fn func(context.Context) error) error {
	attempts := 0
	return resilience.RetryOnce(ctx, c.backoff, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			requestRetries.WithLabelValues(operation).Inc()
		}
		if c.cb == nil {
			return fn(ctx)
		}
		return c.cb.Execute(func() error { return fn(ctx) })
	})
}

func (c *Client) doAndDecode(req *http.Request, operation string, respBody any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		requestDuration.WithLabelValues(operation, "transport_error").Observe(time.Since(start).Seconds())
		requestFailures.WithLabelValues(operation, "transport").Inc()
		return err
	}
	defer func() {
		_, _ = io.CopyN(io.Discard, resp.Body, maxErrBody)
		_ = resp.Body.Close()
	}()

	status := statusClass(resp.StatusCode)
	requestDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		requestFailures.WithLabelValues(operation, status).Inc()
		return &ErrHTTPStatus{Operation: operation, Status: resp.StatusCode, Body: string(body)}
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			requestFailures.WithLabelValues(operation, "decode").Inc()
			return fmt.Errorf("inference: decode %s response: %w", operation, err)
		}
	}

	log.WithComponent("inference").Debug().Str("operation", operation).Int("status", resp.StatusCode).Msg("inference call completed")
	return nil
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
