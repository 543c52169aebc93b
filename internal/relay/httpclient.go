package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

var debugRateLimit = os.Getenv("GROUPCORE_DEBUG_RATE") != ""

// HTTPClient talks to a real relay deployment over a small JSON-over-HTTP
// protocol, rate-limited exactly as the teacher's Linear API client
// rate-limits GraphQL calls.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// HTTPClientOptions configures the relay HTTP client's burst/sustained rate.
type HTTPClientOptions struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultHTTPClientOptions mirrors the teacher's "burst handles cold
// cache, sustained rate protects the service" sizing.
func DefaultHTTPClientOptions() HTTPClientOptions {
	return HTTPClientOptions{RequestsPerSecond: 10, Burst: 50}
}

// NewHTTPClient returns a relay Client backed by HTTP calls to baseURL.
func NewHTTPClient(baseURL string, opts HTTPClientOptions) *HTTPClient {
	if opts.RequestsPerSecond <= 0 {
		opts = DefaultHTTPClientOptions()
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
	}
}

func (c *HTTPClient) wait(ctx context.Context, op string) error {
	if debugRateLimit {
		if tokens := c.limiter.Tokens(); tokens <= 0 {
			log.Printf("[relay] token bucket empty, %s will block until tokens replenish", op)
		}
	}
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		log.Printf("[relay] %s waited %s for rate limiter", op, waited.Round(time.Millisecond))
	}
	return nil
}

type queryRequest struct {
	Topic string            `json:"topic"`
	After map[string]uint64 `json:"after"`
}

type queryResponse struct {
	Messages []EnvelopedMessage `json:"messages"`
}

func (c *HTTPClient) Query(ctx context.Context, topic string, after map[string]uint64) ([]EnvelopedMessage, error) {
	if err := c.wait(ctx, "query"); err != nil {
		return nil, err
	}
	var resp queryResponse
	if err := c.post(ctx, "/query", queryRequest{Topic: topic, After: after}, &resp); err != nil {
		return nil, fmt.Errorf("relay query %s: %w", topic, err)
	}
	return resp.Messages, nil
}

type publishRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type publishResponse struct {
	SequenceID uint64 `json:"sequence_id"`
}

func (c *HTTPClient) Publish(ctx context.Context, topic string, payload []byte) (uint64, error) {
	if err := c.wait(ctx, "publish"); err != nil {
		return 0, err
	}
	var resp publishResponse
	if err := c.post(ctx, "/publish", publishRequest{Topic: topic, Payload: payload}, &resp); err != nil {
		if isEpochConflict(err) {
			return 0, &ErrEpochConflict{Topic: topic}
		}
		return 0, fmt.Errorf("relay publish %s: %w", topic, err)
	}
	return resp.SequenceID, nil
}

type publishWelcomeRequest struct {
	KeyID   string `json:"key_id"`
	Welcome []byte `json:"welcome"`
}

func (c *HTTPClient) PublishWelcome(ctx context.Context, keyID string, welcome []byte) error {
	if err := c.wait(ctx, "publish_welcome"); err != nil {
		return err
	}
	if err := c.post(ctx, "/publish_welcome", publishWelcomeRequest{KeyID: keyID, Welcome: welcome}, nil); err != nil {
		return fmt.Errorf("relay publish_welcome %s: %w", keyID, err)
	}
	return nil
}

type queryWelcomesRequest struct {
	InstallationID string `json:"installation_id"`
}

type queryWelcomesResponse struct {
	Welcomes [][]byte `json:"welcomes"`
}

func (c *HTTPClient) QueryWelcomes(ctx context.Context, installationID string) ([][]byte, error) {
	if err := c.wait(ctx, "query_welcomes"); err != nil {
		return nil, err
	}
	var resp queryWelcomesResponse
	if err := c.post(ctx, "/query_welcomes", queryWelcomesRequest{InstallationID: installationID}, &resp); err != nil {
		return nil, fmt.Errorf("relay query_welcomes %s: %w", installationID, err)
	}
	return resp.Welcomes, nil
}

func isEpochConflict(err error) bool {
	return err != nil && err.Error() == "409"
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("409")
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
