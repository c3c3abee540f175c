package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pomconv/internal/config"
	"pomconv/internal/model"
	"pomconv/pkg/logger"
)

// EndpointResolver yields the backend address for chat calls.
type EndpointResolver interface {
	Resolve(ctx context.Context) (model.Endpoint, error)
}

// Client performs chat-completion exchanges with retry, backoff and
// rate-limit handling. One Client is shared by every conversion.
type Client struct {
	resolver         EndpointResolver
	http             *http.Client
	apiKey           string
	completionTokens bool

	maxAttempts      int
	backoff          Backoff
	rateLimit        Backoff
	rateLimitMaxWait time.Duration

	sleep sleepFunc
}

func NewClient(backend config.BackendConfig, retry config.RetryConfig, resolver EndpointResolver, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: backend.Timeout}
	}
	attempts := retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		resolver:         resolver,
		http:             httpClient,
		apiKey:           backend.APIKey,
		completionTokens: backend.Remote(),
		maxAttempts:      attempts,
		backoff: Backoff{
			Initial: retry.BaseDelay,
			Factor:  2,
			Max:     retry.MaxDelay,
		},
		rateLimit: Backoff{
			Initial: retry.RateLimitDelay,
			Factor:  retry.RateLimitFactor,
			Max:     retry.RateLimitMaxDelay,
		},
		rateLimitMaxWait: retry.RateLimitMaxWait,
		sleep:            sleepContext,
	}
}

// Chat resolves the endpoint and performs req against it.
func (c *Client) Chat(ctx context.Context, req model.ChatRequest) (string, error) {
	ep, err := c.resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}
	return c.Call(ctx, ep, req)
}

// Call performs req against ep. Transport failures and non-2xx statuses are
// retried up to the attempt budget; 429 responses wait on their own schedule
// without consuming it. Malformed 2xx responses are returned immediately.
func (c *Client) Call(ctx context.Context, ep model.Endpoint, req model.ChatRequest) (string, error) {
	payload, err := json.Marshal(req.ToOpenAI(c.completionTokens))
	if err != nil {
		return "", &model.Error{Kind: model.KindMalformedResponse, Op: "encode request", Err: err}
	}

	var (
		lastErr     error
		attempts    int
		rateLimited int
		waited      time.Duration
	)
	for attempts < c.maxAttempts {
		content, err := c.do(ctx, ep.ChatURL(), payload)
		if err == nil {
			return content, nil
		}

		switch model.KindOf(err) {
		case model.KindMalformedResponse:
			return "", err
		case model.KindRateLimited:
			delay := c.rateLimit.Delay(rateLimited)
			rateLimited++
			if c.rateLimitMaxWait > 0 && waited+delay > c.rateLimitMaxWait {
				return "", &model.Error{
					Kind:     model.KindRateLimited,
					Op:       "chat",
					Status:   http.StatusTooManyRequests,
					Attempts: attempts + rateLimited,
					Err:      fmt.Errorf("still rate limited after waiting %s", waited),
				}
			}
			waited += delay
			logger.Warnf("rate limited by %s, sleeping %s", ep.BaseURL, delay)
			if err := c.sleep(ctx, delay); err != nil {
				return "", &model.Error{Kind: model.KindTransport, Op: "chat", Attempts: attempts, Err: err}
			}
			continue
		}

		attempts++
		lastErr = err
		if ctx.Err() != nil || attempts >= c.maxAttempts {
			break
		}
		delay := c.backoff.Delay(attempts - 1)
		logger.Warnf("chat attempt %d/%d failed: %v; retrying in %s", attempts, c.maxAttempts, err, delay)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	return "", &model.Error{Kind: model.KindTransport, Op: "chat", Attempts: attempts, Err: lastErr}
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string          `json:"role"`
			Content *string         `json:"content"`
			Parsed  json.RawMessage `json:"parsed"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) do(ctx context.Context, url string, payload []byte) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &model.Error{Kind: model.KindRateLimited, Op: "chat", Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &model.Error{
			Kind:   model.KindTransport,
			Op:     "chat",
			Status: resp.StatusCode,
			Err:    errors.New(strings.TrimSpace(string(body))),
		}
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &model.Error{Kind: model.KindMalformedResponse, Op: "decode response", Err: err}
	}
	if len(decoded.Choices) == 0 {
		return "", &model.Error{Kind: model.KindMalformedResponse, Op: "decode response", Err: errors.New("response has no choices")}
	}
	msg := decoded.Choices[0].Message
	if len(msg.Parsed) > 0 && string(msg.Parsed) != "null" {
		var compact bytes.Buffer
		if err := json.Compact(&compact, msg.Parsed); err == nil {
			return compact.String(), nil
		}
	}
	if msg.Content == nil {
		return "", &model.Error{Kind: model.KindMalformedResponse, Op: "decode response", Err: errors.New("message content is null")}
	}
	if strings.TrimSpace(*msg.Content) == "" {
		return "", &model.Error{Kind: model.KindMalformedResponse, Op: "decode response", Err: errors.New("message content is empty")}
	}
	return *msg.Content, nil
}
