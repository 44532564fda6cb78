// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hashicorp/smartwait/capture"
)

const (
	// defaultModel is used when no model is configured. Any OpenAI
	// compatible vision endpoint works; this is only the request field.
	defaultModel = "gpt-4o-mini"

	// defaultMaxTokens bounds reply length. Verdicts are one line; the
	// budget leaves room for chatty models.
	defaultMaxTokens = 300

	// defaultTemperature keeps verdicts as deterministic as the model
	// allows.
	defaultTemperature = 0.1

	// defaultRequestTimeout bounds a single evaluation round trip.
	defaultRequestTimeout = 30 * time.Second

	// defaultMaxInflight bounds concurrent model calls across all jobs.
	defaultMaxInflight = 2

	// jpegQuality for the frame sent to the model. Verdicts need
	// legibility, not fidelity.
	jpegQuality = 80
)

// ChatAdapterConfig configures a ChatAdapter.
type ChatAdapterConfig struct {
	// BaseURL of an OpenAI compatible API, e.g. https://api.openai.com/v1
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Model overrides the default model name.
	Model string

	// MaxTokens overrides the default reply budget.
	MaxTokens int

	// RequestTimeout bounds each evaluation round trip.
	RequestTimeout time.Duration

	// MaxInflight bounds concurrent model calls. Defaults to 2.
	MaxInflight int64

	// RPS rate limits calls to the model endpoint. Zero means unlimited.
	RPS float64

	Logger hclog.Logger
}

// ChatAdapter evaluates frames through an OpenAI compatible chat completions
// endpoint. Frames are sent as base64 JPEG data URLs.
type ChatAdapter struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int

	client  *http.Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  hclog.Logger
}

func NewChatAdapter(config *ChatAdapterConfig) (*ChatAdapter, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("vision endpoint base URL required")
	}

	model := config.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	maxInflight := config.MaxInflight
	if maxInflight <= 0 {
		maxInflight = defaultMaxInflight
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RPS), 1)
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout

	return &ChatAdapter{
		baseURL:   strings.TrimSuffix(config.BaseURL, "/"),
		apiKey:    config.APIKey,
		model:     model,
		maxTokens: maxTokens,
		client:    client,
		sem:       semaphore.NewWeighted(maxInflight),
		limiter:   limiter,
		logger:    config.Logger.Named("vision"),
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Model reports the model name evaluations are sent to.
func (c *ChatAdapter) Model() string { return c.model }

func (c *ChatAdapter) Evaluate(ctx context.Context, req *Request) (string, error) {
	defer metrics.MeasureSince([]string{"smartwait", "vision", "evaluate"}, time.Now())

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	dataURL, err := frameDataURL(req.Frame)
	if err != nil {
		return "", err
	}

	body := &chatRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: defaultTemperature,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: BuildPrompt(req.Criteria, req.Elapsed)},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode vision request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.IncrCounter([]string{"smartwait", "vision", "errors"}, 1)
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.IncrCounter([]string{"smartwait", "vision", "errors"}, 1)
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		metrics.IncrCounter([]string{"smartwait", "vision", "errors"}, 1)
		return "", fmt.Errorf("unexpected response code: %d (%s)", resp.StatusCode, excerpt(raw))
	}

	if parsed.Error != nil {
		metrics.IncrCounter([]string{"smartwait", "vision", "errors"}, 1)
		return "", fmt.Errorf("vision endpoint error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.IncrCounter([]string{"smartwait", "vision", "errors"}, 1)
		return "", fmt.Errorf("unexpected response code: %d (%s)", resp.StatusCode, excerpt(raw))
	}
	if len(parsed.Choices) == 0 {
		metrics.IncrCounter([]string{"smartwait", "vision", "errors"}, 1)
		return "", fmt.Errorf("vision endpoint returned no choices")
	}

	reply := parsed.Choices[0].Message.Content
	c.logger.Trace("evaluated frame", "wait_id", req.WaitID, "reply_len", len(reply))
	return reply, nil
}

// frameDataURL encodes a frame as a base64 JPEG data URL.
func frameDataURL(frame *capture.Frame) (string, error) {
	if frame == nil {
		return "", fmt.Errorf("no frame to evaluate")
	}

	img := &image.RGBA{
		Pix:    frame.Pix,
		Stride: 4 * frame.Width,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("failed to encode frame: %v", err)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func excerpt(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 256 {
		raw = raw[:256]
	}
	return raw
}
