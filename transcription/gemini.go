package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nijaru/duoscribe/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const maxErrorBody = 4 << 10

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// Timeout bounds a single call. Zero leaves the transport default.
	Timeout time.Duration
}

// Client calls the Gemini generateContent endpoint. It keeps no per-call
// state and is safe for concurrent use.
type Client struct {
	HTTPClient *http.Client

	apiKey  string
	model   string
	baseURL string
	timeout time.Duration
	logger  *logrus.Logger
}

func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		HTTPClient: http.DefaultClient,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		logger:     logger,
	}
}

func (c *Client) Model() string {
	return c.model
}

// Process issues one generateContent call and maps the structured output
// onto a TranscriptionResult. Every failure is an *Error; there is no retry.
func (c *Client) Process(ctx context.Context, in Input) (*models.TranscriptionResult, error) {
	const op = "transcription.Process"

	logger := c.logger.WithFields(logrus.Fields{
		"model": c.model,
		"input": inputKind(in),
	})

	if c.apiKey == "" {
		logger.Warn("Gemini API key is not configured")
		return nil, newError(op, ErrMissingAPIKey, nil)
	}

	req, err := BuildRequest(in)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.generate(ctx, req)
	if err != nil {
		logger.WithError(err).WithField("duration", time.Since(start)).Error("Gemini request failed")
		return nil, err
	}

	parsed, err := ParseResponse(text)
	if err != nil {
		logger.WithError(err).Error("Gemini response rejected")
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"duration": time.Since(start),
		"language": parsed.OriginalLanguage,
	}).Info("Gemini request completed")

	return &models.TranscriptionResult{
		Original:   parsed.OriginalContent,
		Indonesian: parsed.IndonesianTranslation,
		Raw:        text,
	}, nil
}

type generateResponse struct {
	Candidates []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// generate returns the concatenated text parts of the first candidate.
func (c *Client) generate(ctx context.Context, body *GenerateRequest) (string, error) {
	const op = "transcription.generate"

	payload, err := json.Marshal(body)
	if err != nil {
		return "", newError(op, ErrTransport, errors.Wrap(err, "failed to marshal request"))
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", newError(op, ErrTransport, errors.Wrap(err, "failed to build request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", newError(op, ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := newError(op, ErrRemoteStatus, remoteMessage(resp.Body))
		e.StatusCode = resp.StatusCode
		return "", e
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", newError(op, ErrMalformedResponse, errors.Wrap(err, "failed to decode envelope"))
	}

	if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
		return "", newError(op, ErrEmptyResponse, errors.Errorf("prompt blocked: %s", decoded.PromptFeedback.BlockReason))
	}
	if len(decoded.Candidates) == 0 {
		return "", newError(op, ErrEmptyResponse, errors.New("no candidates"))
	}

	var sb strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", newError(op, ErrEmptyResponse,
			errors.Errorf("no text in candidate (finish reason %q)", decoded.Candidates[0].FinishReason))
	}

	return sb.String(), nil
}

func remoteMessage(body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var apiErr apiError
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
		return errors.Errorf("%s: %s", apiErr.Error.Status, apiErr.Error.Message)
	}
	if len(data) == 0 {
		return nil
	}
	return errors.New(strings.TrimSpace(string(data)))
}

func inputKind(in Input) string {
	switch in.(type) {
	case VideoInput:
		return "video"
	case TextInput:
		return "text"
	}
	return "unknown"
}
