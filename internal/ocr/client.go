// Package ocr implements C2: a single-page-image OCR client against an
// OpenAI-compatible chat-completions HTTP endpoint, following the teacher's
// own idiom of hand-rolling the HTTP+JSON client for an external AI model
// (internal/extraction/client.go, internal/extraction/tax_gemini.go) rather
// than pulling in a vendor SDK.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
)

// Client sends page images to the external OCR model and returns markdown.
// One Client is shared process-wide. Its http.Client sets no Transport
// connection limits, so the Client itself does not cap concurrency; the
// number of calls in flight is bounded by the worker semaphore in
// internal/ingest.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig apperr.RetryConfig
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // spec §5: OCR per-call timeout
		},
		retryConfig: apperr.OCRRetryConfig,
	}
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

type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// OCR sends one page image to the model and returns the markdown transcript.
// The OCR model is prompt-less per spec §4.2: the single user message
// carries only the image part, no text prompt.
func (c *Client) OCR(ctx context.Context, imageBytes []byte, mime string) (string, error) {
	result, err := apperr.WithRetry(ctx, c.retryConfig, func(ctx context.Context, attempt int) (string, error) {
		return c.doOnce(ctx, imageBytes, mime)
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (c *Client) doOnce(ctx context.Context, imageBytes []byte, mime string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(imageBytes))

	reqBody := chatRequest{
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
				},
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", apperr.Internal(err, "marshal OCR request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", apperr.Internal(err, "build OCR request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Upstream(err, "OCR request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Upstream(err, "read OCR response")
	}

	if resp.StatusCode >= 500 {
		return "", apperr.Upstream(fmt.Errorf("status %d: %s", resp.StatusCode, respBody), "OCR upstream error")
	}
	if resp.StatusCode >= 400 {
		return "", &apperr.Error{Kind: apperr.KindUpstream, Message: fmt.Sprintf("OCR rejected request: status %d: %s", resp.StatusCode, respBody), Retryable: false}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperr.Upstream(err, "parse OCR response")
	}
	if len(parsed.Choices) == 0 {
		return "", apperr.Upstream(fmt.Errorf("empty choices"), "OCR returned no content")
	}

	return parsed.Choices[0].Message.Content, nil
}
