// Package ocr talks to the text recognition service over HTTP. The service
// is optional infrastructure: every caller treats a dead oracle as "no
// text" rather than an engine fault, and a circuit breaker keeps a
// struggling service from stalling the polling cadence.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/visualcue/engine/internal/errors"
	"github.com/visualcue/engine/internal/resilience"
	"github.com/visualcue/engine/internal/trace"
)

const requestTimeout = 5 * time.Second

type extractRequest struct {
	Image string `json:"image"` // base64 PNG
}

type extractResponse struct {
	Text string `json:"text"`
}

// Client is an HTTP client for the OCR service.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		breaker: resilience.New(resilience.OracleConfig()),
		retry:   resilience.DefaultRetryConfig(),
	}
}

// ExtractText runs recognition on the image and returns the trimmed text.
func (c *Client) ExtractText(ctx context.Context, img image.Image) (string, error) {
	ctx, span := trace.StartSpan(ctx, "ocr_extract")
	defer span.End()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", errors.Wrap(err, errors.OracleFault, "encode frame")
	}
	payload, err := json.Marshal(extractRequest{Image: base64.StdEncoding.EncodeToString(buf.Bytes())})
	if err != nil {
		return "", errors.Wrap(err, errors.OracleFault, "marshal request")
	}

	var text string
	err = c.breaker.Execute(func() error {
		return resilience.Retry(ctx, c.retry, func() error {
			got, err := c.post(ctx, payload)
			if err != nil {
				return err
			}
			text = got
			return nil
		})
	})
	if err != nil {
		return "", errors.Wrap(err, errors.OracleFault, "ocr request")
	}
	return strings.TrimSpace(text), nil
}

// HasText reports whether the image contains any readable text.
func (c *Client) HasText(ctx context.Context, img image.Image) (bool, error) {
	text, err := c.ExtractText(ctx, img)
	if err != nil {
		return false, err
	}
	return text != "", nil
}

func (c *Client) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", resilience.Retryable(fmt.Errorf("ocr service returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr service returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var out extractResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return out.Text, nil
}
