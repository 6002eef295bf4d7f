package ocr

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visualcue/engine/internal/errors"
)

func frame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 4, 4))
}

func ocrServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestExtractText(t *testing.T) {
	c := ocrServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ocr" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req extractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
			t.Errorf("bad request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(extractResponse{Text: "  hello  "})
	})

	got, err := c.ExtractText(context.Background(), frame())
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("text = %q, want trimmed hello", got)
	}
}

func TestHasText(t *testing.T) {
	text := "found"
	c := ocrServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(extractResponse{Text: text})
	})

	if got, err := c.HasText(context.Background(), frame()); err != nil || !got {
		t.Errorf("HasText = %v, %v, want true", got, err)
	}

	text = "   "
	if got, err := c.HasText(context.Background(), frame()); err != nil || got {
		t.Errorf("HasText on whitespace = %v, %v, want false", got, err)
	}
}

func TestServerErrorRetriedThenSurfaced(t *testing.T) {
	var calls atomic.Int64
	c := ocrServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(extractResponse{Text: "recovered"})
	})
	c.retry.BaseDelay = time.Millisecond
	c.retry.MaxDelay = 2 * time.Millisecond

	got, err := c.ExtractText(context.Background(), frame())
	if err != nil {
		t.Fatal(err)
	}
	if got != "recovered" || calls.Load() != 2 {
		t.Errorf("text = %q after %d calls", got, calls.Load())
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	c := ocrServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	c.retry.BaseDelay = time.Millisecond

	_, err := c.ExtractText(context.Background(), frame())
	if !errors.IsCode(err, errors.OracleFault) {
		t.Errorf("err = %v, want OracleFault", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (4xx is not transient)", calls.Load())
	}
}

func TestBreakerOpensOnRepeatedFailure(t *testing.T) {
	c := ocrServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c.retry.MaxRetries = 1
	c.retry.BaseDelay = time.Millisecond

	// OracleConfig opens after 3 failed executions.
	for i := 0; i < 3; i++ {
		_, _ = c.ExtractText(context.Background(), frame())
	}

	start := time.Now()
	_, err := c.ExtractText(context.Background(), frame())
	if err == nil {
		t.Fatal("want error from open breaker")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("open breaker still hit the network, call took %v", elapsed)
	}
}
