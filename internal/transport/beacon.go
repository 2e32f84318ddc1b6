package transport

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"time"
)

// HTTPBeacon fires payloads without waiting for delivery. The POST runs
// on its own goroutine with a short deadline; callers only learn whether
// the payload was accepted for sending.
type HTTPBeacon struct {
	client *http.Client
}

// NewHTTPBeacon creates a beacon sender.
func NewHTTPBeacon() *HTTPBeacon {
	return &HTTPBeacon{
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// SendBeacon posts payload to url best-effort. An empty url is rejected.
func (b *HTTPBeacon) SendBeacon(url string, payload []byte) bool {
	if url == "" {
		return false
	}

	body := make([]byte, len(payload))
	copy(body, payload)

	go func() {
		var reader io.Reader
		method := http.MethodGet
		if len(body) > 0 {
			method = http.MethodPost
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, url, reader)
		if err != nil {
			log.Printf("beacon: failed to build request: %v", err)
			return
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := b.client.Do(req)
		if err != nil {
			log.Printf("beacon: send failed: %v", err)
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	return true
}
