package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxStreamLineSize caps one SSE or NDJSON line. bufio's 64 KiB default is
// too small for long completions.
const maxStreamLineSize = 1 << 20

// maxErrorBodySize caps how much of a failed response is read for the error message.
const maxErrorBodySize = 64 << 10

// errStreamDone reports the [DONE] sentinel, as distinct from io.EOF at end of body.
var errStreamDone = errors.New("event stream done")

// sseReader reads data payloads from a Server-Sent Events body.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxStreamLineSize)
	return &sseReader{scanner: scanner}
}

// Next returns the next event payload. Consecutive data lines are joined with
// newlines. It returns errStreamDone on the [DONE] sentinel and io.EOF at end
// of body.
func (s *sseReader) Next() (string, error) {
	var lines []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if len(lines) > 0 {
				return strings.Join(lines, "\n"), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return "", errStreamDone
		}
		lines = append(lines, data)
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read event stream: %w", err)
	}
	if len(lines) > 0 {
		return strings.Join(lines, "\n"), nil
	}
	return "", io.EOF
}

// postStream sends payload and returns the open response. Non-2xx responses
// are drained and turned into an error built by describe.
func postStream(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any, describe func(status string, body []byte) error) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, describe(resp.Status, raw)
	}
	return resp, nil
}

// streamClient returns a copy of base without an overall timeout, since a
// streamed reply may legitimately outlive it. Cancellation comes from ctx.
func streamClient(base *http.Client) *http.Client {
	c := *base
	c.Timeout = 0
	return &c
}
