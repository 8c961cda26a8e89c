// Package httpupload transfers payloads to an HTTP upload endpoint as
// multipart/form-data POST requests.
package httpupload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"upqueue/internal/port"
	"upqueue/internal/service"
)

const maxErrorBody = 64 << 10

// Config configures a Client.
type Config struct {
	URL     string
	Timeout time.Duration
	// InlineRetry is the number of immediate retries for a single attempt.
	// Longer-lived retrying is left to the upload queue.
	InlineRetry int
}

// Client is a port.Transfer posting to an HTTP upload endpoint.
type Client struct {
	url  string
	http *retryablehttp.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("http upload url must not be empty")
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.InlineRetry
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	return &Client{url: cfg.URL, http: client}, nil
}

func (c *Client) Transfer(ctx context.Context, input port.TransferInput) (map[string]interface{}, error) {
	body, contentType, err := buildForm(input)
	if err != nil {
		return nil, port.Fatal(0, err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, c.url, retryablehttp.ReaderFunc(func() (io.Reader, error) {
		return &progressReader{r: bytes.NewReader(body), total: input.Size, fn: input.Progress}, nil
	}))
	if err != nil {
		return nil, port.Fatal(0, fmt.Errorf("creating upload request: %w", err))
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", input.RequestID)
	// retryablehttp does not set Content-Length for ReaderFunc bodies.
	req.ContentLength = int64(len(body))

	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return nil, port.Transient(0, fmt.Errorf("posting upload: %w", err))
	}
	defer resp.Body.Close()

	// The retry policy gave up with a response in hand, e.g. when ctx ended
	// between attempts. The status alone does not describe the failure.
	if err != nil {
		kind, _ := service.ClassifyError(err)
		return nil, &port.TransferError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
			Err:        fmt.Errorf("posting upload: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorMessage(resp.Body)
		return nil, &port.TransferError{
			Kind:       service.ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, port.Fatal(resp.StatusCode, fmt.Errorf("decoding upload response: %w", err))
	}
	return result, nil
}

func buildForm(input port.TransferInput) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(input.Options))
	for k := range input.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, formValue(input.Options[k])); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", k, err)
		}
	}
	if input.Signature != nil {
		fields := map[string]string{
			"signature": input.Signature.Value,
			"api_key":   input.Signature.APIKey,
			"timestamp": strconv.FormatInt(input.Signature.Timestamp, 10),
		}
		for _, k := range []string{"api_key", "signature", "timestamp"} {
			if err := w.WriteField(k, fields[k]); err != nil {
				return nil, "", fmt.Errorf("writing field %s: %w", k, err)
			}
		}
	}

	name := input.Name
	if name == "" {
		name = "file"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(part, input.Body); err != nil {
		return nil, "", fmt.Errorf("reading payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func formValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(bytes.TrimSpace(data))
}

// progressReader reports how much of the request body has been sent, capped
// at the payload size.
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    func(bytes, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.fn != nil {
		p.sent += int64(n)
		reported := p.sent
		if p.total > 0 && reported > p.total {
			reported = p.total
		}
		p.fn(reported, p.total)
	}
	return n, err
}
