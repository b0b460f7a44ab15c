// Package transport implements the collector HTTP client: the batched event
// submit POST, the stdout/stderr capture POST, and the presigned-PUT file
// upload (spec.md §6). It is built on net/http with cenkalti/backoff/v4
// retrying transient failures, the same reconnect-on-transient-error shape
// as the teacher's grpctransport.Client.Run, adapted from a long-lived
// gRPC stream to a short, one-shot HTTP request per call.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"

	"github.com/tracerbio/tracer/internal/eventrecorder"
)

// legacyURLSubstring mirrors config.legacyURLSubstring; kept local so this
// package does not need to import internal/config for a single constant.
const legacyURLSubstring = "data-collector-api"

// Client is the collector HTTP client (spec.md §6).
type Client struct {
	serviceURL string
	apiKey     string
	httpClient *http.Client
	maxRetries uint64
}

// New constructs a Client for serviceURL, stripping the legacy
// "data-collector-api" URL substring per spec.md §6.
func New(serviceURL, apiKey string) *Client {
	return &Client{
		serviceURL: strings.ReplaceAll(serviceURL, legacyURLSubstring, ""),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
	}
}

// submitRequest is the batch-submit wire body (spec.md §6).
type submitRequest struct {
	Logs []eventrecorder.Event `json:"logs"`
}

// RunStartResult carries the fields the collector assigns on start_new_run
// (spec.md §4.9, §6).
type RunStartResult struct {
	RunName     string `json:"run_name"`
	RunID       string `json:"run_id"`
	ServiceName string `json:"service_name"`
}

type runStartResponseEnvelope struct {
	Result []struct {
		Properties RunStartResult `json:"properties"`
	} `json:"result"`
}

// Submit POSTs a batch of events to {service_url} with the x-api-key header,
// gzip-compressing the JSON body (spec.md §6). Whatever the batch contains,
// when the response body is a result envelope with at least one element, the
// first element's properties are returned; otherwise the zero RunStartResult
// is returned.
func (c *Client) Submit(ctx context.Context, events []eventrecorder.Event) (RunStartResult, error) {
	body, err := json.Marshal(submitRequest{Logs: events})
	if err != nil {
		return RunStartResult{}, fmt.Errorf("transport: marshal submit body: %w", err)
	}

	respBody, err := c.postGzip(ctx, c.serviceURL, body)
	if err != nil {
		return RunStartResult{}, fmt.Errorf("transport: submit: %w", err)
	}
	if len(respBody) == 0 {
		return RunStartResult{}, nil
	}

	var envelope runStartResponseEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		// Not every submit response carries a start_new_run envelope; a
		// non-JSON or unrelated body is not an error condition.
		return RunStartResult{}, nil
	}
	if len(envelope.Result) == 0 {
		return RunStartResult{}, nil
	}
	return envelope.Result[0].Properties, nil
}

// stdoutCaptureRequest is the wire body for the stdout-capture endpoint
// (spec.md §6). The same endpoint is reused for stderr with isError=true,
// per spec.md §9's Open Question resolution.
type stdoutCaptureRequest struct {
	Lines   []string `json:"lines"`
	IsError bool     `json:"isError"`
}

// CaptureLines POSTs a batch of stdout (isError=false) or stderr
// (isError=true) lines to {service_url}/stdout-capture (spec.md §6, §9).
func (c *Client) CaptureLines(ctx context.Context, lines []string, isError bool) error {
	if len(lines) == 0 {
		return nil
	}
	body, err := json.Marshal(stdoutCaptureRequest{Lines: lines, IsError: isError})
	if err != nil {
		return fmt.Errorf("transport: marshal stdout-capture body: %w", err)
	}
	_, err = c.postGzip(ctx, c.serviceURL+"/stdout-capture", body)
	if err != nil {
		return fmt.Errorf("transport: stdout-capture: %w", err)
	}
	return nil
}

type presignedPutResponse struct {
	SignedURL string `json:"signedUrl"`
}

// UploadFile requests a presigned PUT URL for fileName, then PUTs r's
// contents to it with Content-Type: application/octet-stream (spec.md §6).
// It satisfies fswatcher.Uploader.
func (c *Client) UploadFile(ctx context.Context, fileName string, r io.Reader, size int64) error {
	presignURL := fmt.Sprintf("%s/upload/presigned-put?fileName=%s", c.serviceURL, fileName)

	// The collector expects a POST with an empty JSON body here, not a bare
	// GET (original_source/src/s3_upload/presigned_url_put.rs send_http_body).
	respBody, err := c.postGzip(ctx, presignURL, []byte("{}"))
	if err != nil {
		return fmt.Errorf("transport: request presigned url for %s: %w", fileName, err)
	}

	var presigned presignedPutResponse
	if err := json.Unmarshal(respBody, &presigned); err != nil {
		return fmt.Errorf("transport: decode presigned url response for %s: %w", fileName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presigned.SignedURL, r)
	if err != nil {
		return fmt.Errorf("transport: build PUT request for %s: %w", fileName, err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: PUT %s: %w", fileName, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: PUT %s: unexpected status %d", fileName, resp.StatusCode)
	}
	return nil
}

// postGzip POSTs a gzip-compressed body (when non-nil) to url with the
// x-api-key header, retrying transient failures with an exponential
// backoff for up to maxRetries retries after the first attempt (spec.md §7:
// "transient I/O — retry on next tick, no surfacing" generalized to a
// bounded in-call retry for every collector request, since a dropped batch
// is otherwise unrecoverable once drained).
func (c *Client) postGzip(ctx context.Context, url string, body []byte) ([]byte, error) {
	var respBody []byte

	operation := func() error {
		var reqBody io.Reader
		method := http.MethodGet
		if body != nil {
			var buf bytes.Buffer
			gz := gzip.NewWriter(&buf)
			if _, err := gz.Write(body); err != nil {
				return backoff.Permanent(fmt.Errorf("gzip compress: %w", err))
			}
			if err := gz.Close(); err != nil {
				return backoff.Permanent(fmt.Errorf("gzip close: %w", err))
			}
			reqBody = &buf
			method = http.MethodPost
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Content-Encoding", "gzip")
		}
		req.Header.Set("x-api-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // network errors are transient: retry
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error: status %d: %s", resp.StatusCode, data)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("client error: status %d: %s", resp.StatusCode, data))
		}

		respBody = data
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return respBody, nil
}
