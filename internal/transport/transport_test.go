package transport_test

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tracerbio/tracer/internal/eventrecorder"
	"github.com/tracerbio/tracer/internal/transport"
)

func decodeGzipBody(t *testing.T, r *http.Request) []byte {
	t.Helper()
	if r.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", r.Header.Get("Content-Encoding"))
	}
	gz, err := gzip.NewReader(r.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read gzip body: %v", err)
	}
	return data
}

func TestSubmit_SendsGzippedLogsWithAPIKeyHeader(t *testing.T) {
	var gotAPIKey string
	var gotBody []byte
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("x-api-key")
		gotPath = r.URL.Path
		gotBody = decodeGzipBody(t, r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "secret-key")
	events := []eventrecorder.Event{
		eventrecorder.NewEvent(time.Now(), eventrecorder.StatusToolExecution, "started fastqc", nil),
	}

	if _, err := c.Submit(context.Background(), events); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gotAPIKey != "secret-key" {
		t.Errorf("x-api-key = %q, want secret-key", gotAPIKey)
	}
	if gotPath != "/" {
		t.Errorf("path = %q, want /", gotPath)
	}
	var decoded struct {
		Logs []eventrecorder.Event `json:"logs"`
	}
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if len(decoded.Logs) != 1 || decoded.Logs[0].Message != "started fastqc" {
		t.Errorf("decoded.Logs = %+v", decoded.Logs)
	}
}

func TestSubmit_StripsLegacyURLSubstring(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := transport.New(srv.URL+"/data-collector-api/submit", "key")
	if _, err := c.Submit(context.Background(), nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gotPath != "/submit" {
		t.Errorf("path = %q, want /submit (legacy substring stripped)", gotPath)
	}
}

func TestSubmit_DecodesRunStartResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"result":[{"properties":{"run_name":"run-1","run_id":"abc","service_name":"svc"}}]}`)
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "key")
	result, err := c.Submit(context.Background(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.RunName != "run-1" || result.RunID != "abc" || result.ServiceName != "svc" {
		t.Errorf("result = %+v", result)
	}
}

func TestCaptureLines_PostsToStdoutCaptureEndpoint(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = decodeGzipBody(t, r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "key")
	if err := c.CaptureLines(context.Background(), []string{"panic: boom"}, true); err != nil {
		t.Fatalf("CaptureLines: %v", err)
	}
	if gotPath != "/stdout-capture" {
		t.Errorf("path = %q, want /stdout-capture", gotPath)
	}
	if !strings.Contains(string(gotBody), `"isError":true`) {
		t.Errorf("body = %s, want isError:true", gotBody)
	}
}

func TestCaptureLines_EmptyIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "key")
	if err := c.CaptureLines(context.Background(), nil, false); err != nil {
		t.Fatalf("CaptureLines: %v", err)
	}
	if called {
		t.Error("expected no request for an empty line batch")
	}
}

func TestUploadFile_RequestsPresignedURLThenPUTs(t *testing.T) {
	var putBody []byte
	var putContentType string
	var gotFileName string

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/upload/presigned-put"):
			gotFileName = r.URL.Query().Get("fileName")
			io.WriteString(w, `{"signedUrl":"`+srv.URL+`/put-target"}`)
		case r.URL.Path == "/put-target":
			putContentType = r.Header.Get("Content-Type")
			data, _ := io.ReadAll(r.Body)
			putBody = data
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "key")
	if err := c.UploadFile(context.Background(), "out.log", strings.NewReader("hello world"), 11); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if gotFileName != "out.log" {
		t.Errorf("fileName query = %q, want out.log", gotFileName)
	}
	if string(putBody) != "hello world" {
		t.Errorf("putBody = %q, want %q", putBody, "hello world")
	}
	if putContentType != "application/octet-stream" {
		t.Errorf("Content-Type = %q, want application/octet-stream", putContentType)
	}
}
