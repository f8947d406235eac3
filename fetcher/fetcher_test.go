package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-pnp-cards/config"
	"github.com/aluiziolira/go-pnp-cards/metrics"
	"github.com/jarcoal/httpmock"
)

const testURL = "https://cards.example.test/api/2.0/public/card/01001"

func newTestFetcher(t *testing.T) (*Fetcher, *httpmock.MockTransport, *metrics.Metrics) {
	t.Helper()
	cfg := config.DefaultConfig()
	m := metrics.New()
	f := New(cfg, m)
	transport := httpmock.NewMockTransport()
	f.WithTransport(transport)
	return f, transport, m
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: nil, statusCode: http.StatusBadGateway, expected: "status"},
		{name: "cancelled", err: context.Canceled, statusCode: 0, expected: "cancelled"},
		{name: "partial content is not a failure", err: nil, statusCode: http.StatusPartialContent, expected: "unknown"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFetchJSONReturnsBody(t *testing.T) {
	f, transport, m := newTestFetcher(t)
	transport.RegisterResponder("GET", testURL,
		httpmock.NewStringResponder(200, ` {"data":[{"code":"01001"}]} `))

	raw, err := f.FetchJSON(context.Background(), testURL)
	if err != nil {
		t.Fatalf("fetch json: %v", err)
	}
	if got := string(raw); got != `{"data":[{"code":"01001"}]}` {
		t.Fatalf("body = %q", got)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if got := m.Snapshot()["pnp_http_requests_total{kind=json}"]; got != 1 {
		t.Fatalf("json requests = %v, want 1", got)
	}
}

func TestFetchJSONRejectsInvalidBody(t *testing.T) {
	f, transport, m := newTestFetcher(t)
	transport.RegisterResponder("GET", testURL, httpmock.NewStringResponder(200, "<html>maintenance</html>"))

	_, err := f.FetchJSON(context.Background(), testURL)
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %v, want TransportError", err)
	}
	var failure *Failure
	if !errors.As(err, &failure) || failure.Cause != CauseDecode {
		t.Fatalf("error = %v, want decode failure", err)
	}
	if got := m.Snapshot()["pnp_http_errors_total{error_type=decode}"]; got != 1 {
		t.Fatalf("decode errors = %v, want 1", got)
	}
}

func TestFetchStatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected string
	}{
		{name: "forbidden", status: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", status: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", status: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", status: http.StatusInternalServerError, expected: "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, transport, m := newTestFetcher(t)
			transport.RegisterResponder("GET", testURL, httpmock.NewStringResponder(tt.status, ""))

			_, err := f.FetchBytes(context.Background(), testURL)
			var tErr *TransportError
			if !errors.As(err, &tErr) {
				t.Fatalf("error = %v, want TransportError", err)
			}
			if tErr.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", tErr.StatusCode, tt.status)
			}
			if got := ErrorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q", got, tt.expected)
			}
			if got := m.Snapshot()["pnp_http_errors_total{error_type="+tt.expected+"}"]; got != 1 {
				t.Fatalf("error metric = %v, want 1", got)
			}
		})
	}
}

func TestFetchHonoursCancelledContext(t *testing.T) {
	f, transport, _ := newTestFetcher(t)
	transport.RegisterResponder("GET", testURL, httpmock.NewStringResponder(200, "{}"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.FetchBytes(ctx, testURL); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("calls = %d, want 0", got)
	}
}

func TestFetchAcceptsAnySuccessStatus(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNonAuthoritativeInfo, http.StatusPartialContent} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			f, transport, m := newTestFetcher(t)
			transport.RegisterResponder("GET", testURL, httpmock.NewStringResponder(status, "%PDF-1.7"))

			body, err := f.FetchBytes(context.Background(), testURL)
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if string(body) != "%PDF-1.7" {
				t.Fatalf("body = %q", body)
			}
			if got := m.Snapshot()["pnp_http_errors_total"]; got != 0 {
				t.Fatalf("errors = %v, want 0", got)
			}
		})
	}
}

func TestFetchCancelledWhileInFlight(t *testing.T) {
	f, transport, m := newTestFetcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport.RegisterResponder("GET", testURL, func(req *http.Request) (*http.Response, error) {
		cancel()
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(2 * time.Second):
			return httpmock.NewStringResponse(200, "late"), nil
		}
	})

	_, err := f.FetchBytes(ctx, testURL)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if got := ErrorTypeLabel(err); got != "cancelled" {
		t.Fatalf("label = %q, want cancelled", got)
	}
	if got := m.Snapshot()["pnp_http_errors_total{error_type=cancelled}"]; got != 1 {
		t.Fatalf("cancelled errors = %v, want 1", got)
	}
}

func TestDownloadWritesOnceAndSkipsExisting(t *testing.T) {
	f, transport, m := newTestFetcher(t)
	url := "https://cards.example.test/set.pdf"
	transport.RegisterResponder("GET", url, httpmock.NewBytesResponder(200, []byte("%PDF-1.7 fake")))

	dest := filepath.Join(t.TempDir(), "sg", "download", "set.pdf")
	for i := 0; i < 2; i++ {
		got, err := f.Download(context.Background(), url, dest)
		if err != nil {
			t.Fatalf("download %d: %v", i, err)
		}
		if got != dest {
			t.Fatalf("path = %q, want %q", got, dest)
		}
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "%PDF-1.7 fake" {
		t.Fatalf("content = %q", data)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	snap := m.Snapshot()
	if snap["pnp_stage_runs_total{outcome=built}"] != 1 || snap["pnp_stage_runs_total{outcome=skipped}"] != 1 {
		t.Fatalf("stage metrics = %v", snap)
	}
}

func TestDownloadFailureLeavesNoFile(t *testing.T) {
	f, transport, _ := newTestFetcher(t)
	url := "https://cards.example.test/missing.pdf"
	transport.RegisterResponder("GET", url, httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	dest := filepath.Join(t.TempDir(), "download", "set.pdf")
	if _, err := f.Download(context.Background(), url, dest); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stat = %v, want not exist", err)
	}
}
