// Package fetcher retrieves source documents, card backs, and metadata JSON.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aluiziolira/go-pnp-cards/artifact"
	"github.com/aluiziolira/go-pnp-cards/config"
	"github.com/aluiziolira/go-pnp-cards/metrics"
	"github.com/gocolly/colly/v2"
)

// Request kinds used as metric labels.
const (
	KindBytes = "bytes"
	KindJSON  = "json"
)

const (
	ctxStart  = "start"
	ctxBody   = "body"
	ctxStatus = "status"
	ctxErr    = "error"
)

// Fetcher issues sequential HTTP GETs through a synchronous colly collector.
// There is no retry: callers abort the run on the first failure and rely on
// the on-disk cache and stage checks to resume.
type Fetcher struct {
	collector *colly.Collector
	metrics   *metrics.Metrics

	transport *ctxTransport

	mu           sync.Mutex
	handlersOnce sync.Once
}

// ctxTransport binds each request to the context of the fetch in flight, so
// cancelling the run interrupts a download. The collector takes no context
// of its own.
type ctxTransport struct {
	base http.RoundTripper
	// ctx is only touched by get while Fetcher.mu is held.
	ctx context.Context
}

func (t *ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.ctx != nil {
		req = req.WithContext(t.ctx)
	}
	return t.base.RoundTrip(req)
}

// New builds a fetcher configured from cfg.
func New(cfg *config.Config, m *metrics.Metrics) *Fetcher {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
	)
	collector.IgnoreRobotsTxt = true
	// Status codes are checked in OnResponse; colly alone rejects 203 and up.
	collector.ParseHTTPErrorResponse = true
	// Zero disables the client timeout; source PDFs can take minutes.
	collector.SetRequestTimeout(cfg.Timeout)
	transport := &ctxTransport{base: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}}
	collector.WithTransport(transport)

	return &Fetcher{
		collector: collector,
		metrics:   m,
		transport: transport,
	}
}

// WithTransport swaps the HTTP transport, used to inject test doubles.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transport.base = rt
}

// FetchBytes returns the raw body of url.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return f.get(ctx, url, KindBytes)
}

// FetchJSON returns the body of url after checking it is valid JSON.
func (f *Fetcher) FetchJSON(ctx context.Context, url string) (json.RawMessage, error) {
	body, err := f.get(ctx, url, KindJSON)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		err := &Failure{Cause: CauseDecode, Err: errors.New("response body is not valid JSON")}
		f.metrics.IncError(ErrorTypeLabel(err))
		return nil, &TransportError{URL: url, Err: err}
	}
	return json.RawMessage(trimmed), nil
}

// Download stores the body of url at dest unless dest already exists.
func (f *Fetcher) Download(ctx context.Context, url, dest string) (string, error) {
	exists, err := artifact.Exists(dest)
	if err != nil {
		return "", err
	}
	if exists {
		slog.Info("already downloaded, skipping", slog.String("path", dest))
		f.metrics.IncStage("download", "skipped")
		return dest, nil
	}

	slog.Info("downloading", slog.String("url", url), slog.String("path", dest))
	body, err := f.FetchBytes(ctx, url)
	if err != nil {
		return "", err
	}
	if err := artifact.WriteFileAtomic(dest, body); err != nil {
		return "", err
	}
	f.metrics.IncStage("download", "built")
	return dest, nil
}

func (f *Fetcher) get(ctx context.Context, url, kind string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{URL: url, Err: classifyError(err, 0)}
	}
	f.configureHandlers()

	// The collector's callbacks are shared, so requests are serialised.
	f.mu.Lock()
	defer f.mu.Unlock()

	f.transport.ctx = ctx
	defer func() { f.transport.ctx = nil }()

	reqCtx := colly.NewContext()
	reqCtx.Put(ctxStart, time.Now())
	f.metrics.IncRequest(kind)

	visitErr := f.collector.Request(http.MethodGet, url, nil, reqCtx, nil)

	status, _ := reqCtx.GetAny(ctxStatus).(int)
	if cbErr, ok := reqCtx.GetAny(ctxErr).(error); ok && cbErr != nil {
		visitErr = cbErr
	}
	if visitErr != nil {
		classified := classifyError(visitErr, status)
		category := ErrorTypeLabel(classified)
		slog.Error("request error",
			slog.String("url", url),
			slog.Int("status", status),
			slog.String("category", category),
			slog.Any("error", visitErr),
		)
		f.metrics.IncError(category)
		return nil, &TransportError{URL: url, StatusCode: status, Err: classified}
	}

	body, ok := reqCtx.GetAny(ctxBody).([]byte)
	if !ok {
		err := &Failure{Cause: CauseDecode, Err: errors.New("no response body captured")}
		f.metrics.IncError(ErrorTypeLabel(err))
		return nil, &TransportError{URL: url, StatusCode: status, Err: err}
	}
	return body, nil
}

func (f *Fetcher) configureHandlers() {
	f.handlersOnce.Do(func() {
		f.collector.OnRequest(func(r *colly.Request) {
			slog.Debug("fetch", slog.String("url", r.URL.String()))
		})

		f.collector.OnResponse(func(r *colly.Response) {
			r.Ctx.Put(ctxStatus, r.StatusCode)
			if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
				f.metrics.ObserveDuration(time.Since(start))
			}
			if r.StatusCode/100 != 2 {
				r.Ctx.Put(ctxErr, fmt.Errorf("http status %d", r.StatusCode))
				return
			}
			r.Ctx.Put(ctxBody, r.Body)
		})

		f.collector.OnError(func(r *colly.Response, err error) {
			if r == nil || r.Ctx == nil {
				return
			}
			if r.StatusCode != 0 {
				r.Ctx.Put(ctxStatus, r.StatusCode)
			}
			if err == nil {
				err = fmt.Errorf("http status %d", r.StatusCode)
			}
			r.Ctx.Put(ctxErr, err)
		})
	})
}
