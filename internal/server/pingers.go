package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/54b3r/ragindex-go/internal/rag"
)

// StorePinger probes the configured index store. It satisfies the Pinger
// interface and is used by GET /api/ready.
type StorePinger struct {
	// store is the index backend to probe.
	store rag.Pinger
	// name identifies the backend in readiness responses (e.g. "qdrant").
	name string
}

// NewStorePinger constructs a StorePinger for store, labelled name.
func NewStorePinger(store rag.Pinger, name string) *StorePinger {
	return &StorePinger{store: store, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *StorePinger) Name() string { return p.name }

// Ping delegates to the store's own reachability check.
func (p *StorePinger) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}

// HTTPPinger probes a dependency with a GET request and treats any 2xx as
// healthy. It is used for embedding endpoints that expose a cheap listing
// route (e.g. Ollama's /api/tags), so readiness checks never spend tokens.
type HTTPPinger struct {
	// name identifies the dependency in readiness responses.
	name string
	// url is the probe target.
	url string
	// header is added to every probe request.
	header http.Header
	// client performs the probe.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger. header may be nil.
func NewHTTPPinger(name, url string, header http.Header) *HTTPPinger {
	return &HTTPPinger{name: name, url: url, header: header, client: &http.Client{}}
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues the probe request.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe: %w", err)
	}
	for k, vs := range p.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned %d", resp.StatusCode)
	}
	return nil
}

// FuncPinger adapts a plain check function, e.g. (*nsq.Producer).Ping.
type FuncPinger struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncPinger constructs a FuncPinger.
func NewFuncPinger(name string, fn func(ctx context.Context) error) *FuncPinger {
	return &FuncPinger{name: name, fn: fn}
}

// Name returns the dependency label used in readiness responses.
func (p *FuncPinger) Name() string { return p.name }

// Ping runs the check.
func (p *FuncPinger) Ping(ctx context.Context) error { return p.fn(ctx) }
