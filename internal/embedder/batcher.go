package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/54b3r/ragindex-go/internal/metrics"
	"github.com/54b3r/ragindex-go/internal/rag"
)

// Batcher defaults.
const (
	DefaultBatchSize = 16
	DefaultMaxChars  = 30000
)

// ErrMalformedResponse is wrapped when a provider response cannot be aligned
// with its request: missing, duplicate or out-of-range indices, or vectors of
// the wrong dimension.
var ErrMalformedResponse = errors.New("embedder: malformed embedding response")

// BatcherConfig holds the settings for constructing a Batcher.
type BatcherConfig struct {
	// BatchSize is the number of texts per remote call (default 16).
	BatchSize int

	// MaxChars truncates each text to this many characters (default 30000).
	MaxChars int

	// Dimensions, when positive, is the required length of every vector.
	Dimensions int

	// Concurrency is the number of groups embedded at once. Values below 2
	// embed groups one after another.
	Concurrency int

	// RequestsPerSecond throttles remote calls client-side. Zero disables it.
	RequestsPerSecond float64

	// Retry is the per-group retry policy. Unset fields take defaults.
	Retry RetryPolicy

	// Logger receives retry and failure logs. Nil means slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Batcher turns an ordered list of texts into an equally long list of
// vectors by calling a rag.Embedder in fixed-size groups. Each group is
// retried independently and is all-or-nothing.
type Batcher struct {
	provider rag.Embedder
	cfg      BatcherConfig
	log      *slog.Logger

	// pool runs groups concurrently; nil when Concurrency < 2.
	pool *ants.Pool
	// limiter throttles remote calls; nil when unthrottled.
	limiter *rate.Limiter
	// sleep waits between retries; replaced in tests.
	sleep sleepFunc
}

// NewBatcher constructs a Batcher. Call Release when done if Concurrency > 1.
func NewBatcher(provider rag.Embedder, cfg *BatcherConfig) (*Batcher, error) {
	if provider == nil {
		return nil, errors.New("embedder: batcher requires a provider")
	}
	c := BatcherConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	c.Retry = c.Retry.withDefaults()

	b := &Batcher{
		provider: provider,
		cfg:      c,
		log:      c.Logger,
		sleep:    sleepCtx,
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	if c.RequestsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), 1)
	}
	if c.Concurrency > 1 {
		pool, err := ants.NewPool(c.Concurrency)
		if err != nil {
			return nil, fmt.Errorf("embedder: create worker pool: %w", err)
		}
		b.pool = pool
	}
	return b, nil
}

// Release frees the worker pool, if any.
func (b *Batcher) Release() {
	if b.pool != nil {
		b.pool.Release()
	}
}

// Embed returns one vector per input text, aligned by position. When some
// groups fail, their positions are nil and the error is a *GroupError; the
// vectors of successful groups are still returned.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	prepared := make([]string, len(texts))
	for i, t := range texts {
		prepared[i] = b.sanitize(t)
	}

	groups := partition(len(prepared), b.cfg.BatchSize)
	vectors := make([][]float32, len(prepared))
	failures := make([]*GroupFailure, len(groups))

	run := func(g int) {
		start, end := groups[g][0], groups[g][1]
		vecs, err := b.embedGroup(ctx, g, prepared[start:end])
		if err != nil {
			failures[g] = &GroupFailure{Group: g, Start: start, End: end, Err: err}
			b.cfg.Metrics.EmbedGroupFailed()
			b.log.Error("embedder: group failed",
				slog.Int("group", g),
				slog.Int("start", start),
				slog.Int("end", end),
				slog.String("error", err.Error()),
			)
			return
		}
		copy(vectors[start:end], vecs)
	}

	if b.pool == nil {
		for g := range groups {
			if err := ctx.Err(); err != nil {
				failures[g] = &GroupFailure{Group: g, Start: groups[g][0], End: groups[g][1], Err: err}
				continue
			}
			run(g)
		}
	} else {
		var wg sync.WaitGroup
		for g := range groups {
			if err := ctx.Err(); err != nil {
				failures[g] = &GroupFailure{Group: g, Start: groups[g][0], End: groups[g][1], Err: err}
				continue
			}
			wg.Add(1)
			if err := b.pool.Submit(func() {
				defer wg.Done()
				run(g)
			}); err != nil {
				wg.Done()
				failures[g] = &GroupFailure{Group: g, Start: groups[g][0], End: groups[g][1], Err: err}
			}
		}
		wg.Wait()
	}

	var failed []*GroupFailure
	for _, f := range failures {
		if f != nil {
			failed = append(failed, f)
		}
	}
	if len(failed) > 0 {
		return vectors, &GroupError{Failures: failed}
	}
	return vectors, nil
}

// embedGroup embeds one group under the retry policy.
func (b *Batcher) embedGroup(ctx context.Context, group int, texts []string) ([][]float32, error) {
	var out [][]float32

	err := b.cfg.Retry.do(ctx, b.sleep, func(ctx context.Context) error {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		embs, err := b.provider.Embed(ctx, texts)
		if err != nil {
			return err
		}
		vecs, err := b.align(embs, len(texts))
		if err != nil {
			return err
		}
		out = vecs
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		b.cfg.Metrics.EmbedCall(metrics.OutcomeRetry)
		b.cfg.Metrics.RetryWait(delay)
		b.log.Warn("embedder: retrying group",
			slog.Int("group", group),
			slog.Int("attempt", attempt),
			slog.Duration("wait", delay),
			slog.String("error", err.Error()),
		)
	})
	if err != nil {
		b.cfg.Metrics.EmbedCall(metrics.OutcomeError)
		return nil, err
	}
	b.cfg.Metrics.EmbedCall(metrics.OutcomeOK)
	return out, nil
}

// align places each returned embedding at the position its Index names.
func (b *Batcher) align(embs []rag.Embedding, n int) ([][]float32, error) {
	if len(embs) != n {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrMalformedResponse, n, len(embs))
	}
	out := make([][]float32, n)
	for _, e := range embs {
		if e.Index < 0 || e.Index >= n {
			return nil, fmt.Errorf("%w: index %d out of range [0, %d)", ErrMalformedResponse, e.Index, n)
		}
		if out[e.Index] != nil {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrMalformedResponse, e.Index)
		}
		if len(e.Vector) == 0 {
			return nil, fmt.Errorf("%w: empty vector at index %d", ErrMalformedResponse, e.Index)
		}
		if b.cfg.Dimensions > 0 && len(e.Vector) != b.cfg.Dimensions {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d",
				ErrMalformedResponse, e.Index, len(e.Vector), b.cfg.Dimensions)
		}
		out[e.Index] = e.Vector
	}
	return out, nil
}

// sanitize replaces blank text with a single space and truncates to MaxChars
// characters.
func (b *Batcher) sanitize(text string) string {
	if strings.TrimSpace(text) == "" {
		return " "
	}
	if utf8.RuneCountInString(text) <= b.cfg.MaxChars {
		return text
	}
	n := 0
	for i := range text {
		if n == b.cfg.MaxChars {
			return text[:i]
		}
		n++
	}
	return text
}

// partition splits [0, n) into contiguous [start, end) ranges of at most size.
func partition(n, size int) [][2]int {
	groups := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		groups = append(groups, [2]int{start, min(start+size, n)})
	}
	return groups
}
