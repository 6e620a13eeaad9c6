// Package queue carries document processing requests over NSQ. Producers
// publish a Request on Topic; a worker consumes them and runs each through
// the ingestion Processor.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/54b3r/ragindex-go/internal/extract"
	"github.com/54b3r/ragindex-go/internal/ingestion"
)

// Topic is the NSQ topic processing requests are published on.
const Topic = "document.process"

// DefaultChannel is the consumer channel used by workers.
const DefaultChannel = "ragindex"

// DefaultTouchInterval is half of nsqd's default msg timeout.
const DefaultTouchInterval = 30 * time.Second

// Request actions.
const (
	ActionProcess = "process"
	ActionPurge   = "purge"
)

// Request asks a worker to reprocess or purge one source.
type Request struct {
	// Action is ActionProcess (default) or ActionPurge.
	Action string `json:"action,omitempty"`
	// SourceID identifies the document.
	SourceID string `json:"source_id"`
	// DisplayName is optional.
	DisplayName string `json:"display_name,omitempty"`
	// Text is the extracted document text. When empty, Path is extracted
	// by the worker instead.
	Text string `json:"text,omitempty"`
	// Path is a file readable by the worker.
	Path string `json:"path,omitempty"`
	// CorrelationID ties worker logs back to the submitter.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Validate reports a request that can never succeed.
func (r Request) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return errors.New("source_id is required")
	}
	switch r.Action {
	case "", ActionProcess:
		if r.Text == "" && r.Path == "" {
			return errors.New("one of text or path is required")
		}
	case ActionPurge:
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
	return nil
}

// Publisher is the subset of *nsq.Producer used here.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Producer publishes Requests.
type Producer struct {
	pub Publisher
}

// NewProducer wraps pub.
func NewProducer(pub Publisher) *Producer {
	return &Producer{pub: pub}
}

// DialProducer connects an NSQ producer to nsqdAddr and pings it.
func DialProducer(nsqdAddr string, log *slog.Logger) (*Producer, *nsq.Producer, error) {
	p, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("queue: producer %s: %w", nsqdAddr, err)
	}
	if log != nil {
		p.SetLogger(slog.NewLogLogger(log.Handler(), slog.LevelWarn), nsq.LogLevelWarning)
	}
	if err := p.Ping(); err != nil {
		p.Stop()
		return nil, nil, fmt.Errorf("queue: ping nsqd %s: %w", nsqdAddr, err)
	}
	return NewProducer(p), p, nil
}

// Publish validates and publishes req.
func (p *Producer) Publish(req Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("queue: encode request: %w", err)
	}
	if err := p.pub.Publish(Topic, body); err != nil {
		return fmt.Errorf("queue: publish %s: %w", req.SourceID, err)
	}
	return nil
}

// Processor is the subset of *ingestion.Processor the handler drives.
type Processor interface {
	Process(ctx context.Context, doc ingestion.Document) ingestion.Result
	Purge(ctx context.Context, sourceID string) (int, error)
}

// HandlerConfig tunes the message handler.
type HandlerConfig struct {
	// Timeout bounds one message. Default 10m.
	Timeout time.Duration
	// MaxAttempts is the delivery count after which a failing message is
	// dropped instead of requeued. Default 5.
	MaxAttempts uint16
	// TouchInterval is how often an in-flight message is touched so nsqd
	// does not redeliver it while a long document is still processing. It
	// must stay below the consumer's msg timeout (nsqd default 60s).
	// Default 30s.
	TouchInterval time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Handler implements nsq.Handler for processing requests.
type Handler struct {
	proc Processor
	cfg  HandlerConfig
}

// NewHandler constructs a Handler around proc.
func NewHandler(proc Processor, cfg *HandlerConfig) *Handler {
	c := HandlerConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Minute
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.TouchInterval <= 0 {
		c.TouchInterval = DefaultTouchInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return &Handler{proc: proc, cfg: c}
}

// HandleMessage processes one request. Returning nil acknowledges the
// message; returning an error makes NSQ requeue it.
func (h *Handler) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var req Request
	if err := json.Unmarshal(m.Body, &req); err != nil {
		h.cfg.Logger.Error("queue: poison pill: invalid json", slog.String("error", err.Error()))
		return nil
	}
	log := h.cfg.Logger.With(
		slog.String("source_id", req.SourceID),
		slog.String("correlation_id", req.CorrelationID),
		slog.Int("attempt", int(m.Attempts)),
	)
	if err := req.Validate(); err != nil {
		log.Error("queue: dropping invalid request", slog.String("error", err.Error()))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Timeout)
	defer cancel()

	stopTouch := h.keepAlive(m)
	err := h.handle(ctx, log, req)
	stopTouch()
	if err == nil {
		return nil
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		log.Error("queue: dropping request", slog.String("error", err.Error()))
		return nil
	}
	if m.Attempts >= h.cfg.MaxAttempts {
		log.Error("queue: giving up after max attempts", slog.String("error", err.Error()))
		return nil
	}
	log.Warn("queue: requeueing request", slog.String("error", err.Error()))
	return err
}

// keepAlive touches m every TouchInterval until the returned func is called.
// Messages without a delegate (not received from nsqd) are left alone.
func (h *Handler) keepAlive(m *nsq.Message) func() {
	if m.Delegate == nil {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(h.cfg.TouchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.Touch()
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// permanentError marks failures a redelivery cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (h *Handler) handle(ctx context.Context, log *slog.Logger, req Request) error {
	if req.Action == ActionPurge {
		_, err := h.proc.Purge(ctx, req.SourceID)
		return err
	}

	doc := ingestion.Document{SourceID: req.SourceID, DisplayName: req.DisplayName, Text: req.Text}
	if doc.Text == "" {
		content, err := extract.File(req.Path, log)
		if err != nil {
			return &permanentError{err: err}
		}
		doc.Text, doc.Pages = content.Text, content.Pages
	}

	res := h.proc.Process(ctx, doc)
	switch {
	case res.Success:
		return nil
	case res.ChunksCreated == 0:
		return &permanentError{err: errors.New(res.Error)}
	default:
		return errors.New(res.Error)
	}
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// Channel defaults to DefaultChannel.
	Channel string
	// LookupdAddrs are nsqlookupd HTTP addresses. Takes precedence over NSQDAddr.
	LookupdAddrs []string
	// NSQDAddr is a direct nsqd TCP address.
	NSQDAddr string
	// Concurrency is the number of concurrent handlers. Default 4.
	Concurrency int
	// MaxInFlight defaults to Concurrency.
	MaxInFlight int
	// MsgTimeout asks nsqd for a longer per-message timeout. Zero keeps the
	// server default; nsqd caps it at its --max-msg-timeout.
	MsgTimeout time.Duration
}

// Consumer is a running NSQ consumer.
type Consumer struct {
	c *nsq.Consumer
}

// StartConsumer subscribes h to Topic and connects.
func StartConsumer(cfg ConsumerConfig, h *Handler) (*Consumer, error) {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = cfg.Concurrency
	}

	nc := nsq.NewConfig()
	nc.MaxInFlight = cfg.MaxInFlight
	nc.MaxAttempts = h.cfg.MaxAttempts
	if cfg.MsgTimeout > 0 {
		nc.MsgTimeout = cfg.MsgTimeout
	}

	c, err := nsq.NewConsumer(Topic, cfg.Channel, nc)
	if err != nil {
		return nil, fmt.Errorf("queue: consumer: %w", err)
	}
	c.SetLogger(slog.NewLogLogger(h.cfg.Logger.Handler(), slog.LevelWarn), nsq.LogLevelWarning)
	c.AddConcurrentHandlers(h, cfg.Concurrency)

	switch {
	case len(cfg.LookupdAddrs) > 0:
		err = c.ConnectToNSQLookupds(cfg.LookupdAddrs)
	case cfg.NSQDAddr != "":
		err = c.ConnectToNSQD(cfg.NSQDAddr)
	default:
		err = errors.New("no nsqlookupd or nsqd address configured")
	}
	if err != nil {
		c.Stop()
		return nil, fmt.Errorf("queue: connect: %w", err)
	}
	return &Consumer{c: c}, nil
}

// Stop drains in-flight messages and disconnects. It blocks until done or
// ctx expires.
func (c *Consumer) Stop(ctx context.Context) error {
	c.c.Stop()
	select {
	case <-c.c.StopChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
