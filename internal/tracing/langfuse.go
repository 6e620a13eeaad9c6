// Package tracing sends Eino embedding runs to Langfuse when LANGFUSE_PUBLIC_KEY
// and LANGFUSE_SECRET_KEY are set.
package tracing

import (
	"os"
	"sync"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/ragindex-go/internal/version"
)

const (
	defaultHost = "http://localhost:3000"
	traceName   = "ragindex"
)

var (
	registerOnce sync.Once
	flushFn      func()
	registered   bool
)

// ConfigFromEnv returns the Langfuse client config, or false when tracing is
// not configured.
func ConfigFromEnv() (*langfuse.Config, bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, false
	}
	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}
	return &langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      traceName,
		Release:   version.Version,
	}, true
}

// Register installs the Langfuse handler as a global Eino callback, once per
// process. The returned flush must run before exit so buffered traces are
// sent; it is a no-op when tracing is off.
func Register() (flush func(), enabled bool) {
	registerOnce.Do(func() {
		cfg, ok := ConfigFromEnv()
		if !ok {
			return
		}
		handler, f := langfuse.NewLangfuseHandler(cfg)
		callbacks.AppendGlobalHandlers(handler)
		flushFn, registered = f, true
	})
	if !registered {
		return func() {}, false
	}
	return flushFn, true
}
