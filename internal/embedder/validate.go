package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If EMBEDDING_MODEL matches any
// of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateConfig checks that the embedding configuration is usable before
// any client is constructed. It returns an error when the configuration is
// clearly broken (e.g. azure with no API key), and logs a warning when
// EMBEDDING_MODEL looks like a chat model rather than an embedding model.
//
// Call it at startup so operators get a clear error instead of a failure on
// the first embed call.
func ValidateConfig(log *slog.Logger) error {
	backend := Backend()

	switch backend {
	case "openai":
		if firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: no OpenAI API key found; set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}

	case "azure":
		if firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: no Azure API key found; set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT") == "" {
			return fmt.Errorf("embedder: no Azure endpoint found; set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}

	case "gemini":
		if firstEnv("EMBEDDING_API_KEY", "GEMINI_API_KEY") == "" {
			return fmt.Errorf("embedder: no Gemini API key found; set GEMINI_API_KEY or EMBEDDING_API_KEY")
		}

	case "ark":
		if firstEnv("EMBEDDING_API_KEY", "ARK_API_KEY") == "" {
			return fmt.Errorf("embedder: no Ark API key found; set ARK_API_KEY or EMBEDDING_API_KEY")
		}
		if os.Getenv("EMBEDDING_MODEL") == "" {
			return fmt.Errorf("embedder: ark needs EMBEDDING_MODEL set to the embedding endpoint ID")
		}

	case "ollama":

	default:
		return fmt.Errorf("embedder: unknown EMBEDDING_PROVIDER %q (valid: openai, azure, ollama, gemini, ark)", backend)
	}

	if v := os.Getenv("EMBEDDING_BATCH_SIZE"); v != "" && getEnvInt("EMBEDDING_BATCH_SIZE", 0) <= 0 {
		return fmt.Errorf("embedder: EMBEDDING_BATCH_SIZE must be a positive integer, got %q", v)
	}

	model := os.Getenv("EMBEDDING_MODEL")
	if model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model; "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. text-embedding-3-small, nomic-embed-text"),
		)
	}

	return nil
}
