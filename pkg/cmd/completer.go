package cmd

import (
	"log/slog"

	"github.com/dukex/contentflow/pkg/config"
	"github.com/dukex/contentflow/pkg/llm"
	"github.com/redis/go-redis/v9"
)

// NewCompleter builds the completion chain: OpenAI, measured per call,
// retried with backoff, behind a cache (Redis when client is set, memory
// otherwise).
func NewCompleter(policy config.LLMPolicy, apiKey, baseURL string, client *redis.Client, metrics *llm.Metrics, logger *slog.Logger) (llm.Completer, error) {
	openai, err := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   policy.Model,
	})
	if err != nil {
		return nil, err
	}

	return wrapCompleter(openai, policy, client, metrics, logger), nil
}

func wrapCompleter(next llm.Completer, policy config.LLMPolicy, client *redis.Client, metrics *llm.Metrics, logger *slog.Logger) llm.Completer {
	retrying := llm.NewRetrying(llm.NewInstrumented(next, metrics), policy.Retry, logger)

	if policy.CacheTTL <= 0 {
		return retrying
	}

	var primary llm.Cache = llm.NewMemoryCache(policy.MaxCacheEntries)
	if client != nil {
		primary = llm.NewRedisCache(client, "contentflow:llm:")
	}

	return llm.NewCached(retrying, primary, policy.CacheTTL, policy.Model, logger).WithMetrics(metrics)
}
