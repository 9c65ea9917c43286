package llm_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/llm"
	"github.com/dukex/contentflow/pkg/log"
	"github.com/dukex/contentflow/pkg/otelhelper"
	"github.com/dukex/contentflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInstrumented_RecordsCallsAndCacheLookups(t *testing.T) {
	meter, reader := testutil.NewTestMeter(t)

	metrics, err := llm.NewMetrics(meter)
	require.NoError(t, err)

	scripted := llm.NewScripted().
		On("concepts", `{"concepts":[]}`).
		OnError("brief", errors.New("overloaded"))

	completer := llm.NewCached(llm.NewInstrumented(scripted, metrics), nil, time.Hour, "gpt-test", log.Discard()).
		WithMetrics(metrics)

	prompt := llm.Prompt{Name: "concepts", User: "topic"}

	for range 3 {
		_, err := completer.Complete(t.Context(), prompt)
		require.NoError(t, err)
	}

	_, err = completer.Complete(t.Context(), llm.Prompt{Name: "brief", User: "topic"})
	require.Error(t, err)

	concepts := attribute.String(otelhelper.PromptNameKey, "concepts")
	failed := attribute.String(otelhelper.OutcomeKey, "error")

	assert.Equal(t, int64(1), testutil.SumInt64(t, reader, llm.MetricRequests, concepts))
	assert.Equal(t, int64(1), testutil.SumInt64(t, reader, llm.MetricRequests, failed))
	assert.Equal(t, uint64(2), testutil.HistogramCount(t, reader, llm.MetricDuration))
	assert.Equal(t, int64(0), testutil.SumInt64(t, reader, llm.MetricActive))

	assert.Equal(t, int64(2), testutil.SumInt64(t, reader, llm.MetricCacheLookups,
		attribute.String(otelhelper.CacheResultKey, "hit")))
	assert.Equal(t, int64(2), testutil.SumInt64(t, reader, llm.MetricCacheLookups,
		attribute.String(otelhelper.CacheResultKey, "miss")))
}

func TestInstrumented_WithoutMetricsPassesThrough(t *testing.T) {
	scripted := llm.NewScripted().On("concepts", `{}`)

	out, err := llm.NewInstrumented(scripted, nil).Complete(t.Context(), llm.Prompt{Name: "concepts"})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, out)
}
