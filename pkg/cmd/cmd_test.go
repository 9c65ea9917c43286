package cmd

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/config"
	"github.com/dukex/contentflow/pkg/llm"
	"github.com/dukex/contentflow/pkg/lock"
	"github.com/dukex/contentflow/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := []struct {
		url      string
		expected string
		wantErr  bool
	}{
		{url: "file://./data", expected: "file"},
		{url: "./data", expected: "file"},
		{url: "sqlite://./contentflow.db", expected: "sqlite"},
		{url: "postgres://localhost/contentflow", expected: "postgres"},
		{url: "postgresql://localhost/contentflow", expected: "postgresql"},
		{url: "mysql://localhost/contentflow", wantErr: true},
		{url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			provider, err := parsePersistenceProvider(tt.url)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, provider)
		})
	}
}

func TestNewPersistence_File(t *testing.T) {
	p, err := NewPersistence(t.Context(), log.Discard(), "file://"+t.TempDir(), "")
	require.NoError(t, err)
	assert.NoError(t, p.HealthCheck(t.Context()))
	assert.NoError(t, p.Close(t.Context()))
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus("", nil, log.Discard())
	require.NoError(t, err)
	assert.NoError(t, bus.Close())

	_, err = NewEventBus("nats", nil, log.Discard())
	assert.Error(t, err)
}

func TestNewRedisClient_EmptyURL(t *testing.T) {
	client, err := NewRedisClient(t.Context(), "")
	require.NoError(t, err)
	assert.Nil(t, client)

	_, err = NewRedisClient(t.Context(), "not a url")
	assert.Error(t, err)
}

func TestNewLocker_WithoutRedisIsLocal(t *testing.T) {
	assert.IsType(t, &lock.Local{}, NewLocker(nil, log.Discard()))
}

func TestWrapCompleter_CachesReplies(t *testing.T) {
	scripted := llm.NewScripted().On("brief", `{"main_brief": "x"}`)
	policy := config.Default().LLM

	completer := wrapCompleter(scripted, policy, nil, nil, log.Discard())

	prompt := llm.Prompt{Name: "brief", User: "topic"}
	for range 3 {
		reply, err := completer.Complete(t.Context(), prompt)
		require.NoError(t, err)
		assert.JSONEq(t, `{"main_brief": "x"}`, reply)
	}

	assert.Equal(t, 1, scripted.CallCount("brief"))
}

func TestWrapCompleter_NoCacheWhenTTLIsZero(t *testing.T) {
	scripted := llm.NewScripted().On("brief", "ok")
	policy := config.Default().LLM
	policy.CacheTTL = 0

	completer := wrapCompleter(scripted, policy, nil, nil, log.Discard())

	for range 2 {
		_, err := completer.Complete(t.Context(), llm.Prompt{Name: "brief"})
		require.NoError(t, err)
	}

	assert.Equal(t, 2, scripted.CallCount("brief"))
}

func TestWrapCompleter_RetriesThenGivesUp(t *testing.T) {
	boom := errors.New("boom")
	scripted := llm.NewScripted().OnError("brief", boom)
	policy := config.Default().LLM
	policy.Retry.InitialInterval = time.Millisecond

	_, err := wrapCompleter(scripted, policy, nil, nil, log.Discard()).Complete(t.Context(), llm.Prompt{Name: "brief"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, policy.Retry.MaxAttempts, scripted.CallCount("brief"))
}

func TestNewPersistence_CreatesFileRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "data")

	p, err := NewPersistence(t.Context(), log.Discard(), "file://"+root, "")
	require.NoError(t, err)
	assert.NoError(t, p.HealthCheck(t.Context()))
	assert.DirExists(t, root)
}
