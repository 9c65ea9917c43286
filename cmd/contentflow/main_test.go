package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukex/contentflow/pkg/services"
	"github.com/dukex/contentflow/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := newRootCommand()
	root.Writer = &out
	root.Reader = strings.NewReader(stdin)

	err := root.Run(t.Context(), append([]string{"contentflow", "--log-level", "error", "--openai-api-key", "test"}, args...))

	return out.String(), err
}

func TestMigrate_CreatesFileStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")

	_, err := run(t, "", "--database-url", "file://"+root, "migrate")
	require.NoError(t, err)
	assert.DirExists(t, root)
}

func TestMigrate_UnknownBackend(t *testing.T) {
	_, err := run(t, "", "--database-url", "mongodb://localhost", "migrate")
	require.ErrorContains(t, err, "unsupported persistence provider")
}

func TestState_UnknownThreadIsNotFound(t *testing.T) {
	_, err := run(t, "",
		"--database-url", "file://"+t.TempDir(),
		"--policy-file", filepath.Join(t.TempDir(), "missing.yaml"),
		"state", "--user", "user-1", "--thread", "nope",
	)
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
}

func TestUpdate_RequiresAChange(t *testing.T) {
	_, err := run(t, "",
		"--database-url", "file://"+t.TempDir(),
		"update", "--user", "user-1", "--thread", "t-1",
	)
	require.ErrorContains(t, err, "nothing to update")
}

func captureUpdate(t *testing.T, stdin string, args ...string) *state.Update {
	t.Helper()

	var captured *state.Update

	command := &cli.Command{
		Name: "capture",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "concept"},
			&cli.StringSliceFlag{Name: "subtopic"},
			inputFlag(),
		},
		Reader: strings.NewReader(stdin),
		Action: func(_ context.Context, command *cli.Command) error {
			u, err := updateFromFlags(command)
			captured = u

			return err
		},
	}

	require.NoError(t, command.Run(t.Context(), append([]string{"capture"}, args...)))

	return captured
}

func TestUpdateFromFlags(t *testing.T) {
	t.Run("no flags means no update", func(t *testing.T) {
		assert.Nil(t, captureUpdate(t, ""))
	})

	t.Run("selection flags", func(t *testing.T) {
		u := captureUpdate(t, "", "--concept", "c-1", "--subtopic", "s-1", "--subtopic", "s-2")
		require.NotNil(t, u)
		assert.Equal(t, state.Some("c-1"), u.SelectedConceptID)
		assert.Equal(t, state.Some([]string{"s-1", "s-2"}), u.SelectedSubtopicIDs)
	})

	t.Run("stdin input merged with flags", func(t *testing.T) {
		u := captureUpdate(t, `{"topic": "new topic"}`, "--input", "-", "--concept", "c-2")
		require.NotNil(t, u)
		assert.Equal(t, state.Some("new topic"), u.Topic)
		assert.Equal(t, state.Some("c-2"), u.SelectedConceptID)
	})

	t.Run("input file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "update.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"selected_subtopic_ids": []}`), 0o600))

		u := captureUpdate(t, "", "--input", path)
		require.NotNil(t, u)
		assert.True(t, u.SelectedSubtopicIDs.Set)
		assert.Empty(t, u.SelectedSubtopicIDs.Value)
	})
}
