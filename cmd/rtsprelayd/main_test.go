package main

import (
	"path/filepath"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/rtsprelay"
	"github.com/lanikai/rtsprelay/internal/store"
)

func TestAddThenManageStreams(t *testing.T) {
	config := rtsprelay.DefaultConfig()
	config.Database.Path = filepath.Join(t.TempDir(), "streams.db")

	st, err := store.Open(config.Database.Path, 0)
	require.NoError(t, err)
	require.NoError(t, addStreams(st, []string{"porch=rtsp://cam/porch", "yard=rtsp://cam/yard"}))
	assert.Error(t, addStreams(st, []string{"no-url"}))
	assert.Error(t, addStreams(st, []string{"web=http://cam/web"}))
	streams, err := st.List()
	require.NoError(t, err)
	require.Len(t, streams, 2)
	require.NoError(t, st.Close())

	// Without management flags nothing happens.
	managed, err := manage(config)
	require.NoError(t, err)
	assert.False(t, managed)

	var porch, yard uint
	for _, s := range streams {
		assert.True(t, s.IsActive)
		if s.Name == "porch" {
			porch = s.ID
		} else {
			yard = s.ID
		}
	}

	require.NoError(t, flag.CommandLine.Parse([]string{
		"--disable", store.SessionID(porch),
		"--remove", store.SessionID(yard),
		"--list",
	}))
	managed, err = manage(config)
	require.NoError(t, err)
	assert.True(t, managed)

	st, err = store.Open(config.Database.Path, 0)
	require.NoError(t, err)
	defer st.Close()
	streams, err = st.List()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "porch", streams[0].Name)
	assert.False(t, streams[0].IsActive)
}
