package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafscan/leafscan/internal/conf"
)

func TestRootCommandTree(t *testing.T) {
	root := RootCommand(&conf.Settings{})

	for _, path := range [][]string{
		{"serve"},
		{"sync"},
		{"health"},
		{"pending", "list"},
		{"pending", "process"},
		{"pending", "delete"},
		{"pending", "retry"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	for _, name := range []string{"config", "env", "debug"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "d", root.PersistentFlags().Lookup("debug").Shorthand)
}
