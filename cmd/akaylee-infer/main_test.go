/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: main_test.go
Description: Tests for command wiring and flag binding.
*/

package main

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	root := newRootCommand()

	for _, name := range []string{"infer", "score", "plugins", "logs"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestFlagsBindToViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	root := newRootCommand()

	infer, _, err := root.Find([]string{"infer"})
	require.NoError(t, err)
	require.NoError(t, infer.Flags().Set("max-depth", "3"))
	require.NoError(t, root.PersistentFlags().Set("transport", "tcp"))

	assert.True(t, viper.IsSet("inference.max_depth"))
	assert.Equal(t, 3, viper.GetInt("inference.max_depth"))
	assert.Equal(t, "tcp", viper.GetString("source.transport"))
	assert.False(t, viper.IsSet("inference.top_k"))
	assert.Equal(t, 10, viper.GetInt("inference.top_k"))
}

func TestScoreRequiresHypothesis(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	root := newRootCommand()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"score", "frames.hex"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hypothesis")
}
