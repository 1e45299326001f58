package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdFlags(t *testing.T) {
	flags := newRootCmd().Flags()

	stall := flags.Lookup("stall-timeout")
	require.NotNil(t, stall)
	assert.Contains(t, stall.Usage, "sends nothing")
	assert.Equal(t, "2m0s", stall.DefValue)

	for _, name := range []string{"dryrun", "exclude", "concurrency", "max-attempts", "tier", "no-rapid-upload", "result-json-file"} {
		assert.NotNil(t, flags.Lookup(name), name)
	}
}
