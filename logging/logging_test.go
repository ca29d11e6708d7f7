package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreams(t *testing.T) {
	var ops, diag bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Diag: &diag})
	t.Cleanup(func() { SetLogWriters(LogWriters{}) })

	Opsf("started %d", 1)
	Diagf("cycle %d", 2)
	Tracef("packet %d", 3)

	assert.Contains(t, ops.String(), "[nav] ")
	assert.Contains(t, ops.String(), "started 1")
	assert.Contains(t, diag.String(), "cycle 2")
	assert.NotContains(t, ops.String(), "packet")
	assert.NotContains(t, diag.String(), "packet")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	t.Cleanup(func() { SetLogWriters(LogWriters{}) })

	require.NoError(t, SetLevel("trace", &buf))
	Tracef("frame")
	assert.Contains(t, buf.String(), "frame")

	buf.Reset()
	require.NoError(t, SetLevel("ops", &buf))
	Diagf("hidden")
	assert.Empty(t, buf.String())

	assert.Error(t, SetLevel("verbose", &buf))
}
