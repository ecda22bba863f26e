package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want level
	}{
		{"debug", levelDebug},
		{"TRACE", levelDebug},
		{" error ", levelError},
		{"info", levelInfo},
		{"", levelInfo},
		{"verbose", levelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestSetLevelGatesOutput(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	SetLevel("error")
	assert.False(t, enabled(levelInfo))
	assert.True(t, enabled(levelError))

	SetLevel("debug")
	assert.True(t, enabled(levelDebug))
	assert.True(t, enabled(levelInfo))
}

func TestPrefixTag(t *testing.T) {
	t.Cleanup(func() { SetPrefix("") })
	assert.Equal(t, "", tag())
	SetPrefix("relay")
	assert.Equal(t, "[relay] ", tag())
}
