package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fired struct {
	key string
	gen uint64
}

func collect() (chan fired, func(string, uint64)) {
	ch := make(chan fired, 8)
	return ch, func(k string, g uint64) { ch <- fired{k, g} }
}

func TestFiresOnce(t *testing.T) {
	s := New[string]()
	ch, fn := collect()
	gen := s.Schedule("a", 10*time.Millisecond, fn)

	select {
	case f := <-ch:
		assert.Equal(t, fired{"a", gen}, f)
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	assert.True(t, s.Complete("a", gen))
	assert.False(t, s.Complete("a", gen), "second completion is a no-op")
	assert.Zero(t, s.Len())
}

func TestRescheduleReplaces(t *testing.T) {
	s := New[string]()
	ch, fn := collect()
	first := s.Schedule("a", 30*time.Millisecond, fn)
	second := s.Schedule("a", 80*time.Millisecond, fn)
	require.NotEqual(t, first, second)

	select {
	case f := <-ch:
		assert.Equal(t, second, f.gen, "only the replacement fires")
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	assert.False(t, s.Complete("a", first))
	assert.True(t, s.Complete("a", second))
}

func TestCancel(t *testing.T) {
	s := New[string]()
	ch, fn := collect()
	gen := s.Schedule("a", 20*time.Millisecond, fn)
	assert.True(t, s.Pending("a"))
	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))
	assert.False(t, s.Cancel("never"))

	select {
	case <-ch:
		t.Fatal("cancelled task fired")
	case <-time.After(60 * time.Millisecond):
	}
	assert.False(t, s.Complete("a", gen))
}

func TestCancelFunc(t *testing.T) {
	s := New[[2]string]()
	noop := func([2]string, uint64) {}
	s.Schedule([2]string{"r1", "u1"}, time.Minute, noop)
	s.Schedule([2]string{"r2", "u1"}, time.Minute, noop)
	s.Schedule([2]string{"r1", "u2"}, time.Minute, noop)

	n := s.CancelFunc(func(k [2]string) bool { return k[1] == "u1" })
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, s.Len())
	s.Stop()
	assert.Zero(t, s.Len())
}
