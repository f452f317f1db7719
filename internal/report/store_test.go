package report

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore_RoundTrip(t *testing.T) {
	s := NewDiskStore()
	t.Cleanup(func() { _ = s.Close() })

	in := &RunResult{
		ID:        "run-1",
		StartedAt: time.Now().UTC().Truncate(time.Second),
		Duration:  3 * time.Second,
		Cases:     []string{"pid", "single"},
		Records:   sampleRecords(),
	}
	require.NoError(t, s.Save(in))

	out, err := s.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDiskStore_Missing(t *testing.T) {
	s := NewDiskStore()
	t.Cleanup(func() { _ = s.Close() })
	_, err := s.Load("nope")
	assert.Error(t, err)
}

func TestDiskStore_RejectsPaths(t *testing.T) {
	s := NewDiskStore()
	t.Cleanup(func() { _ = s.Close() })
	_, err := s.Load("../etc/passwd")
	assert.Error(t, err)
	_, err = s.Load("")
	assert.Error(t, err)
}

// countingStore records loads to check the cache is consulted first.
type countingStore struct {
	runs  map[string]*RunResult
	loads int
}

func (c *countingStore) Save(r *RunResult) error {
	c.runs[r.ID] = r
	return nil
}

func (c *countingStore) Load(id string) (*RunResult, error) {
	c.loads++
	r, ok := c.runs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func TestLRUStore_HitAndEvict(t *testing.T) {
	back := &countingStore{runs: map[string]*RunResult{}}
	s := NewLRUStore(2, back)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(&RunResult{ID: id}))
	}
	assert.Equal(t, 2, s.Len())

	_, err := s.Load("c")
	require.NoError(t, err)
	assert.Zero(t, back.loads, "recent run served from cache")

	_, err = s.Load("a")
	require.NoError(t, err)
	assert.Equal(t, 1, back.loads, "evicted run loaded from backing store")
}

func TestLRUStore_Miss(t *testing.T) {
	s := NewLRUStore(0, &countingStore{runs: map[string]*RunResult{}})
	_, err := s.Load("x")
	assert.Error(t, err)
}
