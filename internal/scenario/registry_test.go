package scenario

import (
	"errors"
	"sync"
	"testing"

	"pgharness/internal/fixerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type thing struct{ id int }

func TestGetOrCreateBuildsOnce(t *testing.T) {
	r := NewRegistry()
	calls := 0
	factory := func() (*thing, error) {
		calls++
		return &thing{id: calls}, nil
	}

	first, err := GetOrCreate(r, "pgtwixt", factory)
	require.NoError(t, err)
	second, err := GetOrCreate(r, "pgtwixt", factory)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"pgtwixt"}, r.Names())
}

func TestGetOrCreateConcurrent(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	calls := 0

	var wg sync.WaitGroup
	results := make([]*thing, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := GetOrCreate(r, "postgres", func() (*thing, error) {
				mu.Lock()
				defer mu.Unlock()
				calls++
				return &thing{}, nil
			})
			assert.NoError(t, err)
			results[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	for _, h := range results {
		assert.Same(t, results[0], h)
	}
}

func TestGetOrCreateFailureLeavesNameAbsent(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("initdb failed")

	_, err := GetOrCreate(r, "postgres", func() (*thing, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Len())

	_, err = Lookup[*thing](r, "postgres")
	assert.ErrorIs(t, err, fixerr.ErrNotFound)

	h, err := GetOrCreate(r, "postgres", func() (*thing, error) { return &thing{id: 7}, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, h.id)
}

func TestTypeMismatchIsUsageError(t *testing.T) {
	r := NewRegistry()
	_, err := GetOrCreate(r, "pgtwixt", func() (*thing, error) { return &thing{}, nil })
	require.NoError(t, err)

	_, err = GetOrCreate(r, "pgtwixt", func() (string, error) { return "x", nil })
	assert.ErrorIs(t, err, fixerr.ErrUsage)

	_, err = Lookup[string](r, "pgtwixt")
	assert.ErrorIs(t, err, fixerr.ErrUsage)
}
