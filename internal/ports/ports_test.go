package ports

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"pgharness/internal/fixerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveEphemeral(t *testing.T) {
	a := New(Options{})

	p1, err := a.Reserve("scenario-a")
	require.NoError(t, err)
	p2, err := a.Reserve("scenario-a")
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.Equal(t, 2, a.Reserved())

	owner, ok := a.Owner(p1)
	assert.True(t, ok)
	assert.Equal(t, "scenario-a", owner)

	// The reserved port is not bound by the allocator.
	ln, err := net.Listen("tcp", Address(DefaultHost, p1))
	require.NoError(t, err)
	ln.Close()
}

func TestReleaseRequiresOwner(t *testing.T) {
	a := New(Options{})

	port, err := a.Reserve("owner")
	require.NoError(t, err)

	assert.False(t, a.Release(port, "someone-else"))
	assert.Equal(t, 1, a.Reserved())

	assert.True(t, a.Release(port, "owner"))
	assert.Equal(t, 0, a.Reserved())

	assert.False(t, a.Release(port, "owner"), "second release is a no-op")
}

func TestEphemeralSkipsReservedPorts(t *testing.T) {
	a := New(Options{})
	calls := 0
	a.probe = func(host string, port int) (int, error) {
		calls++
		if calls <= 2 {
			return 41000, nil
		}
		return 41001, nil
	}

	p1, err := a.Reserve("a")
	require.NoError(t, err)
	assert.Equal(t, 41000, p1)

	p2, err := a.Reserve("b")
	require.NoError(t, err)
	assert.Equal(t, 41001, p2)
}

func TestReserveFromRange(t *testing.T) {
	a := New(Options{BasePort: 20000, Range: 5})
	busy := map[int]bool{20001: true}
	a.probe = func(host string, port int) (int, error) {
		if busy[port] {
			return 0, errors.New("address already in use")
		}
		return port, nil
	}

	got := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		port, err := a.Reserve(fmt.Sprintf("owner-%d", i))
		require.NoError(t, err)
		got = append(got, port)
	}
	assert.Equal(t, []int{20000, 20002, 20003, 20004}, got)

	_, err := a.Reserve("overflow")
	require.Error(t, err)
	assert.ErrorIs(t, err, fixerr.ErrNetwork)

	// A released port is handed out again.
	require.True(t, a.Release(20002, "owner-1"))
	port, err := a.Reserve("reuse")
	require.NoError(t, err)
	assert.Equal(t, 20002, port)
}

func TestConcurrentReservationsAreUnique(t *testing.T) {
	a := New(Options{})

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]bool)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			port, err := a.Reserve(fmt.Sprintf("worker-%d", i))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[port], "port %d handed out twice", port)
			seen[port] = true
		}(i)
	}
	wg.Wait()
	assert.Equal(t, workers, a.Reserved())
}

func TestDefaultCanBeReplaced(t *testing.T) {
	orig := Default()
	t.Cleanup(func() { SetDefault(orig) })

	custom := New(Options{Host: "127.0.0.1"})
	SetDefault(custom)
	assert.Same(t, custom, Default())
	assert.Equal(t, "127.0.0.1", Default().Host())
}
