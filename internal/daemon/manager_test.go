// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewManagerRequiresHandlers(t *testing.T) {
	_, err := NewManager(":0", ":0", nil, okHandler())
	assert.ErrorIs(t, err, ErrMissingHandler)

	_, err = NewManager(":0", ":0", okHandler(), nil)
	assert.ErrorIs(t, err, ErrMissingHandler)
}

func TestShutdownBeforeStart(t *testing.T) {
	m, err := NewManager(":0", ":0", okHandler(), okHandler())
	require.NoError(t, err)
	assert.ErrorIs(t, m.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestShutdownHooksRunInReverseOrder(t *testing.T) {
	m, err := NewManager(":0", ":0", okHandler(), okHandler())
	require.NoError(t, err)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		m.RegisterShutdownHook(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	m.started = true
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestShutdownAggregatesHookFailures(t *testing.T) {
	m, err := NewManager(":0", ":0", okHandler(), okHandler())
	require.NoError(t, err)

	ran := false
	m.RegisterShutdownHook("earlier", func(context.Context) error {
		ran = true
		return nil
	})
	m.RegisterShutdownHook("broken", func(context.Context) error {
		return errors.New("release failed")
	})

	m.started = true
	err = m.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook broken")
	assert.True(t, ran, "a failing hook must not stop the rest")
}

func TestShutdownIsIdempotent(t *testing.T) {
	m, err := NewManager(":0", ":0", okHandler(), okHandler())
	require.NoError(t, err)

	calls := 0
	m.RegisterShutdownHook("once", func(context.Context) error {
		calls++
		return nil
	})

	m.started = true
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	m, err := NewManager("127.0.0.1:0", "127.0.0.1:0", okHandler(), okHandler())
	require.NoError(t, err)

	hookDone := false
	m.RegisterShutdownHook("cleanup", func(context.Context) error {
		hookDone = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop after cancel")
	}
	assert.True(t, hookDone)
}

func TestStartReportsServerFailure(t *testing.T) {
	// Occupy a port so the public server cannot bind.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { require.NoError(t, ln.Close()) }()

	m, err := NewManager(ln.Addr().String(), "127.0.0.1:0", okHandler(), okHandler())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = m.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public server")
}
