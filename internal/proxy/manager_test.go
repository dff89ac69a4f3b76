package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobin(t *testing.T) {
	m, err := New([]string{
		"socks5://1.1.1.1:1080",
		"socks5://2.2.2.2:1080",
	}, 0)
	require.NoError(t, err)
	require.True(t, m.Enabled())

	assert.Equal(t, "1.1.1.1:1080", m.Next().Host)
	assert.Equal(t, "2.2.2.2:1080", m.Next().Host)
	assert.Equal(t, "1.1.1.1:1080", m.Next().Host, "rotation wraps")
}

func TestNewRejectsBadURLs(t *testing.T) {
	_, err := New([]string{"://broken"}, 0)
	assert.Error(t, err)

	_, err = New([]string{"no-scheme-host"}, 0)
	assert.Error(t, err)
}

func TestEmptyListDialsDirect(t *testing.T) {
	m, err := New(nil, 0)
	require.NoError(t, err)
	assert.False(t, m.Enabled())
	assert.Nil(t, m.Next())

	// Blank entries are skipped, not errors.
	m, err = New([]string{"", ""}, 0)
	require.NoError(t, err)
	assert.False(t, m.Enabled())
}

func TestNilManagerIsDirect(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled())
	assert.Nil(t, m.Next())
}

func TestDialContextDirectWithoutProxies(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		close(accepted)
	}()

	m, err := New(nil, 0)
	require.NoError(t, err)

	conn, err := m.DialContext(context.Background(), "tcp", ln.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never saw the direct dial")
	}
}

func TestDialContextSlotBlocksUntilContextDone(t *testing.T) {
	m, err := New([]string{"socks5://127.0.0.1:1"}, 1)
	require.NoError(t, err)

	// Occupy the only slot.
	m.slots <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = m.DialContext(ctx, "tcp", "192.0.2.1:25", time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
