package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThreadPoolSizeFromEnv(t *testing.T) {
	t.Setenv("POOL_THREADPOOL_SIZE", "0")
	require.Equal(t, 1, ThreadPoolSize())

	t.Setenv("POOL_THREADPOOL_SIZE", "10000")
	require.Equal(t, 1024, ThreadPoolSize())

	t.Setenv("POOL_THREADPOOL_SIZE", "8")
	require.Equal(t, 8, ThreadPoolSize())

	t.Setenv("POOL_THREADPOOL_SIZE", "not-a-number")
	require.Equal(t, DefaultThreadPoolSize, ThreadPoolSize())
}

func TestClampThreadPoolSize(t *testing.T) {
	require.Equal(t, 1, ClampThreadPoolSize(-5))
	require.Equal(t, 1024, ClampThreadPoolSize(999999))
	require.Equal(t, 16, ClampThreadPoolSize(16))
}

func TestTrace(t *testing.T) {
	t.Setenv("LIBDQLITE_TRACE", "true")
	require.True(t, Trace())

	t.Setenv("LIBDQLITE_TRACE", "false")
	require.False(t, Trace())

	t.Setenv("LIBDQLITE_TRACE", "")
	require.False(t, Trace())
}
