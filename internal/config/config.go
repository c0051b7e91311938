// Package config reads the two environment variables spec.md names:
// POOL_THREADPOOL_SIZE and LIBDQLITE_TRACE. Kept deliberately on the
// standard library — two scalar env vars do not warrant a reflection-based
// binding library (see DESIGN.md).
package config

import (
	"os"
	"strconv"
)

const (
	// DefaultThreadPoolSize is used when POOL_THREADPOOL_SIZE is unset or
	// invalid.
	DefaultThreadPoolSize = 4
	// MinThreadPoolSize and MaxThreadPoolSize are the clamp bounds spec.md
	// §6 specifies.
	MinThreadPoolSize = 1
	MaxThreadPoolSize = 1024
)

// ThreadPoolSize reads POOL_THREADPOOL_SIZE, clamping to
// [MinThreadPoolSize, MaxThreadPoolSize]. An unset, empty, non-numeric, or
// negative value becomes DefaultThreadPoolSize before clamping.
func ThreadPoolSize() int {
	return ClampThreadPoolSize(threadPoolSizeFromEnv())
}

func threadPoolSizeFromEnv() int {
	v, ok := os.LookupEnv("POOL_THREADPOOL_SIZE")
	if !ok || v == "" {
		return DefaultThreadPoolSize
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return DefaultThreadPoolSize
	}
	if n == 0 {
		// boundary behaviour, spec.md §8: POOL_THREADPOOL_SIZE=0 becomes 1.
		return MinThreadPoolSize
	}
	return n
}

// ClampThreadPoolSize applies the [1, 1024] clamp to an arbitrary value, so
// callers (e.g. tests, or a --threads flag) can reuse the same rule.
func ClampThreadPoolSize(n int) int {
	switch {
	case n < MinThreadPoolSize:
		return MinThreadPoolSize
	case n > MaxThreadPoolSize:
		return MaxThreadPoolSize
	default:
		return n
	}
}

// Trace reports whether LIBDQLITE_TRACE is set to a truthy value.
func Trace() bool {
	v, ok := os.LookupEnv("LIBDQLITE_TRACE")
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
