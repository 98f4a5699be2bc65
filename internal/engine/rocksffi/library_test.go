//go:build darwin || linux || freebsd

package rocksffi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCandidatesOverrideWins(t *testing.T) {
	t.Setenv(EnvLibrary, "/elsewhere/librocksdb.so")
	got := candidates("/opt/rocksdb/librocksdb.so.9")
	require.Equal(t, []string{"/opt/rocksdb/librocksdb.so.9"}, got)
}

func TestCandidatesEnvFallback(t *testing.T) {
	t.Setenv(EnvLibrary, "/tmp/librocksdb.so.9")
	require.Equal(t, []string{"/tmp/librocksdb.so.9"}, candidates(""))
}

func TestCandidatesPlatformDefaults(t *testing.T) {
	t.Setenv(EnvLibrary, "")
	got := candidates("")
	require.NotEmpty(t, got)
	for _, name := range got {
		require.Contains(t, name, "librocksdb")
	}
}

func TestLockTimeoutMillis(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int64
	}{
		{time.Second, 1000},
		{1500 * time.Millisecond, 1500},
		{100 * time.Microsecond, 1}, // rounds up; zero would mean no-wait
		{-1, int64(365 * 24 * time.Hour / time.Millisecond)},
		{-time.Hour, int64(365 * 24 * time.Hour / time.Millisecond)},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, lockTimeoutMillis(tc.in), "input %v", tc.in)
	}
}
