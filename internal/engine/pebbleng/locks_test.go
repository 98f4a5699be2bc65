package pebbleng

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aalhour/rockbridge/internal/engine"
)

func TestLockSharedCompatibility(t *testing.T) {
	lt := newLockTable()

	require.NoError(t, lt.Lock(1, []byte("k"), false, 50*time.Millisecond, false))
	require.NoError(t, lt.Lock(2, []byte("k"), false, 50*time.Millisecond, false),
		"shared holders coexist")

	err := lt.Lock(3, []byte("k"), true, 50*time.Millisecond, false)
	assert.Equal(t, engine.CodeTimedOut, statusCode(t, err))

	lt.UnlockAll(1)
	lt.UnlockAll(2)
	require.NoError(t, lt.Lock(3, []byte("k"), true, 50*time.Millisecond, false))
}

func TestLockExclusiveBlocksAll(t *testing.T) {
	lt := newLockTable()

	require.NoError(t, lt.Lock(1, []byte("k"), true, 0, false))

	err := lt.Lock(2, []byte("k"), false, 50*time.Millisecond, false)
	assert.Equal(t, engine.CodeTimedOut, statusCode(t, err))

	err = lt.Lock(2, []byte("k"), true, 50*time.Millisecond, false)
	assert.Equal(t, engine.CodeTimedOut, statusCode(t, err))
}

func TestLockReentrant(t *testing.T) {
	lt := newLockTable()

	require.NoError(t, lt.Lock(1, []byte("k"), true, 0, false))
	require.NoError(t, lt.Lock(1, []byte("k"), true, 0, false))
	require.NoError(t, lt.Lock(1, []byte("k"), false, 0, false),
		"exclusive holder may downgrade-read")
}

func TestLockUpgrade(t *testing.T) {
	lt := newLockTable()

	require.NoError(t, lt.Lock(1, []byte("k"), false, 0, false))
	require.NoError(t, lt.Lock(1, []byte("k"), true, 50*time.Millisecond, false),
		"sole shared holder upgrades")

	lt.UnlockAll(1)

	require.NoError(t, lt.Lock(1, []byte("k"), false, 0, false))
	require.NoError(t, lt.Lock(2, []byte("k"), false, 0, false))
	err := lt.Lock(1, []byte("k"), true, 50*time.Millisecond, false)
	assert.Equal(t, engine.CodeTimedOut, statusCode(t, err),
		"upgrade waits while another shared holder remains")
}

func TestLockHandoffOnRelease(t *testing.T) {
	lt := newLockTable()

	require.NoError(t, lt.Lock(1, []byte("k"), true, 0, false))

	granted := make(chan error, 1)
	go func() {
		granted <- lt.Lock(2, []byte("k"), true, 5*time.Second, false)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-granted:
		t.Fatal("waiter must block while the lock is held")
	default:
	}

	lt.UnlockAll(1)
	require.NoError(t, <-granted)

	err := lt.Lock(3, []byte("k"), true, 50*time.Millisecond, false)
	assert.Equal(t, engine.CodeTimedOut, statusCode(t, err), "handoff went to the waiter")
}

func TestLockWaitForever(t *testing.T) {
	lt := newLockTable()

	require.NoError(t, lt.Lock(1, []byte("k"), true, 0, false))

	granted := make(chan error, 1)
	go func() {
		granted <- lt.Lock(2, []byte("k"), true, -1, false)
	}()

	time.Sleep(50 * time.Millisecond)
	lt.UnlockAll(1)
	require.NoError(t, <-granted)
}

func TestLockDeadlockDetection(t *testing.T) {
	lt := newLockTable()

	require.NoError(t, lt.Lock(1, []byte("a"), true, 0, true))
	require.NoError(t, lt.Lock(2, []byte("b"), true, 0, true))

	blocked := make(chan error, 1)
	go func() {
		blocked <- lt.Lock(2, []byte("a"), true, 5*time.Second, true)
	}()
	time.Sleep(50 * time.Millisecond)

	err := lt.Lock(1, []byte("b"), true, 5*time.Second, true)
	assert.Equal(t, engine.CodeBusy, statusCode(t, err))

	lt.UnlockAll(1)
	require.NoError(t, <-blocked)
	lt.UnlockAll(2)
}

func TestLockAllSortsAndLocks(t *testing.T) {
	lt := newLockTable()

	keys := [][]byte{[]byte("c"), []byte("a"), []byte("b"), []byte("a")}
	require.NoError(t, lt.LockAll(1, keys, 50*time.Millisecond))

	for _, k := range []string{"a", "b", "c"} {
		err := lt.Lock(2, []byte(k), false, 30*time.Millisecond, false)
		assert.Equal(t, engine.CodeTimedOut, statusCode(t, err), k)
	}

	lt.UnlockAll(1)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, lt.Lock(2, []byte(k), false, 30*time.Millisecond, false), k)
	}
}

func TestUnlockAllIsIdempotent(t *testing.T) {
	lt := newLockTable()
	require.NoError(t, lt.Lock(1, []byte("k"), true, 0, false))
	lt.UnlockAll(1)
	lt.UnlockAll(1)
	require.NoError(t, lt.Lock(2, []byte("k"), true, 0, false))
}
