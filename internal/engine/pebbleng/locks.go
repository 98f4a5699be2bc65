package pebbleng

// locks.go is the row lock table behind pessimistic transactions. Locks are
// per stored key, shared or exclusive, granted in request order except that
// a holder upgrading to exclusive jumps the queue. Waiters carry a timeout
// and optional deadlock detection over the wait-for graph.

import (
	"sort"
	"sync"
	"time"

	"github.com/aalhour/rockbridge/internal/engine"
)

// defaultLockTimeout matches the native engine's lock_timeout default.
const defaultLockTimeout = time.Second

type lockTable struct {
	mu        sync.Mutex
	locks     map[string]*lockState
	ownerKeys map[uint64]map[string]struct{}
	waitsFor  map[uint64]map[uint64]struct{}
}

type lockState struct {
	holders map[uint64]bool // owner -> exclusive
	queue   []*lockWaiter
}

type lockWaiter struct {
	owner     uint64
	exclusive bool
	granted   bool
	ch        chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{
		locks:     make(map[string]*lockState),
		ownerKeys: make(map[uint64]map[string]struct{}),
		waitsFor:  make(map[uint64]map[uint64]struct{}),
	}
}

// Lock acquires key for owner, blocking until granted, timed out or (with
// detect) refused as a deadlock. A zero timeout selects the default, a
// negative one waits forever.
func (lt *lockTable) Lock(owner uint64, key []byte, exclusive bool, timeout time.Duration, detect bool) error {
	k := string(key)

	lt.mu.Lock()
	st := lt.locks[k]
	if st == nil {
		st = &lockState{holders: make(map[uint64]bool)}
		lt.locks[k] = st
	}

	_, holds := st.holders[owner]
	if (holds || len(st.queue) == 0) && grantable(st, owner, exclusive) {
		lt.grantLocked(st, owner, exclusive, k)
		lt.mu.Unlock()
		return nil
	}

	if detect && lt.wouldDeadlockLocked(owner, st) {
		lt.cleanupLocked(k, st)
		lt.mu.Unlock()
		return engine.Statusf(engine.CodeBusy, "Deadlock")
	}

	w := &lockWaiter{owner: owner, exclusive: exclusive, ch: make(chan struct{})}
	if holds {
		// Upgraders go first or the lock can never drain.
		st.queue = append([]*lockWaiter{w}, st.queue...)
	} else {
		st.queue = append(st.queue, w)
	}
	edges := make(map[uint64]struct{}, len(st.holders))
	for h := range st.holders {
		if h != owner {
			edges[h] = struct{}{}
		}
	}
	lt.waitsFor[owner] = edges
	lt.mu.Unlock()

	if timeout == 0 {
		timeout = defaultLockTimeout
	}
	if timeout < 0 {
		<-w.ch
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.ch:
		return nil
	case <-timer.C:
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()
	if w.granted {
		// The grant and the timer raced; the lock is held.
		return nil
	}
	for i, q := range st.queue {
		if q == w {
			st.queue = append(st.queue[:i], st.queue[i+1:]...)
			break
		}
	}
	delete(lt.waitsFor, owner)
	lt.promoteLocked(k, st)
	return engine.Statusf(engine.CodeTimedOut, "Timeout waiting to lock key")
}

// LockAll takes exclusive locks on every key in sorted order, so concurrent
// batch writers cannot wait on each other in a cycle.
func (lt *lockTable) LockAll(owner uint64, keys [][]byte, timeout time.Duration) error {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s := string(k)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)
	for _, k := range sorted {
		if err := lt.Lock(owner, []byte(k), true, timeout, false); err != nil {
			return err
		}
	}
	return nil
}

// UnlockAll releases every lock owner holds and wakes whoever can proceed.
func (lt *lockTable) UnlockAll(owner uint64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	keys := lt.ownerKeys[owner]
	delete(lt.ownerKeys, owner)
	delete(lt.waitsFor, owner)
	for k := range keys {
		st := lt.locks[k]
		if st == nil {
			continue
		}
		delete(st.holders, owner)
		lt.promoteLocked(k, st)
	}
}

func grantable(st *lockState, owner uint64, exclusive bool) bool {
	if len(st.holders) == 0 {
		return true
	}
	if _, holds := st.holders[owner]; holds {
		if !exclusive {
			return true
		}
		return len(st.holders) == 1
	}
	if exclusive {
		return false
	}
	for _, ex := range st.holders {
		if ex {
			return false
		}
	}
	return true
}

func (lt *lockTable) grantLocked(st *lockState, owner uint64, exclusive bool, key string) {
	st.holders[owner] = exclusive || st.holders[owner]
	ks := lt.ownerKeys[owner]
	if ks == nil {
		ks = make(map[string]struct{})
		lt.ownerKeys[owner] = ks
	}
	ks[key] = struct{}{}
}

func (lt *lockTable) promoteLocked(key string, st *lockState) {
	for len(st.queue) > 0 {
		w := st.queue[0]
		if !grantable(st, w.owner, w.exclusive) {
			break
		}
		st.queue = st.queue[1:]
		delete(lt.waitsFor, w.owner)
		lt.grantLocked(st, w.owner, w.exclusive, key)
		w.granted = true
		close(w.ch)
	}
	lt.cleanupLocked(key, st)
}

func (lt *lockTable) cleanupLocked(key string, st *lockState) {
	if len(st.holders) == 0 && len(st.queue) == 0 {
		delete(lt.locks, key)
	}
}

// wouldDeadlockLocked reports whether waiting on st's holders would close a
// cycle back to owner.
func (lt *lockTable) wouldDeadlockLocked(owner uint64, st *lockState) bool {
	stack := make([]uint64, 0, len(st.holders))
	for h := range st.holders {
		if h == owner {
			continue
		}
		stack = append(stack, h)
	}
	seen := make(map[uint64]bool)
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if x == owner {
			return true
		}
		if seen[x] {
			continue
		}
		seen[x] = true
		for y := range lt.waitsFor[x] {
			stack = append(stack, y)
		}
	}
	return false
}
