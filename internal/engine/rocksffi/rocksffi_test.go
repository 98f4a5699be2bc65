//go:build darwin || linux || freebsd

package rocksffi

// Integration tests against a real librocksdb. They skip unless
// ROCKBRIDGE_LIBROCKSDB points at a loadable build, so the package tests
// cleanly on machines without the native library.

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/rockbridge/internal/batchrep"
	"github.com/aalhour/rockbridge/internal/engine"
)

func openNative(t *testing.T, pessimistic bool, cfs ...engine.CFConfig) engine.DB {
	t.Helper()
	if os.Getenv(EnvLibrary) == "" {
		t.Skipf("set %s to a librocksdb build to run native tests", EnvLibrary)
	}
	db, err := provider{}.Open(t.TempDir(), &engine.Config{
		CreateIfMissing:             true,
		CreateMissingColumnFamilies: true,
		Pessimistic:                 pessimistic,
		ColumnFamilies:              cfs,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func nativeStatusCode(t *testing.T, err error) engine.Code {
	t.Helper()
	var st *engine.Status
	require.ErrorAs(t, err, &st)
	return st.Code
}

func TestNativePutGetDelete(t *testing.T) {
	db := openNative(t, false)

	require.NoError(t, db.Put(nil, nil, []byte("k"), []byte("v")))
	got, err := db.Get(nil, nil, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, db.Delete(nil, nil, []byte("k")))
	_, err = db.Get(nil, nil, []byte("k"))
	require.Equal(t, engine.CodeNotFound, nativeStatusCode(t, err))
}

func TestNativeWriteBatchRep(t *testing.T) {
	db := openNative(t, false)
	def := db.DefaultColumnFamily()

	rep := batchrep.New()
	rep = batchrep.AppendPut(rep, def.ID(), []byte("a"), []byte("1"))
	rep = batchrep.AppendPut(rep, def.ID(), []byte("b"), []byte("2"))
	rep = batchrep.AppendDelete(rep, def.ID(), []byte("a"))
	require.NoError(t, db.Write(nil, rep))

	_, err := db.Get(nil, nil, []byte("a"))
	require.Equal(t, engine.CodeNotFound, nativeStatusCode(t, err))
	got, err := db.Get(nil, nil, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
}

func TestNativeWriteBatchDeleteRange(t *testing.T) {
	db := openNative(t, false)
	def := db.DefaultColumnFamily()

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, db.Put(nil, nil, []byte(k), []byte("x")))
	}
	rep := batchrep.New()
	rep = batchrep.AppendDeleteRange(rep, def.ID(), []byte("b"), []byte("d"))
	require.NoError(t, db.Write(nil, rep))

	for k, want := range map[string]bool{"a": true, "b": false, "c": false, "d": true} {
		_, err := db.Get(nil, nil, []byte(k))
		if want {
			require.NoError(t, err, "key %s", k)
		} else {
			require.Equal(t, engine.CodeNotFound, nativeStatusCode(t, err), "key %s", k)
		}
	}
}

func TestNativeColumnFamilies(t *testing.T) {
	db := openNative(t, false, engine.CFConfig{Name: "aux"})

	var aux engine.CFHandle
	for _, h := range db.ColumnFamilies() {
		if h.Name() == "aux" {
			aux = h
		}
	}
	require.NotNil(t, aux)

	require.NoError(t, db.Put(aux, nil, []byte("k"), []byte("aux-v")))
	require.NoError(t, db.Put(nil, nil, []byte("k"), []byte("def-v")))

	got, err := db.Get(aux, nil, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("aux-v"), got)

	require.NoError(t, db.DropColumnFamily(aux))
	_, err = db.Get(aux, nil, []byte("k"))
	require.Equal(t, engine.CodeColumnFamilyDropped, nativeStatusCode(t, err))
}

func TestNativeSnapshotIsolation(t *testing.T) {
	db := openNative(t, false)

	require.NoError(t, db.Put(nil, nil, []byte("k"), []byte("old")))
	snap, err := db.NewSnapshot()
	require.NoError(t, err)
	defer db.ReleaseSnapshot(snap)

	require.NoError(t, db.Put(nil, nil, []byte("k"), []byte("new")))

	got, err := db.Get(nil, &engine.ReadOptions{Snapshot: snap, FillCache: true}, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), got)

	got, err = db.Get(nil, &engine.ReadOptions{FillCache: true}, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)
}

func TestNativeIteratorBounds(t *testing.T) {
	db := openNative(t, false)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, db.Put(nil, nil, []byte(k), []byte("v-"+k)))
	}

	it, err := db.NewIterator(nil, &engine.ReadOptions{
		LowerBound: []byte("b"),
		UpperBound: []byte("d"),
		FillCache:  true,
	})
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Status())
	require.Equal(t, []string{"b", "c"}, keys)

	it.SeekForPrev([]byte("bz"))
	require.True(t, it.Valid())
	require.Equal(t, []byte("b"), it.Key())
}

func TestNativeOptimisticConflict(t *testing.T) {
	db := openNative(t, false)
	require.NoError(t, db.Put(nil, nil, []byte("k"), []byte("base")))

	t1, err := db.BeginTxn(&engine.TxnConfig{SetSnapshot: true})
	require.NoError(t, err)
	t2, err := db.BeginTxn(&engine.TxnConfig{SetSnapshot: true})
	require.NoError(t, err)

	require.NoError(t, t1.Put(nil, []byte("k"), []byte("one")))
	require.NoError(t, t2.Put(nil, []byte("k"), []byte("two")))

	require.NoError(t, t1.Commit())

	err = t2.Commit()
	require.Error(t, err)
	require.Equal(t, engine.CodeBusy, nativeStatusCode(t, err))
	require.NoError(t, t2.Rollback())

	got, err := db.Get(nil, nil, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got)
}

func TestNativeTxnSavepoints(t *testing.T) {
	db := openNative(t, false)

	txn, err := db.BeginTxn(nil)
	require.NoError(t, err)
	require.NoError(t, txn.Put(nil, []byte("a"), []byte("1")))
	txn.SetSavepoint()
	require.NoError(t, txn.Put(nil, []byte("b"), []byte("2")))
	require.NoError(t, txn.RollbackToSavepoint())
	require.NoError(t, txn.Commit())

	_, err = db.Get(nil, nil, []byte("b"))
	require.Equal(t, engine.CodeNotFound, nativeStatusCode(t, err))
	got, err := db.Get(nil, nil, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
}

func TestNativePessimisticLockTimeout(t *testing.T) {
	db := openNative(t, true)
	require.NoError(t, db.Put(nil, nil, []byte("k"), []byte("v")))

	t1, err := db.BeginTxn(nil)
	require.NoError(t, err)
	_, err = t1.GetForUpdate(nil, nil, []byte("k"), true)
	require.NoError(t, err)

	t2, err := db.BeginTxn(&engine.TxnConfig{LockTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	err = t2.Put(nil, []byte("k"), []byte("blocked"))
	require.Error(t, err)
	require.Equal(t, engine.CodeTimedOut, nativeStatusCode(t, err))

	require.NoError(t, t2.Rollback())
	require.NoError(t, t1.Rollback())
}

func TestNativeMergeWithoutOperator(t *testing.T) {
	db := openNative(t, false)
	err := db.Merge(nil, nil, []byte("k"), []byte("+1"))
	require.Error(t, err)
	require.Equal(t, engine.CodeInvalidArgument, nativeStatusCode(t, err))
}

func TestNativeTxnSnapshotAccessor(t *testing.T) {
	db := openNative(t, false)

	withSnap, err := db.BeginTxn(&engine.TxnConfig{SetSnapshot: true})
	require.NoError(t, err)
	require.NotNil(t, withSnap.Snapshot())
	require.NoError(t, withSnap.Rollback())

	without, err := db.BeginTxn(nil)
	require.NoError(t, err)
	require.Nil(t, without.Snapshot())
	require.NoError(t, without.Rollback())
}

func TestNativeRejectsHostMergeOperator(t *testing.T) {
	if os.Getenv(EnvLibrary) == "" {
		t.Skipf("set %s to a librocksdb build to run native tests", EnvLibrary)
	}
	_, err := provider{}.Open(t.TempDir(), &engine.Config{
		CreateIfMissing: true,
		MergeOperator:   failingOperator{},
	})
	require.Error(t, err)
	require.Equal(t, engine.CodeNotSupported, nativeStatusCode(t, err))
}

type failingOperator struct{}

func (failingOperator) Name() string { return "noop" }
func (failingOperator) FullMerge([]byte, []byte, [][]byte) ([]byte, bool) {
	return nil, false
}
func (failingOperator) PartialMerge([]byte, []byte, []byte) ([]byte, bool) {
	return nil, false
}
