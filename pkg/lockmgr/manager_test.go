package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/page"
	"github.com/JABClari/zero/pkg/zerr"
)

func TestLockGrantsNonConflicting(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Lock(ctx, logrecord.TxnID(1), 10, SS, true))
	require.NoError(t, m.Lock(ctx, logrecord.TxnID(2), 10, NS, true))
	require.Equal(t, SS, m.GrantedMode(logrecord.TxnID(1), 10))
}

func TestLockConflictReturnsRetryWhenNotWaiting(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Lock(ctx, logrecord.TxnID(1), 10, XX, true))

	err := m.Lock(ctx, logrecord.TxnID(2), 10, SS, false)
	require.Error(t, err)
	require.True(t, zerr.Is(err, zerr.LockRetry))
}

func TestLockSameTxnUpgradesWithoutConflict(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Lock(ctx, logrecord.TxnID(1), 10, NS, true))
	require.NoError(t, m.Lock(ctx, logrecord.TxnID(1), 10, XX, true))
	require.Equal(t, XX, m.GrantedMode(logrecord.TxnID(1), 10))
}

func TestLockWaiterWakesOnUnlock(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Lock(ctx, logrecord.TxnID(1), 10, XX, true))

	done := make(chan error, 1)
	go func() {
		done <- m.Lock(ctx, logrecord.TxnID(2), 10, SS, true)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Unlock(logrecord.TxnID(1), 10))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
}

func TestLockWaiterTimesOut(t *testing.T) {
	m := New()
	require.NoError(t, m.Lock(context.Background(), logrecord.TxnID(1), 10, XX, true))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Lock(ctx, logrecord.TxnID(2), 10, SS, true)
	require.Error(t, err)
	require.True(t, zerr.Is(err, zerr.LockTimeout))
}

func TestUnlockDurationReadLockOnlyKeepsWriteLocks(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Lock(ctx, logrecord.TxnID(1), 10, SS, true))
	require.NoError(t, m.Lock(ctx, logrecord.TxnID(1), 20, XN, true))

	require.NoError(t, m.UnlockDuration(logrecord.TxnID(1), true))
	require.Equal(t, NL, m.GrantedMode(logrecord.TxnID(1), 10))
	require.Equal(t, XN, m.GrantedMode(logrecord.TxnID(1), 20))

	require.NoError(t, m.UnlockDuration(logrecord.TxnID(1), false))
	require.Equal(t, NL, m.GrantedMode(logrecord.TxnID(1), 20))
	require.True(t, m.AssertEmpty())
}

func TestIntentLockNeverConflicts(t *testing.T) {
	m := New()
	require.NoError(t, m.IntentLock(logrecord.TxnID(1), page.StoreID(1), X))
	require.NoError(t, m.IntentLock(logrecord.TxnID(2), page.StoreID(1), X))
}

func TestModeConflicts(t *testing.T) {
	require.True(t, XX.Conflicts(SS))
	require.True(t, XX.Conflicts(NS))
	require.False(t, SS.Conflicts(SS))
	require.False(t, NL.Conflicts(XX))
	require.True(t, SN.Conflicts(XN))
	require.False(t, SN.Conflicts(NS))
}
