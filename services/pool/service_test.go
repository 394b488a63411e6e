package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/internal/storage/memory"
)

func descriptors(n int) []coin.ChainAccount {
	out := make([]coin.ChainAccount, n)
	for i := range out {
		out[i] = coin.ChainAccount{
			Address:    fmt.Sprintf("N%03d", i),
			PublicKey:  fmt.Sprintf("pub%d", i),
			PrivateKey: fmt.Sprintf("priv%d", i),
			Type:       coin.ChainAccountParticipant,
			Position:   i,
		}
	}
	return out
}

func createAccounts(t *testing.T, store *memory.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := store.CreateAccount(context.Background(), coin.Account{ID: id, Type: coin.AccountRegular})
		require.NoError(t, err)
	}
}

func TestReconcileBindsInSourceOrderAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	createAccounts(t, store, "alice", "bob")
	mgr := New(store, nil)

	report, err := mgr.Reconcile(ctx, descriptors(4))
	require.NoError(t, err)
	assert.Equal(t, Report{Bound: 2, Free: 2}, report)

	alice, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "N000", alice.ChainAccount.Address)

	second, err := mgr.Reconcile(ctx, descriptors(4))
	require.NoError(t, err)
	assert.False(t, second.Changed())
	assert.Equal(t, 2, second.Kept)
	assert.Equal(t, 2, second.Free)

	alice, err = store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "N000", alice.ChainAccount.Address)
}

func TestReconcileRemovesVanishedAndRefreshesChanged(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	createAccounts(t, store, "alice", "bob")
	mgr := New(store, nil)

	_, err := mgr.Reconcile(ctx, descriptors(3))
	require.NoError(t, err)

	// N000 (alice) vanishes, N001 (bob) gets new keys, N002 stays free, N003 appears.
	next := descriptors(4)[1:]
	next[0].PrivateKey = "rotated"

	report, err := mgr.Reconcile(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rebound)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Bound)
	assert.Equal(t, 1, report.Free)

	bob, err := store.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "N001", bob.ChainAccount.Address)
	assert.Equal(t, "rotated", bob.ChainAccount.PrivateKey)

	alice, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "N002", alice.ChainAccount.Address)

	all, err := store.ListChainAccounts(ctx)
	require.NoError(t, err)
	for _, ca := range all {
		assert.NotEqual(t, "N000", ca.Address)
	}

	again, err := mgr.Reconcile(ctx, next)
	require.NoError(t, err)
	assert.False(t, again.Changed())
}

func TestReconcileDropsStaleFreeEntries(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mgr := New(store, nil)

	_, err := mgr.Reconcile(ctx, descriptors(3))
	require.NoError(t, err)

	report, err := mgr.Reconcile(ctx, descriptors(1))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Removed)

	all, err := store.ListChainAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReconcileLeavesAccountsUnboundWhenPoolRunsOut(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	createAccounts(t, store, "alice", "bob", "carol")
	mgr := New(store, nil)

	report, err := mgr.Reconcile(ctx, descriptors(2))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Bound)
	assert.Equal(t, 1, report.Unbound)

	carol, err := store.GetAccount(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, carol.Bound())
}

func TestReconcileSkipsReserved(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mgr := New(store, nil, WithReserved("N000"))

	report, err := mgr.Reconcile(ctx, descriptors(2))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Free)

	ca, err := mgr.BindFreeAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "N001", ca.Address)
}

func TestBindFreeAccountConcurrentUniqueness(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mgr := New(store, nil)
	_, err := mgr.Reconcile(ctx, descriptors(10))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		addresses = make(map[string]bool)
		exhausted int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ca, err := mgr.BindFreeAccount(ctx, fmt.Sprintf("user-%d", i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, coin.ErrPoolExhausted)
				exhausted++
				return
			}
			assert.False(t, addresses[ca.Address], "address %s handed out twice", ca.Address)
			addresses[ca.Address] = true
		}(i)
	}
	wg.Wait()

	assert.Len(t, addresses, 10)
	assert.Equal(t, 2, exhausted)
}
