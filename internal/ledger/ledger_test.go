package ledger_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/events"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/money"
	"github.com/mbd888/dealdesk/internal/testutil"
	"github.com/mbd888/dealdesk/internal/txn"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOpenAccount_Idempotent(t *testing.T) {
	m := testutil.NewMarket(t)
	ctx := context.Background()

	acct, created, err := m.Ledger.OpenAccount(ctx, "u1", " @alice ")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, acct.Balance.IsZero())
	assert.True(t, ledger.DefaultRating.Equal(acct.Rating))
	assert.Equal(t, "alice", acct.Username)

	m.Fund(t, "u1", "20")

	acct, created, err = m.Ledger.OpenAccount(ctx, "u1", "someone-else")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice", acct.Username)
	assert.True(t, dec("20").Equal(acct.Balance), "reopening keeps the balance")

	_, _, err = m.Ledger.OpenAccount(ctx, "", "x")
	assert.ErrorIs(t, err, ledger.ErrInvalidAccountID)
	_, _, err = m.Ledger.OpenAccount(ctx, strings.Repeat("x", 65), "x")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGetAccount_NotFound(t *testing.T) {
	m := testutil.NewMarket(t)
	_, err := m.Ledger.GetAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAdjustBalance(t *testing.T) {
	m := testutil.NewMarket(t)
	ctx := context.Background()
	m.Open(t, "A")

	acct, err := m.Ledger.AdjustBalance(ctx, "A", dec("100"), ledger.EntryDeposit, "pay_1")
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(acct.Balance))

	acct, err = m.Ledger.AdjustBalance(ctx, "A", dec("-30.50"), "", "fix")
	require.NoError(t, err)
	assert.True(t, dec("69.50").Equal(acct.Balance))

	_, err = m.Ledger.AdjustBalance(ctx, "A", dec("-69.51"), ledger.EntryAdjustment, "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.True(t, dec("69.50").Equal(m.Balance(t, "A")), "rejected debit applies nothing")

	_, err = m.Ledger.AdjustBalance(ctx, "A", decimal.Zero, ledger.EntryAdjustment, "")
	assert.ErrorIs(t, err, ledger.ErrZeroDelta)

	_, err = m.Ledger.AdjustBalance(ctx, "A", dec("0.001"), ledger.EntryAdjustment, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = m.Ledger.AdjustBalance(ctx, "A", dec("5"), ledger.EntryPayout, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidKind, "internal kinds only move through the deal engine")

	_, err = m.Ledger.AdjustBalance(ctx, "A", dec("-5"), ledger.EntryDeposit, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidKind)

	_, err = m.Ledger.AdjustBalance(ctx, "ghost", dec("5"), ledger.EntryDeposit, "")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	entries, err := m.Ledger.Entries(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EntryAdjustment, entries[0].Kind, "newest first")
	assert.True(t, dec("69.50").Equal(entries[0].BalanceAfter))
	assert.Equal(t, "pay_1", entries[1].Reference)

	ev, ok := m.Events.Last(events.BalanceAdjusted)
	require.True(t, ok)
	assert.Equal(t, "-30.50", ev.Data["delta"])

	m.RequireBalanced(t)
}

func TestAdjustBalance_RejectsBalanceOverflow(t *testing.T) {
	m := testutil.NewMarket(t)
	ctx := context.Background()
	m.Open(t, "A")

	_, err := m.Ledger.AdjustBalance(ctx, "A", dec("99999999999999.99"), ledger.EntryDeposit, "big")
	require.NoError(t, err)

	_, err = m.Ledger.AdjustBalance(ctx, "A", dec("0.01"), ledger.EntryDeposit, "one more cent")
	assert.ErrorIs(t, err, money.ErrBalanceTooLarge)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.True(t, dec("99999999999999.99").Equal(m.Balance(t, "A")), "nothing applied")
}

func TestWithdraw(t *testing.T) {
	m := testutil.NewMarket(t)
	ctx := context.Background()
	m.Fund(t, "A", "40")

	acct, entry, err := m.Ledger.Withdraw(ctx, "A", dec("15"))
	require.NoError(t, err)
	assert.True(t, dec("25").Equal(acct.Balance))
	assert.Equal(t, ledger.EntryWithdrawal, entry.Kind)
	assert.True(t, dec("-15").Equal(entry.Delta))
	assert.True(t, strings.HasPrefix(entry.Reference, "wd_"))

	ev, ok := m.Events.Last(events.WithdrawalRequested)
	require.True(t, ok)
	assert.True(t, ev.IsFor(testutil.AdminID))
	assert.Equal(t, entry.Reference, ev.Data["reference"])

	_, _, err = m.Ledger.Withdraw(ctx, "A", dec("25.01"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	_, _, err = m.Ledger.Withdraw(ctx, "A", dec("0"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = m.Ledger.SetBanned(ctx, testutil.AdminID, "A", true)
	require.NoError(t, err)
	_, _, err = m.Ledger.Withdraw(ctx, "A", dec("1"))
	assert.ErrorIs(t, err, ledger.ErrAccountBanned)

	m.RequireBalanced(t)
}

func TestSetBanned(t *testing.T) {
	m := testutil.NewMarket(t)
	ctx := context.Background()
	m.Open(t, "A")

	_, err := m.Ledger.SetBanned(ctx, "A", "A", true)
	assert.ErrorIs(t, err, ledger.ErrNotAdmin)
	_, err = m.Ledger.SetBanned(ctx, testutil.AdminID, testutil.AdminID, true)
	assert.ErrorIs(t, err, ledger.ErrCannotBanAdmin)
	_, err = m.Ledger.SetBanned(ctx, testutil.AdminID, "ghost", true)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	acct, err := m.Ledger.SetBanned(ctx, testutil.AdminID, "A", true)
	require.NoError(t, err)
	assert.True(t, acct.Banned)
	_, ok := m.Events.Last(events.AccountBanned)
	assert.True(t, ok)

	acct, err = m.Ledger.SetBanned(ctx, testutil.AdminID, "A", false)
	require.NoError(t, err)
	assert.False(t, acct.Banned)

	// Banned accounts still receive credits.
	_, err = m.Ledger.SetBanned(ctx, testutil.AdminID, "A", true)
	require.NoError(t, err)
	_, err = m.Ledger.AdjustBalance(ctx, "A", dec("3"), ledger.EntryDeposit, "")
	assert.NoError(t, err)
}

func TestIncrementDealCount(t *testing.T) {
	m := testutil.NewMarket(t)
	ctx := context.Background()
	m.Open(t, "A")

	require.NoError(t, m.Ledger.IncrementDealCount(ctx, "A"))
	require.NoError(t, m.Ledger.IncrementDealCount(ctx, "A"))
	acct, err := m.Ledger.GetAccount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, acct.DealsCount)

	assert.ErrorIs(t, m.Ledger.IncrementDealCount(ctx, "ghost"), ledger.ErrAccountNotFound)
}

func TestEntries_UnknownAccount(t *testing.T) {
	m := testutil.NewMarket(t)
	_, err := m.Ledger.Entries(context.Background(), "ghost", 0)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestApplyAll_SortsAndSkipsZero(t *testing.T) {
	store := ledger.NewMemoryStore()
	repo := store.Bind(nil)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"c", "a", "b"} {
		_, err := repo.Insert(ctx, &ledger.Account{ID: id, Balance: decimal.Zero, Rating: ledger.DefaultRating})
		require.NoError(t, err)
	}

	err := ledger.ApplyAll(ctx, repo, []ledger.Posting{
		{AccountID: "c", Delta: dec("3"), Kind: ledger.EntryPayout},
		{AccountID: "b", Delta: decimal.Zero, Kind: ledger.EntryCommission},
		{AccountID: "a", Delta: dec("1"), Kind: ledger.EntryPayout},
	}, now)
	require.NoError(t, err)

	a, _ := repo.ListEntries(ctx, "a", 10)
	b, _ := repo.ListEntries(ctx, "b", 10)
	c, _ := repo.ListEntries(ctx, "c", 10)
	assert.Len(t, a, 1)
	assert.Empty(t, b)
	assert.Len(t, c, 1)
}

func TestApply_RollbackLeavesNoTrace(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()
	_, err := store.Bind(nil).Insert(ctx, &ledger.Account{ID: "a", Balance: dec("10"), Rating: ledger.DefaultRating})
	require.NoError(t, err)

	var j txn.Journal
	repo := store.Bind(&j)
	_, _, err = ledger.Apply(ctx, repo, ledger.Posting{AccountID: "a", Delta: dec("-4"), Kind: ledger.EntryWithdrawal}, time.Now())
	require.NoError(t, err)
	_, _, err = ledger.Apply(ctx, repo, ledger.Posting{AccountID: "a", Delta: dec("-7"), Kind: ledger.EntryWithdrawal}, time.Now())
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	j.Rollback()

	acct, err := store.Bind(nil).Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(acct.Balance))
	entries, _ := store.Bind(nil).ListEntries(ctx, "a", 10)
	assert.Empty(t, entries)
}

func TestEntryKind_IsExternal(t *testing.T) {
	for _, k := range []ledger.EntryKind{ledger.EntryDeposit, ledger.EntryWithdrawal, ledger.EntryAdjustment} {
		assert.True(t, k.IsExternal(), k)
	}
	for _, k := range []ledger.EntryKind{ledger.EntryEscrowHold, ledger.EntryPayout, ledger.EntryCommission, ledger.EntryRefund} {
		assert.False(t, k.IsExternal(), k)
	}
}
