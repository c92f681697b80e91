package dispute

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/txn"
)

func TestNewMessage_Validation(t *testing.T) {
	now := time.Now()

	_, err := NewMessage("d1", "u1", "   ", now)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = NewMessage("d1", "u1", strings.Repeat("я", MaxMessageLength+1), now)
	assert.ErrorIs(t, err, ErrMessageTooLong)

	m, err := NewMessage("d1", "u1", "  item never arrived \x00", now)
	require.NoError(t, err)
	assert.Equal(t, "item never arrived", m.Text)
	assert.True(t, strings.HasPrefix(m.ID, "msg_"))

	_, err = NewMessage("d1", "u1", strings.Repeat("я", MaxMessageLength), now)
	assert.NoError(t, err, "limit counts characters, not bytes")
}

func TestMemoryStore_OrderAndRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := store.Bind(nil)
	base := time.Now()

	for i, text := range []string{"first", "second", "third"} {
		m, err := NewMessage("d1", "u1", text, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, repo.Append(ctx, m))
	}

	var j txn.Journal
	m, _ := NewMessage("d1", "u2", "rolled back", base.Add(time.Hour))
	require.NoError(t, store.Bind(&j).Append(ctx, m))
	other, _ := NewMessage("d2", "u2", "also rolled back", base)
	require.NoError(t, store.Bind(&j).Append(ctx, other))
	j.Rollback()

	msgs, err := repo.List(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "third", msgs[2].Text)

	counts, err := repo.Counts(ctx, []string{"d1", "d2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"d1": 3, "d2": 0}, counts)
}

type memTx struct{ repo Repo }

func (t memTx) Disputes() Repo { return t.repo }

type memRunner struct{ store *MemoryStore }

func (r memRunner) WithTx(_ context.Context, fn func(Tx) error) error {
	var j txn.Journal
	if err := fn(memTx{r.store.Bind(&j)}); err != nil {
		j.Rollback()
		return err
	}
	return nil
}

func (r memRunner) View(_ context.Context, fn func(Tx) error) error {
	return fn(memTx{r.store.Bind(nil)})
}

func TestLog_Messages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m, _ := NewMessage("d1", "buyer", "where is it?", time.Now())
	require.NoError(t, store.Bind(nil).Append(ctx, m))

	log := NewLog(memRunner{store})
	msgs, err := log.Messages(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "buyer", msgs[0].AuthorID)

	msgs, err = log.Messages(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
