package audit

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_AppendLinksHashes(t *testing.T) {
	chain := NewChain()

	first := chain.Append("EXP-1|->Pendiente|sistema|operation created")
	second := chain.Append("EXP-1|Pendiente->En proceso|maria|operator assigned: op-3")

	assert.Equal(t, strings.Repeat("0", 64), first.PreviousHash)
	assert.Equal(t, first.Hash, second.PreviousHash)
	assert.NotEmpty(t, second.Hash)
}

func TestVerify_DetectsTampering(t *testing.T) {
	chain := NewChain()
	chain.Append("a")
	chain.Append("b")
	chain.Append("c")
	entries := chain.Drain()

	require.NoError(t, Verify(entries))

	entries[1].Payload = "b-forged"
	assert.Error(t, Verify(entries))
}

func TestVerify_DetectsBrokenLink(t *testing.T) {
	chain := NewChain()
	chain.Append("a")
	chain.Append("b")
	entries := chain.Drain()

	entries[1].PreviousHash = strings.Repeat("f", 64)
	entries[1].Hash = entryHash(entries[1].PreviousHash, entries[1].Timestamp, entries[1].Payload)
	assert.Error(t, Verify(entries))
}

func TestVerify_EmptyChain(t *testing.T) {
	assert.NoError(t, Verify(nil))
}

func TestDrain_ClearsPending(t *testing.T) {
	chain := NewChain()
	chain.Append("a")

	assert.Len(t, chain.Drain(), 1)
	assert.Empty(t, chain.Drain())
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func TestStore_ArchiveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	chain := NewChain()
	chain.Append("EXP-1|->Pendiente|sistema|operation created")
	chain.Append("EXP-1|Pendiente->En proceso|maria|operator assigned: op-3")
	head := chain.Head()

	require.NoError(t, store.Archive(ctx, chain.Drain()))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.NoError(t, Verify(loaded))

	storedHead, err := store.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, head, storedHead)
}

func TestStore_HeadEmptyTrail(t *testing.T) {
	store := openTestStore(t)

	head, err := store.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", head)
}

func TestStore_ResumeAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	chain := NewChain()
	chain.Append("first")
	require.NoError(t, store.Archive(ctx, chain.Drain()))

	head, err := store.Head(ctx)
	require.NoError(t, err)

	resumed := ResumeChain(head)
	resumed.Append("second")
	require.NoError(t, store.Archive(ctx, resumed.Drain()))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.NoError(t, Verify(loaded))
}
