package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zettel-agent/backend/internal/storage"
	"github.com/zettel-agent/backend/internal/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.RunContractTests(t, func(t *testing.T) storage.NoteStore {
		return NewStore()
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewStore()
	note := storagetest.NewNote("a", "alpha", time.Now())
	_, err := store.Insert(context.Background(), note)
	require.NoError(t, err)

	note.Tags[0] = "mutated"
	got, err := store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", got.Tags[0])

	got.Summary = "changed"
	again, err := store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", again.Summary)
	assert.Equal(t, 1, store.Len())
}
