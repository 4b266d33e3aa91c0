package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/institution/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

func institution(t *testing.T, hexPair string) *models.Institution {
	t.Helper()
	inst, err := models.NewInstitution(
		id.Address("0x"+strings.Repeat(hexPair, 20)),
		"University "+hexPair,
		"REG-"+hexPair,
		time.Unix(1700000000, 0).UTC(),
	)
	require.NoError(t, err)
	return inst
}

func TestCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	require.NoError(t, store.CreateIfAbsent(ctx, institution(t, "aa")))

	t.Run("duplicate identity conflicts", func(t *testing.T) {
		err := store.CreateIfAbsent(ctx, institution(t, "aa"))
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("concurrent registration has one winner", func(t *testing.T) {
		const workers = 16
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- store.CreateIfAbsent(ctx, institution(t, "bb"))
			}()
		}
		wg.Wait()
		close(results)

		var successes int
		for err := range results {
			if err == nil {
				successes++
			}
		}
		assert.Equal(t, 1, successes)
	})
}

func TestFindAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	inst := institution(t, "aa")
	require.NoError(t, store.CreateIfAbsent(ctx, inst))

	t.Run("unknown identity not found", func(t *testing.T) {
		_, err := store.FindByIdentity(ctx, id.Address("0x"+strings.Repeat("ff", 20)))
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("update of unknown identity not found", func(t *testing.T) {
		assert.ErrorIs(t, store.Update(ctx, institution(t, "ff")), sentinel.ErrNotFound)
	})

	t.Run("update persists", func(t *testing.T) {
		inst.Active = false
		require.NoError(t, store.Update(ctx, inst))

		found, err := store.FindByIdentity(ctx, inst.Identity)
		require.NoError(t, err)
		assert.False(t, found.Active)
	})

	t.Run("returned institutions are copies", func(t *testing.T) {
		found, err := store.FindByIdentity(ctx, inst.Identity)
		require.NoError(t, err)
		found.Name = "mutated"

		again, err := store.FindByIdentity(ctx, inst.Identity)
		require.NoError(t, err)
		assert.NotEqual(t, "mutated", again.Name)
	})
}
