package akashic_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiary/internal/akashic"
	"apiary/internal/db"
	"apiary/internal/event"
	"apiary/internal/migrate"
)

func backends(t *testing.T) map[string]akashic.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	t.Cleanup(func() { conn.Close() })
	return map[string]akashic.Store{
		"memory": akashic.NewMemoryStore(),
		"sqlite": akashic.NewSQLiteStore(conn),
	}
}

func TestAppendReplayOrder(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var ids []string
			for i := 0; i < 5; i++ {
				e := event.New(event.TypeTaskProgressed, event.ActorSystem)
				e.RunID = "run-1"
				e.Payload = map[string]any{"note": fmt.Sprintf("step %d", i)}
				require.NoError(t, store.Append(ctx, "run-1", e))
				ids = append(ids, e.ID)
			}
			got, err := store.Replay(ctx, "run-1")
			require.NoError(t, err)
			require.Len(t, got, 5)
			for i, e := range got {
				assert.Equal(t, ids[i], e.ID)
			}
		})
	}
}

func TestReplayEmptyScope(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Replay(context.Background(), "never-written")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestAppendChainsHashes(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := event.New(event.TypeRunStarted, event.ActorBeekeeper)
			second := event.New(event.TypeRunCompleted, event.ActorSystem)
			require.NoError(t, store.Append(ctx, "run-c", first))
			require.NoError(t, store.Append(ctx, "run-c", second))

			got, err := store.Replay(ctx, "run-c")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Empty(t, got[0].PrevHash)
			assert.Equal(t, got[0].Hash, got[1].PrevHash)

			tail, err := store.TailHash(ctx, "run-c")
			require.NoError(t, err)
			assert.Equal(t, got[1].Hash, tail)
		})
	}
}

func TestAppendRejectsTamperedEvent(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			e := event.New(event.TypeRunStarted, event.ActorUser)
			require.NoError(t, e.Seal())
			e.Actor = event.ActorSystem // mutation after sealing
			assert.Error(t, store.Append(context.Background(), "run-t", e))

			got, err := store.Replay(context.Background(), "run-t")
			require.NoError(t, err)
			assert.Empty(t, got, "no partial write after rejected append")
		})
	}
}

func TestAppendRejectsBrokenChain(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := event.New(event.TypeRunStarted, event.ActorUser)
			require.NoError(t, store.Append(ctx, "run-b", first))

			stale := event.New(event.TypeRunCompleted, event.ActorSystem)
			stale.PrevHash = "not-the-tail"
			require.NoError(t, stale.Seal())
			assert.ErrorIs(t, store.Append(ctx, "run-b", stale), akashic.ErrChainBroken)
		})
	}
}

func TestListScopes(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, scope := range []string{"hive-a", "hive-b"} {
				e := event.New(event.TypeHiveCreated, event.ActorUser)
				require.NoError(t, store.Append(ctx, scope, e))
			}
			scopes, err := store.ListScopes(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"hive-a", "hive-b"}, scopes)
		})
	}
}

func TestConcurrentSameScopeAppends(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					e := event.New(event.TypeTaskProgressed, event.ActorSystem)
					if err := store.Append(ctx, "run-conc", e); err != nil {
						t.Errorf("append: %v", err)
					}
				}()
			}
			wg.Wait()

			got, err := store.Replay(ctx, "run-conc")
			require.NoError(t, err)
			require.Len(t, got, 20)
			// single total order: an unbroken chain
			for i := 1; i < len(got); i++ {
				assert.Equal(t, got[i-1].Hash, got[i].PrevHash, "chain broken at %d", i)
			}
		})
	}
}
