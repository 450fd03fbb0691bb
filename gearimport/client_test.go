package gearimport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/raidloot/server/config"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"github.com/kasuganosora/raidloot/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func planner(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/gearsets/abc":
			_, _ = w.Write([]byte(`{"items":[{"slot":"Weapon","source":"raid"},{"slot":"Ring1","source":"tome"}]}`))
		case "/gearsets/bad":
			_, _ = w.Write([]byte(`{"items":[{"slot":"Tail","source":"raid"}]}`))
		case "/gearsets/boom":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, base string) *Client {
	c, _ := testutil.SetupTestCache(t)
	return NewClient(config.GearImportConfig{BaseURL: base, Timeout: time.Second, CacheTTL: time.Minute}, c, zap.NewNop())
}

func TestFetch_ConvertsAndCaches(t *testing.T) {
	var hits int32
	srv := planner(t, &hits)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	items, err := c.Fetch(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []model.GearItem{
		{Slot: model.SlotWeapon, Kind: model.ItemKindRaid},
		{Slot: model.SlotRing1, Kind: model.ItemKindAugmentedTome, RequiresUpgrade: true},
	}, items)

	again, err := c.Fetch(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, items, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second fetch served from cache")
}

func TestFetch_Errors(t *testing.T) {
	var hits int32
	srv := planner(t, &hits)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.Fetch(ctx, "missing")
	assert.ErrorIs(t, err, raid.ErrNotFound)

	_, err = c.Fetch(ctx, "bad")
	assert.ErrorIs(t, err, raid.ErrValidation)

	_, err = c.Fetch(ctx, "boom")
	require.Error(t, err)
	assert.NotErrorIs(t, err, raid.ErrNotFound)

	_, err = c.Fetch(ctx, "  ")
	assert.ErrorIs(t, err, raid.ErrValidation)
}
