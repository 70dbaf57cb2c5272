package redisstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardwatch/wardwatch/server/internal/alert"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *Store) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, New(client, "test", time.Hour)
}

func sampleAlert(id string, version int64, status alert.Status) alert.Alert {
	return alert.Alert{
		ID:         id,
		HospitalID: "H1",
		Room:       "ER-1",
		Type:       alert.TypeCardiacArrest,
		Urgency:    1,
		CreatedBy:  "nurse-1",
		Tier:       1,
		Status:     status,
		Version:    version,
	}
}

func TestPersist_WritesHashAndIndex(t *testing.T) {
	mr, st := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, st.Persist(ctx, sampleAlert("a1", 1, alert.StatusActive)))

	assert.Equal(t, "1", mr.HGet("test:alert:a1", "version"))
	members, err := mr.Members("test:active:H1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, members)
}

func TestPersist_IgnoresStaleVersion(t *testing.T) {
	mr, st := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, st.Persist(ctx, sampleAlert("a1", 3, alert.StatusAcknowledged)))
	require.NoError(t, st.Persist(ctx, sampleAlert("a1", 2, alert.StatusEscalated)))

	var a alert.Alert
	require.NoError(t, json.Unmarshal([]byte(mr.HGet("test:alert:a1", "data")), &a))
	assert.Equal(t, alert.StatusAcknowledged, a.Status)
	assert.Equal(t, int64(3), a.Version)
}

func TestPersist_ResolvedLeavesIndexAndExpires(t *testing.T) {
	mr, st := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, st.Persist(ctx, sampleAlert("a1", 1, alert.StatusActive)))
	require.NoError(t, st.Persist(ctx, sampleAlert("a1", 2, alert.StatusResolved)))

	member, err := st.client.SIsMember(ctx, "test:active:H1", "a1").Result()
	require.NoError(t, err)
	assert.False(t, member, "resolved alert should leave the active index")
	assert.Equal(t, time.Hour, mr.TTL("test:alert:a1"))

	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists("test:alert:a1"))
}

func TestLoadActive(t *testing.T) {
	_, st := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, st.Persist(ctx, sampleAlert("a1", 1, alert.StatusActive)))
	require.NoError(t, st.Persist(ctx, sampleAlert("a2", 2, alert.StatusEscalated)))
	require.NoError(t, st.Persist(ctx, sampleAlert("a3", 4, alert.StatusResolved)))

	got, err := st.LoadActive(ctx, "H1")
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "a2"}, ids)
}

func TestLoadActive_SkipsDanglingIndexEntries(t *testing.T) {
	mr, st := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, st.Persist(ctx, sampleAlert("a1", 1, alert.StatusActive)))
	mr.SetAdd("test:active:H1", "ghost") //nolint:errcheck

	got, err := st.LoadActive(ctx, "H1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
}

func TestLoadActive_UnknownHospital(t *testing.T) {
	_, st := setupRedis(t)
	got, err := st.LoadActive(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPersist_ServerDown(t *testing.T) {
	mr, st := setupRedis(t)
	mr.Close()

	err := st.Persist(context.Background(), sampleAlert("a1", 1, alert.StatusActive))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: persist a1")
}
