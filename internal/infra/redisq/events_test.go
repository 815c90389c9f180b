package redisq_test

import (
	"context"
	"encoding/json"
	"gridjobs/internal/config"
	"gridjobs/internal/domain"
	"gridjobs/internal/infra/redisq"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEncodeEvent(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b, err := redisq.EncodeEvent(domain.Event{Type: domain.EventFailed, TaskID: "t1", Op: "runGfm", At: at, Message: "M"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"failed","task_id":"t1","op":"runGfm","at":"2024-05-01T12:00:00Z","message":"M"}`, string(b))

	var e domain.Event
	require.NoError(t, json.Unmarshal(b, &e))
	require.Equal(t, "runGfm", e.Op)
}

// TestPublish needs a live server, e.g. GRIDJOBS_TEST_REDIS=localhost:6379.
func TestPublish(t *testing.T) {
	addr := os.Getenv("GRIDJOBS_TEST_REDIS")
	if addr == "" {
		t.Skip("skipped, GRIDJOBS_TEST_REDIS not set")
	}
	cli := redisq.New(config.Redis{Addr: addr, EventsStream: "gridjobs:test:" + uuid.NewString(), MaxLen: 100})
	t.Cleanup(func() {
		_ = cli.Rdb.Del(context.Background(), cli.Cfg.EventsStream).Err()
		_ = cli.Close()
	})
	require.NoError(t, cli.Connect(t.Context()))

	for _, typ := range []domain.EventType{domain.EventStarted, domain.EventReady, domain.EventDownloaded} {
		require.NoError(t, cli.Publish(t.Context(), domain.Event{Type: typ, TaskID: "t1", Op: "gridlabRun", At: time.Now()}))
	}

	events, last, err := cli.Events(t.Context(), "0", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventStarted, events[0].Type)

	events, _, err = cli.Events(t.Context(), last, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventDownloaded, events[0].Type)
}
