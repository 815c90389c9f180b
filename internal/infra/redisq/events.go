package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"

	"github.com/redis/go-redis/v9"
)

var _ ports.EventSink = (*Client)(nil)

// Publish appends e to the events stream, trimming it to roughly MaxLen
// entries.
func (c *Client) Publish(ctx context.Context, e domain.Event) error {
	b, err := EncodeEvent(e)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: c.Cfg.EventsStream,
		Values: map[string]interface{}{"event": b, "type": string(e.Type), "task_id": e.TaskID},
	}
	if c.Cfg.MaxLen > 0 {
		args.MaxLen = c.Cfg.MaxLen
		args.Approx = true
	}
	if err := c.Rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publishing %s event for %s: %w", e.Type, e.TaskID, err)
	}
	return nil
}

func EncodeEvent(e domain.Event) ([]byte, error) {
	return json.Marshal(e)
}

// Events reads up to count entries of the stream starting after lastID
// ("0" for the beginning), returning them with the id of the last one.
func (c *Client) Events(ctx context.Context, lastID string, count int64) ([]domain.Event, string, error) {
	res, err := c.Rdb.XRangeN(ctx, c.Cfg.EventsStream, "("+lastID, "+", count).Result()
	if err != nil {
		return nil, lastID, err
	}
	events := make([]domain.Event, 0, len(res))
	for _, msg := range res {
		lastID = msg.ID
		var e domain.Event
		switch v := msg.Values["event"].(type) {
		case string:
			err = json.Unmarshal([]byte(v), &e)
		case []byte:
			err = json.Unmarshal(v, &e)
		default:
			err = fmt.Errorf("unexpected event type: %T", v)
		}
		if err != nil {
			return events, lastID, err
		}
		events = append(events, e)
	}
	return events, lastID, nil
}
