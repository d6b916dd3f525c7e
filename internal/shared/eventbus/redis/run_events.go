// Package redis RunEvent 相关操作
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"overlay-backend/internal/shared/eventbus"
)

func runEventsKey(runID string) string {
	return eventbus.KeyRunEvents + runID
}

// PublishRunEvent 追加 Run 事件（XADD, MAXLEN ~1000）
func (s *Store) PublishRunEvent(ctx context.Context, event *eventbus.RunEvent) error {
	args := &redis.XAddArgs{
		Stream: runEventsKey(event.RunID),
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"seq":       event.Seq,
			"channel":   event.Channel,
			"timestamp": event.Timestamp.Format(time.RFC3339Nano),
			"payload":   string(event.Payload),
		},
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}
	event.ID = id
	return nil
}

// GetRunEvents 读取 seq > fromSeq 的事件，count <= 0 表示不限制
func (s *Store) GetRunEvents(ctx context.Context, runID string, fromSeq int, count int64) ([]*eventbus.RunEvent, error) {
	msgs, err := s.client.XRange(ctx, runEventsKey(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}

	var events []*eventbus.RunEvent
	for _, msg := range msgs {
		event := parseRunEvent(runID, msg)
		if event.Seq <= fromSeq {
			continue
		}
		events = append(events, event)
		if count > 0 && int64(len(events)) >= count {
			break
		}
	}
	return events, nil
}

// GetRunEventCount 获取 Run 事件数量
func (s *Store) GetRunEventCount(ctx context.Context, runID string) (int64, error) {
	return s.client.XLen(ctx, runEventsKey(runID)).Result()
}

// DeleteRunEvents 删除 Run 事件流
func (s *Store) DeleteRunEvents(ctx context.Context, runID string) error {
	return s.client.Del(ctx, runEventsKey(runID)).Err()
}

func parseRunEvent(runID string, msg redis.XMessage) *eventbus.RunEvent {
	event := &eventbus.RunEvent{
		ID:    msg.ID,
		RunID: runID,
	}

	if seqStr, ok := msg.Values["seq"].(string); ok {
		if seq, err := strconv.Atoi(seqStr); err == nil {
			event.Seq = seq
		}
	}
	if channel, ok := msg.Values["channel"].(string); ok {
		event.Channel = channel
	}
	if ts, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			event.Timestamp = t
		}
	}
	if payload, ok := msg.Values["payload"].(string); ok && json.Valid([]byte(payload)) {
		event.Payload = json.RawMessage(payload)
	}
	return event
}

// 确保 Store 实现了 EventBus 接口
var _ eventbus.EventBus = (*Store)(nil)
