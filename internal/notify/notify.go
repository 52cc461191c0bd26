// Package notify delivers user notifications over redis pub/sub, one channel
// per user, for the realtime gateway to fan out.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/servicehub/backend/internal/services"
	"github.com/sirupsen/logrus"
)

const channelPrefix = "notifications:"

// Channel returns the pub/sub channel for userID.
func Channel(userID string) string {
	return channelPrefix + userID
}

type message struct {
	services.Notification
	SentAt time.Time `json:"sent_at"`
}

type RedisNotifier struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{redis: rdb, now: time.Now}
}

func (n *RedisNotifier) Notify(ctx context.Context, note services.Notification) error {
	payload, err := json.Marshal(message{Notification: note, SentAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return n.redis.Publish(ctx, Channel(note.ReceiverID), payload).Err()
}

// LogNotifier only logs; used when redis is unavailable.
type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger.WithField("component", "notify")}
}

func (n *LogNotifier) Notify(_ context.Context, note services.Notification) error {
	n.logger.WithFields(logrus.Fields{
		"receiver_id":  note.ReceiverID,
		"title":        note.Title,
		"reference_id": note.ReferenceID,
		"screen":       note.Screen,
	}).Info(note.Message)
	return nil
}

// New picks the redis notifier when a client is available.
func New(rdb *redis.Client, logger logrus.FieldLogger) services.Notifier {
	if rdb == nil {
		return NewLogNotifier(logger)
	}
	return NewRedisNotifier(rdb)
}
