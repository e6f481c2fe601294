package delivery

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	ac "github.com/panyam/authcore"
)

// DefaultRedisStream receives code messages unless configured otherwise
const DefaultRedisStream = "authcore:codes"

// RedisSender appends codes to a Redis stream for a mail worker to consume
type RedisSender struct {
	Client *goredis.Client
	Stream string
	// MaxLen caps the stream length (approximate trimming). Zero keeps everything.
	MaxLen int64
	Now    func() time.Time
}

func NewRedisSender(client *goredis.Client, stream string) *RedisSender {
	if stream == "" {
		stream = DefaultRedisStream
	}
	return &RedisSender{Client: client, Stream: stream, MaxLen: 10000}
}

func (r *RedisSender) SendCode(ctx context.Context, email, code string, purpose ac.CodePurpose) error {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	data, err := newCodeMessage(email, code, purpose, now).Marshal()
	if err != nil {
		return fmt.Errorf("marshal code message: %w", err)
	}

	args := &goredis.XAddArgs{
		Stream: r.Stream,
		Values: map[string]any{
			"email":   email,
			"purpose": string(purpose),
			"payload": string(data),
		},
	}
	if r.MaxLen > 0 {
		args.MaxLen = r.MaxLen
		args.Approx = true
	}
	if err := r.Client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append code to stream %s: %w", r.Stream, err)
	}
	return nil
}
