// Package notify delivers password reset codes to their recipients.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"learnhub.org/internal/auth"
	"learnhub.org/internal/obs"
)

var (
	_ auth.OTPSender = LogSender{}
	_ auth.OTPSender = (*RedisOutbox)(nil)
	_ auth.OTPSender = Multi(nil)
)

// LogSender writes codes to the structured log. Development only.
type LogSender struct {
	Logger logrus.FieldLogger
}

func (s LogSender) SendOTP(_ context.Context, email, code string, expiresAt time.Time) error {
	l := s.Logger
	if l == nil {
		l = obs.Logger()
	}
	l.WithFields(logrus.Fields{
		"event":      "otp.issued",
		"email":      email,
		"code":       code,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	}).Info("password reset code issued")
	return nil
}

// DefaultStream is the Redis stream consumed by the mail worker.
const DefaultStream = "mail:otp"

// RedisOutbox appends mail jobs to a Redis stream for asynchronous delivery.
type RedisOutbox struct {
	client *redis.Client
	stream string
}

func NewRedisOutbox(client *redis.Client, stream string) (*RedisOutbox, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisOutbox{client: client, stream: stream}, nil
}

// Stream returns the destination stream key.
func (o *RedisOutbox) Stream() string { return o.stream }

func (o *RedisOutbox) SendOTP(ctx context.Context, email, code string, expiresAt time.Time) error {
	return o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		Values: map[string]any{
			"kind":       "password_reset",
			"email":      email,
			"code":       code,
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		},
	}).Err()
}

// Ping reports Redis reachability for readiness probes.
func (o *RedisOutbox) Ping(ctx context.Context) error {
	return o.client.Ping(ctx).Err()
}

// WithLogEcho returns primary, or a Multi that also logs each code when echo
// is set. Used by staging deployments that deliver through the outbox.
func WithLogEcho(primary auth.OTPSender, logger logrus.FieldLogger, echo bool) auth.OTPSender {
	if !echo {
		return primary
	}
	return Multi{primary, LogSender{Logger: logger}}
}

// Multi fans a code out to every sender and joins their errors.
type Multi []auth.OTPSender

func (m Multi) SendOTP(ctx context.Context, email, code string, expiresAt time.Time) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.SendOTP(ctx, email, code, expiresAt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
