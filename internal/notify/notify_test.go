package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub.org/internal/auth"
)

func TestRedisOutboxAppendsJob(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	outbox, err := NewRedisOutbox(client, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultStream, outbox.Stream())
	require.NoError(t, outbox.Ping(context.Background()))

	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, outbox.SendOTP(context.Background(), "ada@example.com", "042917", exp))

	msgs, err := client.XRange(context.Background(), DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ada@example.com", msgs[0].Values["email"])
	assert.Equal(t, "042917", msgs[0].Values["code"])
	assert.Equal(t, "password_reset", msgs[0].Values["kind"])
	assert.Equal(t, "2026-01-02T03:04:05Z", msgs[0].Values["expires_at"])
}

func TestRedisOutboxUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	outbox, err := NewRedisOutbox(client, "mail:test")
	require.NoError(t, err)

	mr.Close()
	assert.Error(t, outbox.SendOTP(context.Background(), "ada@example.com", "000001", time.Now()))
}

func TestNewRedisOutboxRequiresClient(t *testing.T) {
	_, err := NewRedisOutbox(nil, "x")
	assert.Error(t, err)
}

func TestLogSenderWritesCode(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	require.NoError(t, LogSender{Logger: logger}.SendOTP(context.Background(), "ada@example.com", "123456", time.Now()))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "otp.issued", entry["event"])
	assert.Equal(t, "123456", entry["code"])
	assert.Equal(t, "ada@example.com", entry["email"])
}

func TestWithLogEchoFansOutToOutboxAndLog(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	outbox, err := NewRedisOutbox(client, "mail:echo")
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	assert.Equal(t, auth.OTPSender(outbox), WithLogEcho(outbox, logger, false))

	sender := WithLogEcho(outbox, logger, true)
	require.IsType(t, Multi{}, sender)
	require.NoError(t, sender.SendOTP(context.Background(), "ada@example.com", "314159", time.Now()))

	msgs, err := client.XRange(context.Background(), "mail:echo", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "314159", msgs[0].Values["code"])

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "314159", entry["code"])
}

type failingSender struct{ err error }

func (f failingSender) SendOTP(context.Context, string, string, time.Time) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	errB := errors.New("b down")
	m := Multi{failingSender{errA}, nil, failingSender{nil}, failingSender{errB}}

	err := m.SendOTP(context.Background(), "ada@example.com", "123456", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	assert.NoError(t, Multi{failingSender{nil}}.SendOTP(context.Background(), "x", "y", time.Now()))
}
