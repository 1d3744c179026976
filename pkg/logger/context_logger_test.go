package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLogger_AddsContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithRequestID(context.Background(), "req_1")
	ctx = WithConnectionID(ctx, "conn_a")
	ctx = WithRoom(ctx, "R1")
	cl.LogInfo(ctx, "joined")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req_1", fields["request_id"])
		assert.Equal(t, "conn_a", fields["connection_id"])
		assert.Equal(t, "R1", fields["room"])
	}
}

func TestContextLogger_NoFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	cl.Sugar(context.Background()).Infow("plain", "k", "v")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, map[string]any{"k": "v"}, entries[0].ContextMap())
	}
}

func TestNew_UnknownLevelFallsBack(t *testing.T) {
	l := New("chatty")
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}
