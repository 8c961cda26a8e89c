package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"upqueue/internal/domain"
)

func TestStreamListener_AcceptsOnceWritten(t *testing.T) {
	l := &streamListener{ctx: context.Background(), events: make(chan sseEvent, 1), writeTimeout: time.Second}
	go func() {
		e := <-l.events
		close(e.written)
	}()

	assert.True(t, l.Accept("r1", domain.SuccessResult(nil)))
}

func TestStreamListener_RefusesAfterDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := &streamListener{ctx: ctx, events: make(chan sseEvent), writeTimeout: time.Second}

	assert.False(t, l.Accept("r1", domain.ErrorResult(domain.NetworkError)))
}

func TestStreamListener_RefusesQueuedButUnwritten(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &streamListener{ctx: ctx, events: make(chan sseEvent, 1), writeTimeout: time.Second}
	done := make(chan bool)
	go func() { done <- l.Accept("r1", domain.ErrorResult(domain.NetworkError)) }()

	e := <-l.events
	assert.Equal(t, "error", e.name)
	cancel()
	assert.False(t, <-done)
}

func TestStreamListener_RefusesOnWriteTimeout(t *testing.T) {
	l := &streamListener{ctx: context.Background(), events: make(chan sseEvent, 1), writeTimeout: 10 * time.Millisecond}

	assert.False(t, l.Accept("r1", domain.SuccessResult(nil)))
}
