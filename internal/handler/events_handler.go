package handler

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"upqueue/internal/dispatch"
	"upqueue/internal/domain"
)

// ListenerRegistry is satisfied by *dispatch.Dispatcher.
type ListenerRegistry interface {
	Subscribe(ctx context.Context, sub dispatch.Subscription, cb dispatch.Callback) dispatch.Handle
	Unregister(h dispatch.Handle)
}

// EventsHandler streams upload lifecycle events as server-sent events.
type EventsHandler struct {
	registry ListenerRegistry
	buffer   int
	// writeTimeout bounds how long a terminal event waits to reach the wire
	// before it is handed back to the dispatcher.
	writeTimeout time.Duration
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(registry ListenerRegistry) *EventsHandler {
	return &EventsHandler{registry: registry, buffer: 256, writeTimeout: 10 * time.Second}
}

// Event is one server-sent event payload.
type Event struct {
	RequestID  string                 `json:"request_id"`
	Bytes      int64                  `json:"bytes,omitempty"`
	TotalBytes int64                  `json:"total_bytes,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

type sseEvent struct {
	name    string
	payload Event
	// written is closed once a terminal event has been flushed.
	written chan struct{}
}

// streamListener feeds one SSE connection. Terminal results count as
// delivered only after they were flushed to the client.
type streamListener struct {
	ctx          context.Context
	events       chan sseEvent
	writeTimeout time.Duration
}

func (l *streamListener) send(e sseEvent) bool {
	select {
	case l.events <- e:
		return true
	case <-l.ctx.Done():
		return false
	}
}

func (l *streamListener) OnStart(id string) {
	l.send(sseEvent{name: "start", payload: Event{RequestID: id}})
}

func (l *streamListener) OnProgress(id string, bytes, total int64) {
	l.send(sseEvent{name: "progress", payload: Event{RequestID: id, Bytes: bytes, TotalBytes: total}})
}

func (l *streamListener) OnReschedule(id string, code domain.ErrorCode) {
	l.send(sseEvent{name: "reschedule", payload: Event{RequestID: id, Error: code.String()}})
}

func (l *streamListener) OnSuccess(id string, data map[string]interface{}) {
	l.Accept(id, domain.SuccessResult(data))
}

func (l *streamListener) OnError(id string, code domain.ErrorCode) {
	l.Accept(id, domain.ErrorResult(code))
}

func (l *streamListener) Accept(id string, result domain.UploadResult) bool {
	e := sseEvent{name: "success", payload: Event{RequestID: id, Data: result.Data}, written: make(chan struct{})}
	if !result.Succeeded() {
		e.name = "error"
		e.payload = Event{RequestID: id, Error: result.Error.String()}
	}
	if !l.send(e) {
		return false
	}

	timer := time.NewTimer(l.writeTimeout)
	defer timer.Stop()
	select {
	case <-e.written:
		return true
	case <-l.ctx.Done():
	case <-timer.C:
	}
	select {
	case <-e.written:
		return true
	default:
		return false
	}
}

// Stream handles GET /api/v1/uploads/events. With ?listener=<name> the
// connection takes over that listener identity, so terminal results already
// sent to an earlier connection with the same name are not sent again.
// ?request_id=<id> narrows the stream to one request; other requests' results
// stay pending for the listener name.
func (h *EventsHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	listener := &streamListener{
		ctx:          ctx,
		events:       make(chan sseEvent, h.buffer),
		writeTimeout: h.writeTimeout,
	}
	sub := dispatch.Subscription{Name: c.Query("listener"), RequestID: c.Query("request_id")}

	handle := h.registry.Subscribe(ctx, sub, listener)
	defer h.registry.Unregister(handle)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e := <-listener.events:
			c.SSEvent(e.name, e.payload)
			c.Writer.Flush()
			if e.written != nil {
				close(e.written)
			}
			return true
		}
	})
	log.Printf("eventsHandler.Stream: listener %s disconnected", handle)
}
