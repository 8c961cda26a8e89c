package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"upqueue/internal/domain"
	"upqueue/internal/port"
)

// Replay defaults.
const (
	DefaultReplayWindow = 24 * time.Hour
	DefaultReplayLimit  = 500
)

// Handle identifies one listener registration.
type Handle string

// Subscription describes a listener registration.
type Subscription struct {
	// Name gives the listener a stable identity. Results delivered to a name
	// are not replayed to later registrations of the same name. Empty means
	// anonymous.
	Name string
	// RequestID limits the listener to the events of one request. Results of
	// other requests are neither delivered nor recorded as delivered.
	RequestID string
}

func (s Subscription) matches(requestID string) bool {
	return s.RequestID == "" || s.RequestID == requestID
}

// Acceptor is implemented by listeners that can fail to take a terminal
// result, such as a stream whose client has gone away. Accept is called in
// place of OnSuccess and OnError and reports whether the result was taken. A
// refused result is not recorded as delivered, so it is replayed to the next
// registration of the same name.
type Acceptor interface {
	Accept(requestID string, result domain.UploadResult) bool
}

type registration struct {
	handle Handle
	sub    Subscription
	cb     Callback
	// delivered holds the request ids whose terminal result this identity has
	// already received.
	delivered map[string]bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithReplayWindow limits replays to results completed within window.
func WithReplayWindow(window time.Duration) Option {
	return func(d *Dispatcher) {
		if window > 0 {
			d.replayWindow = window
		}
	}
}

// WithReplayLimit caps the number of results replayed to one registration.
func WithReplayLimit(limit int) Option {
	return func(d *Dispatcher) {
		if limit > 0 {
			d.replayLimit = limit
		}
	}
}

// Dispatcher keeps the listener registry and the stored terminal results.
//
// One mutex guards both, and every decision about who receives a terminal
// result is made while holding it: a registration racing a terminal write sees
// either the stored result (and replays it) or is included in the write's
// recipients, never both and never neither. Callbacks are invoked after the
// mutex is released.
type Dispatcher struct {
	mu           sync.Mutex
	store        port.ResultStore
	listeners    map[Handle]*registration
	names        map[string]Handle
	progress     map[string]int64
	replayWindow time.Duration
	replayLimit  int
	now          func() time.Time
	replays      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher persisting terminal results in store.
func NewDispatcher(store port.ResultStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		listeners:    make(map[Handle]*registration),
		names:        make(map[string]Handle),
		progress:     make(map[string]int64),
		replayWindow: DefaultReplayWindow,
		replayLimit:  DefaultReplayLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds an anonymous listener. Terminal results already stored are
// replayed to it on a separate goroutine.
func (d *Dispatcher) Register(ctx context.Context, cb Callback) Handle {
	return d.Subscribe(ctx, Subscription{}, cb)
}

// RegisterNamed adds a listener with a stable identity. Registering a name
// that is already registered replaces the previous listener. Results a
// listener of that name received before, including in an earlier process, are
// not replayed again.
func (d *Dispatcher) RegisterNamed(ctx context.Context, name string, cb Callback) Handle {
	return d.Subscribe(ctx, Subscription{Name: name}, cb)
}

// Subscribe adds a listener described by sub. Stored terminal results the
// listener has not received are replayed to it on a separate goroutine. Without
// a request id only results completed inside the replay window are considered,
// newest first up to the replay limit.
func (d *Dispatcher) Subscribe(ctx context.Context, sub Subscription, cb Callback) Handle {
	reg := &registration{
		handle:    Handle(uuid.New().String()),
		sub:       sub,
		cb:        cb,
		delivered: make(map[string]bool),
	}
	since := d.now().Add(-d.replayWindow)

	var history map[string]bool
	if sub.Name != "" {
		var err error
		history, err = d.store.Delivered(ctx, sub.Name, since)
		if err != nil {
			log.Printf("dispatcher.Subscribe: loading delivery history for %q: %v", sub.Name, err)
		}
	}

	d.mu.Lock()
	if sub.Name != "" {
		if old, ok := d.names[sub.Name]; ok {
			reg.delivered = d.listeners[old].delivered
			delete(d.listeners, old)
		} else {
			for id := range history {
				reg.delivered[id] = true
			}
		}
		d.names[sub.Name] = reg.handle
	}
	d.listeners[reg.handle] = reg
	d.mu.Unlock()

	// Terminal writes from here on see reg. Anything stored before is found
	// by the lookup below; the delivered set settles overlaps.
	records := d.replayCandidates(ctx, sub, since)

	d.mu.Lock()
	var pending []domain.TerminalRecord
	if d.listeners[reg.handle] == reg {
		for _, rec := range records {
			if reg.delivered[rec.RequestID] {
				continue
			}
			reg.delivered[rec.RequestID] = true
			d.markDelivered(ctx, rec.RequestID, reg)
			pending = append(pending, rec)
		}
	}
	d.mu.Unlock()

	if len(pending) > 0 {
		d.replays.Add(1)
		go func() {
			defer d.replays.Done()
			for _, rec := range pending {
				d.deliverTerminal(ctx, reg, rec.RequestID, rec.Result)
			}
		}()
	}
	return reg.handle
}

func (d *Dispatcher) replayCandidates(ctx context.Context, sub Subscription, since time.Time) []domain.TerminalRecord {
	if sub.RequestID != "" {
		rec, err := d.store.GetResult(ctx, sub.RequestID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.Printf("dispatcher.Subscribe: loading result %s: %v", sub.RequestID, err)
			}
			return nil
		}
		return []domain.TerminalRecord{*rec}
	}
	records, err := d.store.ListResults(ctx, since, d.replayLimit)
	if err != nil {
		log.Printf("dispatcher.Subscribe: listing stored results: %v", err)
	}
	return records
}

// Unregister removes a listener. Unknown handles are ignored.
func (d *Dispatcher) Unregister(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, ok := d.listeners[h]
	if !ok {
		return
	}
	delete(d.listeners, h)
	if reg.sub.Name != "" && d.names[reg.sub.Name] == h {
		delete(d.names, reg.sub.Name)
	}
}

// WaitReplays blocks until all replay goroutines started so far have finished.
func (d *Dispatcher) WaitReplays() {
	d.replays.Wait()
}

// DispatchStart notifies listeners that an attempt for requestID began.
func (d *Dispatcher) DispatchStart(requestID string) {
	for _, reg := range d.snapshot(requestID) {
		deliver(reg, "OnStart", func() { reg.cb.OnStart(requestID) })
	}
}

// DispatchProgress notifies listeners of transfer progress. Reports below the
// highest value already dispatched for requestID are dropped.
func (d *Dispatcher) DispatchProgress(requestID string, bytes, totalBytes int64) {
	d.mu.Lock()
	if last, ok := d.progress[requestID]; ok && bytes < last {
		d.mu.Unlock()
		return
	}
	d.progress[requestID] = bytes
	regs := d.snapshotLocked(requestID)
	d.mu.Unlock()

	for _, reg := range regs {
		deliver(reg, "OnProgress", func() { reg.cb.OnProgress(requestID, bytes, totalBytes) })
	}
}

// DispatchReschedule notifies listeners that requestID will be retried.
func (d *Dispatcher) DispatchReschedule(requestID string, code domain.ErrorCode) {
	for _, reg := range d.snapshot(requestID) {
		deliver(reg, "OnReschedule", func() { reg.cb.OnReschedule(requestID, code) })
	}
}

// DispatchSuccess stores and delivers a successful terminal result.
func (d *Dispatcher) DispatchSuccess(ctx context.Context, requestID string, data map[string]interface{}) {
	d.dispatchTerminal(ctx, requestID, domain.SuccessResult(data))
}

// DispatchError stores and delivers a failed terminal result.
func (d *Dispatcher) DispatchError(ctx context.Context, requestID string, code domain.ErrorCode) {
	d.dispatchTerminal(ctx, requestID, domain.ErrorResult(code))
}

func (d *Dispatcher) dispatchTerminal(ctx context.Context, requestID string, result domain.UploadResult) {
	d.mu.Lock()
	rec := domain.TerminalRecord{RequestID: requestID, Result: result, CompletedAt: d.now().UTC()}
	if err := d.store.SaveResult(ctx, rec); err != nil {
		log.Printf("dispatcher.dispatchTerminal: storing result for %s: %v", requestID, err)
	}
	delete(d.progress, requestID)

	var targets []*registration
	for _, reg := range d.listeners {
		if !reg.sub.matches(requestID) || reg.delivered[requestID] {
			continue
		}
		reg.delivered[requestID] = true
		d.markDelivered(ctx, requestID, reg)
		targets = append(targets, reg)
	}
	d.mu.Unlock()

	for _, reg := range targets {
		d.deliverTerminal(ctx, reg, requestID, result)
	}
}

// Forget drops the stored terminal result for requestID so it is no longer
// replayed to new listeners.
func (d *Dispatcher) Forget(ctx context.Context, requestID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, reg := range d.listeners {
		delete(reg.delivered, requestID)
	}
	return d.store.DeleteResult(ctx, requestID)
}

func (d *Dispatcher) deliverTerminal(ctx context.Context, reg *registration, requestID string, result domain.UploadResult) {
	if acc, ok := reg.cb.(Acceptor); ok {
		accepted := true
		deliver(reg, "Accept", func() { accepted = acc.Accept(requestID, result) })
		if !accepted {
			d.release(ctx, reg, requestID, result)
		}
		return
	}
	if result.Succeeded() {
		deliver(reg, "OnSuccess", func() { reg.cb.OnSuccess(requestID, result.Data) })
		return
	}
	deliver(reg, "OnError", func() { reg.cb.OnError(requestID, result.Error) })
}

// release undoes the delivery of a refused result. If another registration
// has taken over the name in the meantime, the result goes to it.
func (d *Dispatcher) release(ctx context.Context, reg *registration, requestID string, result domain.UploadResult) {
	// The refusing listener's request context is usually already canceled.
	ctx = context.WithoutCancel(ctx)

	d.mu.Lock()
	delete(reg.delivered, requestID)
	var next *registration
	if name := reg.sub.Name; name != "" {
		if err := d.store.UnmarkDelivered(ctx, requestID, name); err != nil {
			log.Printf("dispatcher.release: %s for %q: %v", requestID, name, err)
		}
		if h, ok := d.names[name]; ok && h != reg.handle {
			succ := d.listeners[h]
			if succ.sub.matches(requestID) && !succ.delivered[requestID] {
				succ.delivered[requestID] = true
				d.markDelivered(ctx, requestID, succ)
				next = succ
			}
		}
	}
	d.mu.Unlock()

	log.Printf("dispatcher.release: listener %s refused result for %s", reg.handle, requestID)
	if next != nil {
		d.deliverTerminal(ctx, next, requestID, result)
	}
}

func (d *Dispatcher) markDelivered(ctx context.Context, requestID string, reg *registration) {
	if reg.sub.Name == "" {
		return
	}
	if err := d.store.MarkDelivered(ctx, requestID, reg.sub.Name); err != nil {
		log.Printf("dispatcher.markDelivered: %s to %q: %v", requestID, reg.sub.Name, err)
	}
}

func (d *Dispatcher) snapshot(requestID string) []*registration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked(requestID)
}

func (d *Dispatcher) snapshotLocked(requestID string) []*registration {
	regs := make([]*registration, 0, len(d.listeners))
	for _, reg := range d.listeners {
		if reg.sub.matches(requestID) {
			regs = append(regs, reg)
		}
	}
	return regs
}

// deliver invokes fn, containing a panicking listener so the others still
// receive the event.
func deliver(reg *registration, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatcher.deliver: listener %s panicked in %s: %v", reg.handle, event, r)
		}
	}()
	fn()
}
