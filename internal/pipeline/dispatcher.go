package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// Dispatcher defaults.
const (
	DefaultWorkerIdleTimeout = 2 * time.Minute
	DefaultWorkerQueueSize   = 16
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Handler processes one inbound message.
type Handler interface {
	HandleInbound(ctx context.Context, msg models.NormalizedMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg models.NormalizedMessage) error

// HandleInbound calls f.
func (f HandlerFunc) HandleInbound(ctx context.Context, msg models.NormalizedMessage) error {
	return f(ctx, msg)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithIdleTimeout sets how long a chat worker waits for work before exiting.
func WithIdleTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.idle = d
		}
	}
}

// WithQueueSize sets the per-chat queue length.
func WithQueueSize(n int) DispatcherOption {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.queueSize = n
		}
	}
}

type worker struct {
	queue   chan models.NormalizedMessage
	pending int // submits holding a reference; guarded by Dispatcher.mu
}

// Dispatcher runs messages of the same chat in order on one worker per chat,
// while different chats proceed in parallel. Workers exit when idle.
type Dispatcher struct {
	handler   Handler
	idle      time.Duration
	queueSize int

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher that hands messages to h. Handlers run
// with ctx's values but not its cancellation: only Close cancels them, once
// its own context ends, so a cancelled parent still drains the queues.
func NewDispatcher(ctx context.Context, h Handler, opts ...DispatcherOption) *Dispatcher {
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d := &Dispatcher{
		ctx:       base,
		cancel:    cancel,
		quit:      make(chan struct{}),
		handler:   h,
		idle:      DefaultWorkerIdleTimeout,
		queueSize: DefaultWorkerQueueSize,
		workers:   make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit queues msg on its chat's worker, starting one if needed. It blocks
// while the chat's queue is full.
func (d *Dispatcher) Submit(ctx context.Context, msg models.NormalizedMessage) error {
	if msg.ChatID == "" {
		return fmt.Errorf("message %q has no chat id", msg.ID)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	w, ok := d.workers[msg.ChatID]
	if !ok {
		w = &worker{queue: make(chan models.NormalizedMessage, d.queueSize)}
		d.workers[msg.ChatID] = w
		d.wg.Add(1)
		go d.run(msg.ChatID, w)
	}
	w.pending++
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		w.pending--
		d.mu.Unlock()
	}()

	select {
	case w.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(chatID string, w *worker) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idle)
	defer timer.Stop()
	quit := d.quit
	wait := d.idle

	for {
		select {
		case msg := <-w.queue:
			d.handle(msg)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
		case <-quit:
			// Drain what is queued, then exit.
			quit = nil
			wait = 10 * time.Millisecond
			timer.Reset(wait)
		case <-timer.C:
			d.mu.Lock()
			if w.pending > 0 || len(w.queue) > 0 {
				d.mu.Unlock()
				timer.Reset(wait)
				continue
			}
			delete(d.workers, chatID)
			d.mu.Unlock()
			slog.Debug("Dispatcher.run: worker exiting", "chatID", chatID)
			return
		case <-d.ctx.Done():
			d.mu.Lock()
			delete(d.workers, chatID)
			d.mu.Unlock()
			if n := len(w.queue); n > 0 {
				slog.Warn("Dispatcher.run: dropping queued messages", "chatID", chatID, "count", n)
			}
			return
		}
	}
}

func (d *Dispatcher) handle(msg models.NormalizedMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.handle: handler panicked", "chatID", msg.ChatID, "messageID", msg.ID, "panic", r)
		}
	}()
	if err := d.handler.HandleInbound(d.ctx, msg); err != nil {
		slog.Warn("Dispatcher.handle: message not handled", "chatID", msg.ChatID, "messageID", msg.ID, "error", err)
	}
}

// Run submits every message from in until in closes or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, in <-chan models.NormalizedMessage) {
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			if err := d.Submit(ctx, msg); err != nil {
				slog.Error("Dispatcher.Run: failed to submit message", "chatID", msg.ChatID, "messageID", msg.ID, "error", err)
				if errors.Is(err, ErrDispatcherClosed) || ctx.Err() != nil {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Active returns the number of live chat workers.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Close rejects further submits and lets workers finish their queues. If ctx
// ends first, in-flight handlers are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.quit)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
