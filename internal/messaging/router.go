package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"go.mau.fi/whatsmeow/types/events"
)

// DefaultSendTimeout bounds a single channel send.
const DefaultSendTimeout = 15 * time.Second

// Observer receives delivery events.
type Observer interface {
	MessageSent(channel models.ChannelName, success bool)
	StickyFailover(from, to models.ChannelName)
	StickySize(n int)
}

// RouterOpts configures a DeliveryRouter.
type RouterOpts struct {
	StickyCapacity int
	StickyTTL      time.Duration
	SendTimeout    time.Duration
	Now            func() time.Time
	Observer       Observer
}

// RouterOption configures a DeliveryRouter.
type RouterOption func(*RouterOpts)

// WithStickyCapacity bounds the number of chats pinned to the backup channel.
func WithStickyCapacity(n int) RouterOption {
	return func(o *RouterOpts) { o.StickyCapacity = n }
}

// WithStickyTTL sets how long a chat stays on the backup channel after a failure.
// Zero keeps chats pinned until reset.
func WithStickyTTL(d time.Duration) RouterOption {
	return func(o *RouterOpts) { o.StickyTTL = d }
}

// WithSendTimeout bounds a single channel send.
func WithSendTimeout(d time.Duration) RouterOption {
	return func(o *RouterOpts) { o.SendTimeout = d }
}

// WithRouterClock injects the time source used for sticky expiry.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(o *RouterOpts) { o.Now = now }
}

// WithRouterObserver reports sends and fail-overs.
func WithRouterObserver(obs Observer) RouterOption {
	return func(o *RouterOpts) { o.Observer = obs }
}

// ChannelStatus is the state of one backend.
type ChannelStatus struct {
	Name       models.ChannelName `json:"name,omitempty"`
	Configured bool               `json:"configured"`
	Available  bool               `json:"available"`
}

// Status is a snapshot of the router.
type Status struct {
	Available      bool          `json:"available"`
	Primary        ChannelStatus `json:"primary"`
	Backup         ChannelStatus `json:"backup"`
	StickyChats    int           `json:"sticky_chats"`
	StickyCapacity int           `json:"sticky_capacity"`
	StickyTTL      string        `json:"sticky_ttl"`
}

// DeliveryRouter sends over a primary channel and fails over to a backup.
// Once primary delivery fails for a chat, that chat is pinned to the backup
// until its sticky entry expires, is evicted, or is reset.
type DeliveryRouter struct {
	primary Channel
	backup  Channel
	sticky  *stickySet
	opts    RouterOpts

	inbound   chan models.NormalizedMessage
	startOnce sync.Once
}

// NewDeliveryRouter creates a router. Either channel may be nil.
func NewDeliveryRouter(primary, backup Channel, opts ...RouterOption) *DeliveryRouter {
	o := RouterOpts{
		StickyCapacity: DefaultStickyCapacity,
		StickyTTL:      DefaultStickyTTL,
		SendTimeout:    DefaultSendTimeout,
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &DeliveryRouter{
		primary: primary,
		backup:  backup,
		sticky:  newStickySet(o.StickyCapacity, o.StickyTTL, o.Now),
		opts:    o,
		inbound: make(chan models.NormalizedMessage, DefaultChannelBufferSize),
	}
}

// SendMessage delivers text (and optional media) to chatID.
func (r *DeliveryRouter) SendMessage(ctx context.Context, chatID string, text string, media *models.Media) (models.SendResult, error) {
	var primaryErr error
	if r.primary != nil && !r.sticky.Contains(chatID) {
		if r.primary.IsAvailable(ctx) {
			res, err := r.send(ctx, r.primary, chatID, text, media)
			if err == nil {
				return res, nil
			}
			primaryErr = err
			slog.Warn("DeliveryRouter.SendMessage: primary send failed", "chatID", chatID, "channel", r.primary.Name(), "error", err)
		} else {
			primaryErr = fmt.Errorf("%s unavailable", r.primary.Name())
			slog.Warn("DeliveryRouter.SendMessage: primary unavailable", "chatID", chatID, "channel", r.primary.Name())
		}
		if r.backup != nil {
			r.pin(chatID)
		}
	}

	if r.backup == nil {
		res := models.SendResult{Error: ErrChannelUnavailable.Error()}
		if r.primary != nil {
			res.Channel = r.primary.Name()
		}
		if primaryErr != nil {
			return res, fmt.Errorf("%w: %w", ErrChannelUnavailable, primaryErr)
		}
		return res, ErrChannelUnavailable
	}

	res, err := r.send(ctx, r.backup, chatID, text, media)
	if err != nil {
		slog.Error("DeliveryRouter.SendMessage: backup send failed", "chatID", chatID, "channel", r.backup.Name(), "error", err)
		return res, fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}
	return res, nil
}

func (r *DeliveryRouter) send(ctx context.Context, ch Channel, chatID, text string, media *models.Media) (models.SendResult, error) {
	sctx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
	defer cancel()

	res, err := ch.SendMessage(sctx, chatID, text, media)
	res.Channel = ch.Name()
	if err == nil && !res.Success {
		err = fmt.Errorf("%s reported an unsuccessful send", ch.Name())
	}
	if err != nil {
		res.Success = false
		if res.Error == "" {
			res.Error = err.Error()
		}
	}
	if r.opts.Observer != nil {
		r.opts.Observer.MessageSent(ch.Name(), err == nil)
	}
	return res, err
}

func (r *DeliveryRouter) pin(chatID string) {
	if evicted := r.sticky.Add(chatID); evicted != "" {
		slog.Info("DeliveryRouter.pin: sticky set full, evicted least recently used chat", "evicted", evicted)
	}
	slog.Info("DeliveryRouter.pin: chat pinned to backup channel", "chatID", chatID, "channel", r.backup.Name())
	if r.opts.Observer != nil {
		r.opts.Observer.StickyFailover(r.primary.Name(), r.backup.Name())
		r.opts.Observer.StickySize(r.sticky.Len())
	}
}

// SendTyping shows or clears the typing indicator on the channel chatID is routed to.
// Channels without typing support are skipped.
func (r *DeliveryRouter) SendTyping(ctx context.Context, chatID string, typing bool) error {
	ch := r.route(chatID)
	if ch == nil {
		return nil
	}
	t, ok := ch.(Typer)
	if !ok {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
	defer cancel()
	return t.SendTyping(sctx, chatID, typing)
}

// route returns the channel SendMessage would try first, without probing.
func (r *DeliveryRouter) route(chatID string) Channel {
	if r.primary != nil && !r.sticky.Contains(chatID) {
		return r.primary
	}
	return r.backup
}

// ReceiveMessage detects the wire format of raw and normalizes it with the
// matching channel.
func (r *DeliveryRouter) ReceiveMessage(raw any) (*models.NormalizedMessage, error) {
	name, ok := DetectFormat(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPayload, raw)
	}
	for _, ch := range []Channel{r.primary, r.backup} {
		if ch != nil && ch.Name() == name {
			return ch.ReceiveMessage(raw)
		}
	}
	return nil, fmt.Errorf("%w: %s not configured", ErrChannelUnavailable, name)
}

// DetectFormat reports which channel produced raw.
func DetectFormat(raw any) (models.ChannelName, bool) {
	switch raw.(type) {
	case *events.Message:
		return models.ChannelWhatsmeow, true
	case url.Values, map[string]string, map[string]any:
		if _, ok := twilioFields(raw); ok {
			return models.ChannelTwilio, true
		}
	}
	return "", false
}

// IsAvailable reports whether either channel can send.
func (r *DeliveryRouter) IsAvailable(ctx context.Context) bool {
	return (r.primary != nil && r.primary.IsAvailable(ctx)) || (r.backup != nil && r.backup.IsAvailable(ctx))
}

// GetStatus reports both channels and the sticky set.
func (r *DeliveryRouter) GetStatus(ctx context.Context) Status {
	st := Status{
		Primary:        channelStatus(ctx, r.primary),
		Backup:         channelStatus(ctx, r.backup),
		StickyChats:    r.sticky.Len(),
		StickyCapacity: r.sticky.capacity,
		StickyTTL:      r.opts.StickyTTL.String(),
	}
	st.Available = st.Primary.Available || st.Backup.Available
	if r.opts.Observer != nil {
		r.opts.Observer.StickySize(st.StickyChats)
	}
	return st
}

func channelStatus(ctx context.Context, ch Channel) ChannelStatus {
	if ch == nil {
		return ChannelStatus{}
	}
	return ChannelStatus{Name: ch.Name(), Configured: true, Available: ch.IsAvailable(ctx)}
}

// IsSticky reports whether chatID is currently pinned to the backup.
func (r *DeliveryRouter) IsSticky(chatID string) bool {
	return r.sticky.Contains(chatID)
}

// ResetSticky returns chatID to the primary channel.
func (r *DeliveryRouter) ResetSticky(chatID string) bool {
	removed := r.sticky.Remove(chatID)
	if removed {
		slog.Info("DeliveryRouter.ResetSticky: chat returned to primary channel", "chatID", chatID)
		if r.opts.Observer != nil {
			r.opts.Observer.StickySize(r.sticky.Len())
		}
	}
	return removed
}

// ClearSticky returns every chat to the primary channel.
func (r *DeliveryRouter) ClearSticky() int {
	n := r.sticky.Clear()
	slog.Info("DeliveryRouter.ClearSticky: sticky set cleared", "removed", n)
	if r.opts.Observer != nil {
		r.opts.Observer.StickySize(0)
	}
	return n
}

// Start starts every channel that is a Service and fans their inbound
// messages into Messages. Messages closes once all services have stopped.
// If a service fails to start, the ones already started are stopped again.
func (r *DeliveryRouter) Start(ctx context.Context) error {
	var err error
	r.startOnce.Do(func() {
		var (
			wg      sync.WaitGroup
			started []Service
		)
		defer func() {
			go func() {
				wg.Wait()
				close(r.inbound)
			}()
		}()
		for _, ch := range []Channel{r.primary, r.backup} {
			svc, ok := ch.(Service)
			if !ok {
				continue
			}
			if err = svc.Start(ctx); err != nil {
				err = fmt.Errorf("failed to start %s: %w", svc.Name(), err)
				for _, s := range started {
					if stopErr := s.Stop(); stopErr != nil {
						slog.Warn("DeliveryRouter.Start: failed to stop channel", "channel", s.Name(), "error", stopErr)
					}
				}
				return
			}
			started = append(started, svc)
			wg.Add(1)
			go func(in <-chan models.NormalizedMessage) {
				defer wg.Done()
				for msg := range in {
					select {
					case r.inbound <- msg:
					case <-ctx.Done():
						return
					}
				}
			}(svc.Messages())
		}
	})
	return err
}

// Messages returns inbound messages from all channels.
func (r *DeliveryRouter) Messages() <-chan models.NormalizedMessage {
	return r.inbound
}

// Stop stops every channel that is a Service.
func (r *DeliveryRouter) Stop() error {
	for _, ch := range []Channel{r.primary, r.backup} {
		if svc, ok := ch.(Service); ok {
			if err := svc.Stop(); err != nil {
				return err
			}
		}
	}
	return nil
}

// SendText sends a text-only message to a phone number or chat id.
func (r *DeliveryRouter) SendText(ctx context.Context, to, body string) error {
	_, err := r.SendMessage(ctx, models.ChatIDFromPhone(to), body, nil)
	return err
}
