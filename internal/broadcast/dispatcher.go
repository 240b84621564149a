package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/oshokin/pkgbroker/internal/domain/install"
	"github.com/oshokin/pkgbroker/internal/logger"
)

// Handler processes a delivered result. It runs on the dispatcher goroutine.
type Handler func(ctx context.Context, result install.Result)

// DefaultInboxSize is the inbox capacity used when New gets a non-positive size.
const DefaultInboxSize = 64

// ErrStopped is returned by senders once the dispatcher has stopped.
var ErrStopped = errors.New("dispatcher stopped")

// message is one delivery waiting in the inbox.
type message struct {
	action string
	token  uuid.UUID
	result install.Result
}

// Dispatcher owns the action-keyed subscriptions and the delivery goroutine.
type Dispatcher struct {
	// inbox queues deliveries for Run.
	inbox chan message
	// stopped is closed when Run returns.
	stopped chan struct{}
	// stopOnce guards closing stopped.
	stopOnce sync.Once

	// mu protects subscriptions.
	mu sync.Mutex
	// subscriptions maps a subscription token to its pending receiver.
	// Several receivers may wait on the same action.
	subscriptions map[uuid.UUID]*Subscription
}

// Subscription is a pending one-shot receiver.
type Subscription struct {
	dispatcher *Dispatcher
	action     string
	token      uuid.UUID
	handler    Handler
}

// New creates a dispatcher; call Run to start delivering.
func New(inboxSize int) *Dispatcher {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}

	return &Dispatcher{
		inbox:         make(chan message, inboxSize),
		stopped:       make(chan struct{}),
		subscriptions: make(map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers handler as a receiver for action. Each subscription
// only gets the results sent through its own sender.
func (d *Dispatcher) Subscribe(action string, handler Handler) *Subscription {
	sub := &Subscription{
		dispatcher: d,
		action:     action,
		token:      uuid.Must(uuid.NewV7()),
		handler:    handler,
	}

	d.mu.Lock()
	d.subscriptions[sub.token] = sub
	d.mu.Unlock()

	return sub
}

// Pending returns the number of registered receivers.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.subscriptions)
}

// Run delivers results until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "dispatcher")

	defer d.stopOnce.Do(func() { close(d.stopped) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-d.inbox:
			d.deliver(ctx, msg)
		}
	}
}

// deliver hands msg to its subscription, unregistering it first.
func (d *Dispatcher) deliver(ctx context.Context, msg message) {
	d.mu.Lock()

	sub, ok := d.subscriptions[msg.token]
	if ok {
		delete(d.subscriptions, msg.token)
	}

	d.mu.Unlock()

	if !ok {
		logger.WarnKV(ctx, "Dropping result without receiver", "action", msg.action, "status", msg.result.Status)
		return
	}

	sub.handler(ctx, msg.result)
}

// Action returns the action key of the subscription.
func (s *Subscription) Action() string {
	return s.action
}

// Cancel unregisters the subscription without firing it.
// It reports whether the subscription was still pending.
func (s *Subscription) Cancel() bool {
	d := s.dispatcher

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.subscriptions[s.token]; ok {
		delete(d.subscriptions, s.token)
		return true
	}

	return false
}

// Rearm registers the subscription again after it fired, keeping its sender
// valid for one more delivery.
func (s *Subscription) Rearm() {
	d := s.dispatcher

	d.mu.Lock()
	d.subscriptions[s.token] = s
	d.mu.Unlock()
}

// Sender returns the sender the host uses to deliver this subscription's result.
func (s *Subscription) Sender() install.ResultSender {
	return &sender{
		dispatcher: s.dispatcher,
		action:     s.action,
		token:      s.token,
	}
}

// sender posts results into the dispatcher inbox.
type sender struct {
	dispatcher *Dispatcher
	action     string
	token      uuid.UUID
}

// Send queues result for delivery. It blocks while the inbox is full.
func (s *sender) Send(ctx context.Context, result install.Result) error {
	msg := message{
		action: s.action,
		token:  s.token,
		result: result,
	}

	select {
	case <-s.dispatcher.stopped:
		return ErrStopped
	default:
	}

	select {
	case s.dispatcher.inbox <- msg:
		return nil
	case <-s.dispatcher.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
