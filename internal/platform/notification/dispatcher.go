package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Delivery outcomes reported to a Recorder.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Recorder observes delivery outcomes.
type Recorder interface {
	NotificationResult(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) NotificationResult(string) {}

// Dispatcher moves messages from a Queue to a Sender with a fixed pool of
// workers.
type Dispatcher struct {
	queue    Queue
	sender   Sender
	workers  int
	timeout  time.Duration
	log      zerolog.Logger
	recorder Recorder

	startOnce sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithSendTimeout bounds each Send call.
func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

func NewDispatcher(q Queue, s Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    q,
		sender:   s,
		workers:  1,
		timeout:  10 * time.Second,
		log:      zerolog.Nop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue hands m to the queue without blocking. A full or closed queue
// drops the message; the drop is logged and counted, never returned.
func (d *Dispatcher) Enqueue(ctx context.Context, m Message) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := d.queue.Push(ctx, m); err != nil {
		d.recorder.NotificationResult(OutcomeDropped)
		d.log.Warn().Err(err).
			Str("event", m.Event).
			Str("patient_id", m.PatientID).
			Msg("notification dropped")
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		d.cancel = cancel
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work(ctx, i)
		}
		d.log.Info().Int("workers", d.workers).Msg("notification dispatcher started")
	})
}

// Run starts the workers and blocks until ctx is done, then drains the
// queue within shutdownTimeout.
func (d *Dispatcher) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	d.Start()
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return d.Close(sctx)
}

// Close stops intake and waits for the workers to drain the queue. If ctx
// ends first, in-flight sends are cancelled and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	if err := d.queue.Close(); err != nil {
		d.log.Warn().Err(err).Msg("close notification queue")
	}
	d.Start() // no-op if already started; drains a queue that never ran

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

func (d *Dispatcher) work(ctx context.Context, id int) {
	defer d.wg.Done()
	log := d.log.With().Int("worker", id).Logger()
	for ctx.Err() == nil {
		m, err := d.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("notification queue read failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		d.deliver(ctx, log, m)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, log zerolog.Logger, m Message) {
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sender.Send(sctx, m.Recipient, m.Body); err != nil {
		d.recorder.NotificationResult(OutcomeFailed)
		log.Error().Err(err).
			Str("id", m.ID).
			Str("event", m.Event).
			Str("patient_id", m.PatientID).
			Msg("notification delivery failed")
		return
	}
	d.recorder.NotificationResult(OutcomeSent)
	log.Debug().Str("id", m.ID).Str("event", m.Event).Msg("notification sent")
}
