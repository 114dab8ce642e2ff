// Package worker provides a NATS worker that runs song generation requests.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"
)

const (
	defaultHandleTimeout = 15 * time.Minute
	drainPollInterval    = 50 * time.Millisecond
	drainTimeout         = 30 * time.Second
)

// ErrTopicEmpty indicates a request event without a topic.
var ErrTopicEmpty = errors.New("topic cannot be empty")

// Runner executes one generation request.
type Runner interface {
	Run(ctx context.Context, req core.GenerationRequest) core.Outcome
}

// SongRequestedEvent asks the service to generate a song.
type SongRequestedEvent struct {
	Header events.EventHeader `json:"header"`
	Topic  string             `json:"topic"`
}

// SongCompletedEvent is the reply to a SongRequestedEvent.
type SongCompletedEvent struct {
	Header events.EventHeader `json:"header"`
	Result core.Response      `json:"result"`
}

// Options configures a NatsWorker.
type Options struct {
	Subject string
	// QueueGroup load-balances requests across service instances. Empty subscribes plainly.
	QueueGroup string
	// MaxConcurrent bounds the runs in flight on this instance.
	MaxConcurrent int64
	// HandleTimeout bounds one run. Zero uses a default.
	HandleTimeout time.Duration
}

// NatsWorker listens for song requests on a NATS subject and replies with the outcome.
type NatsWorker struct {
	natsConnection *nats.Conn
	runner         Runner
	opts           Options
	slots          *semaphore.Weighted
	inFlight       sync.WaitGroup
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(natsConnection *nats.Conn, runner Runner, opts Options, log *logger.Logger) *NatsWorker {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}

	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = defaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		runner:         runner,
		opts:           opts,
		slots:          semaphore.NewWeighted(opts.MaxConcurrent),
		inFlight:       sync.WaitGroup{},
		log:            log,
	}
}

// Run starts the worker and blocks until ctx is cancelled. On shutdown it drains
// the subscription and waits for in-flight runs to reply.
func (w *NatsWorker) Run(ctx context.Context) error {
	baseCtx := context.WithoutCancel(ctx)
	handler := func(msg *nats.Msg) { w.dispatch(baseCtx, msg) }

	var (
		sub *nats.Subscription
		err error
	)

	if w.opts.QueueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.opts.Subject, w.opts.QueueGroup, handler)
	} else {
		sub, err = w.natsConnection.Subscribe(w.opts.Subject, handler)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	w.log.Info("Worker listening on %s", w.opts.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr == nil {
		waitForDrain(sub)
	}

	w.inFlight.Wait()

	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

// waitForDrain blocks until the drained subscription has delivered its pending messages.
func waitForDrain(sub *nats.Subscription) {
	deadline := time.Now().Add(drainTimeout)

	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(drainPollInterval)
	}
}

// dispatch waits for a free slot, then handles msg on its own goroutine. Slots
// are awaited without the worker's context so drained messages still get a reply.
func (w *NatsWorker) dispatch(baseCtx context.Context, msg *nats.Msg) {
	err := w.slots.Acquire(baseCtx, 1)
	if err != nil {
		w.log.Warn("Dropping request on %s: %v", msg.Subject, err)

		return
	}

	w.inFlight.Add(1)

	go func() {
		defer w.inFlight.Done()
		defer w.slots.Release(1)

		ctx, cancel := context.WithTimeout(baseCtx, w.opts.HandleTimeout)
		defer cancel()

		w.handleMessage(ctx, msg)
	}()
}

func (w *NatsWorker) handleMessage(ctx context.Context, msg *nats.Msg) {
	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		var header events.EventHeader
		if event != nil {
			header = event.Header
		}

		failure := core.NewFailure(core.ReasonInvalidRequest, err.Error(), err)
		w.reply(msg, header, core.Failed(failure))

		return
	}

	songID := event.Header.WorkflowID
	if songID == "" {
		songID = uuid.NewString()
	}

	outcome := w.runner.Run(ctx, core.GenerationRequest{ID: songID, Topic: event.Topic})
	if !outcome.OK() && outcome.Failure != nil {
		w.log.Error("Song generation for workflow %s failed: %s", songID, outcome.Failure.Reason)
	}

	w.reply(msg, event.Header, outcome)
}

func (w *NatsWorker) reply(msg *nats.Msg, requestHeader events.EventHeader, outcome core.Outcome) {
	if msg.Reply == "" {
		return
	}

	replyEvent := &SongCompletedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: requestHeader.WorkflowID,
			EventID:    uuid.NewString(),
			UserID:     requestHeader.UserID,
			TenantID:   requestHeader.TenantID,
		},
		Result: core.NewResponse(outcome),
	}

	err := w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", requestHeader.WorkflowID, err)
	}
}

// publishReplyEvent marshals and responds with the SongCompletedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *SongCompletedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*SongRequestedEvent, error) {
	var event SongRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if strings.TrimSpace(event.Topic) == "" {
		return &event, ErrTopicEmpty
	}

	return &event, nil
}
