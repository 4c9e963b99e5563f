package helpers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/pix-license-api/pkg/apperror"
)

const retryRoutingKey = "retry"

// QueueTopology names the broker objects behind a WorkQueue.
//
// Rejected messages leave Queue through DeadLetterExchange into HoldingQueue,
// wait RetryTTL there and are dead-lettered back into Queue. Messages that
// fail permanently, or exceed MaxRedeliveries, are moved to ParkingQueue.
type QueueTopology struct {
	Queue              string
	DeadLetterExchange string
	HoldingQueue       string
	ParkingQueue       string
	RetryTTL           time.Duration
	MaxRedeliveries    int
	Prefetch           int
}

func (t QueueTopology) mainArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterExchange,
		"x-dead-letter-routing-key": retryRoutingKey,
	}
}

func (t QueueTopology) holdingArgs() amqp.Table {
	return amqp.Table{
		"x-message-ttl":             t.RetryTTL.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.Queue,
	}
}

func (t QueueTopology) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(t.DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(t.HoldingQueue, true, false, false, false, t.holdingArgs()); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.HoldingQueue, err)
	}
	if err := ch.QueueBind(t.HoldingQueue, retryRoutingKey, t.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.HoldingQueue, err)
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, t.mainArgs()); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	if _, err := ch.QueueDeclare(t.ParkingQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.ParkingQueue, err)
	}
	return nil
}

// Disposition is what happens to a delivery after its handler returns.
type Disposition int

const (
	DispositionAck Disposition = iota
	DispositionRetry
	DispositionPark
)

func (d Disposition) String() string {
	switch d {
	case DispositionAck:
		return "ack"
	case DispositionRetry:
		return "retry"
	case DispositionPark:
		return "park"
	}
	return "unknown"
}

// Decide maps a handler result to a disposition. rejections is how many
// times the message was already rejected from the work queue.
func Decide(err error, rejections, maxRedeliveries int) Disposition {
	switch {
	case err == nil:
		return DispositionAck
	case apperror.IsPermanent(err):
		return DispositionPark
	case rejections >= maxRedeliveries:
		return DispositionPark
	default:
		return DispositionRetry
	}
}

// RejectionCount reads the x-death header and returns how many times the
// message was rejected from queue.
func RejectionCount(headers amqp.Table, queue string) int {
	raw, ok := headers["x-death"]
	if !ok {
		return 0
	}
	deaths, ok := raw.([]interface{})
	if !ok {
		return 0
	}
	total := 0
	for _, d := range deaths {
		entry, ok := d.(amqp.Table)
		if !ok {
			continue
		}
		if q, _ := entry["queue"].(string); q != queue {
			continue
		}
		if r, _ := entry["reason"].(string); r != "rejected" {
			continue
		}
		switch c := entry["count"].(type) {
		case int64:
			total += int(c)
		case int32:
			total += int(c)
		case int:
			total += c
		}
	}
	return total
}

// Delivery is the part of an AMQP delivery handlers need.
type Delivery struct {
	MessageID string
	Body      []byte
	Attempt   int
}

type (
	HandleFunc func(ctx context.Context, d Delivery) error
	ParkFunc   func(ctx context.Context, d Delivery, cause error)
)

// publisher sends one message to a named queue. The AMQP session is the
// only production implementation.
type publisher interface {
	publish(ctx context.Context, queue string, msg amqp.Publishing) error
}

// WorkQueue is a durable at-least-once job queue with delayed retry and a
// parking queue for messages that cannot be processed.
type WorkQueue struct {
	topo    QueueTopology
	session *amqpSession
	parking publisher
	log     *logrus.Logger

	// OnDisposition, when set, is called after every settled delivery.
	OnDisposition func(Disposition)
}

// NewWorkQueue returns a queue bound to url. Nothing is dialed until the
// first Send or Consume.
func NewWorkQueue(url string, topo QueueTopology, log *logrus.Logger) *WorkQueue {
	if topo.MaxRedeliveries <= 0 {
		topo.MaxRedeliveries = 5
	}
	if topo.Prefetch <= 0 {
		topo.Prefetch = 16
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	session := &amqpSession{url: url, setup: topo.declare}
	return &WorkQueue{
		topo:    topo,
		session: session,
		parking: session,
		log:     log,
	}
}

func (q *WorkQueue) Topology() QueueTopology { return q.topo }

// Send publishes body as persistent JSON and waits for the broker confirm.
func (q *WorkQueue) Send(ctx context.Context, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return q.session.publish(ctx, q.topo.Queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         b,
	})
}

func (q *WorkQueue) Close() error { return q.session.close() }

// Consume processes deliveries until ctx is cancelled. Lost connections are
// re-established with backoff.
func (q *WorkQueue) Consume(ctx context.Context, handle HandleFunc, onPark ParkFunc) error {
	var delay time.Duration
	for {
		attached := false
		err := q.consumeOnce(ctx, handle, onPark, func() { attached = true })
		if ctx.Err() != nil {
			return nil
		}
		delay = reconnectDelay(delay, attached)
		q.log.WithError(err).WithFields(logrus.Fields{
			"queue": q.topo.Queue,
			"delay": delay.String(),
		}).Warn("consumer stopped, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// reconnectDelay doubles prev up to 30s. A consumer that got as far as
// attaching starts over at one second.
func reconnectDelay(prev time.Duration, attached bool) time.Duration {
	if attached || prev <= 0 {
		return time.Second
	}
	if next := prev * 2; next < 30*time.Second {
		return next
	}
	return 30 * time.Second
}

func (q *WorkQueue) consumeOnce(ctx context.Context, handle HandleFunc, onPark ParkFunc, attached func()) error {
	ch, err := q.session.channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(q.topo.Prefetch, 0, false); err != nil {
		q.session.reset()
		return fmt.Errorf("amqp qos: %w", err)
	}
	msgs, err := ch.Consume(q.topo.Queue, "", false, false, false, false, nil)
	if err != nil {
		q.session.reset()
		return fmt.Errorf("amqp consume: %w", err)
	}
	q.log.WithField("queue", q.topo.Queue).Info("consuming")
	attached()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			q.settle(ctx, d, handle, onPark)
		}
	}
}

func (q *WorkQueue) settle(ctx context.Context, d amqp.Delivery, handle HandleFunc, onPark ParkFunc) {
	rejections := RejectionCount(d.Headers, q.topo.Queue)
	del := Delivery{MessageID: d.MessageId, Body: d.Body, Attempt: rejections + 1}
	entry := q.log.WithFields(logrus.Fields{
		"queue":      q.topo.Queue,
		"message_id": d.MessageId,
		"attempt":    del.Attempt,
	})

	herr := q.safeHandle(ctx, del, handle)
	disp := Decide(herr, rejections, q.topo.MaxRedeliveries)

	switch disp {
	case DispositionAck:
		if err := d.Ack(false); err != nil {
			entry.WithError(err).Warn("ack failed")
		}
	case DispositionRetry:
		entry.WithError(herr).Warn("handler failed, scheduling retry")
		if err := d.Nack(false, false); err != nil {
			entry.WithError(err).Warn("nack failed")
		}
	case DispositionPark:
		entry.WithError(herr).Error("parking message")
		if err := q.park(ctx, d, herr); err != nil {
			entry.WithError(err).Error("park failed, scheduling retry instead")
			_ = d.Nack(false, false)
			disp = DispositionRetry
			break
		}
		if onPark != nil {
			onPark(ctx, del, herr)
		}
		if err := d.Ack(false); err != nil {
			entry.WithError(err).Warn("ack failed")
		}
	}
	if q.OnDisposition != nil {
		q.OnDisposition(disp)
	}
}

func (q *WorkQueue) safeHandle(ctx context.Context, d Delivery, handle HandleFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handle(ctx, d)
}

func (q *WorkQueue) park(ctx context.Context, d amqp.Delivery, cause error) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-original-queue"] = q.topo.Queue
	if cause != nil {
		headers["x-park-reason"] = cause.Error()
	}
	return q.parking.publish(ctx, q.topo.ParkingQueue, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         d.Body,
	})
}
