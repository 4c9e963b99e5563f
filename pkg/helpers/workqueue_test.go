package helpers

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/pix-license-api/pkg/apperror"
)

func testTopology() QueueTopology {
	return QueueTopology{
		Queue:              "user_creation_queue",
		DeadLetterExchange: "dead_letter_exchange",
		HoldingQueue:       "dead_letter_queue",
		ParkingQueue:       "onboarding_parking_queue",
		RetryTTL:           60 * time.Second,
		MaxRedeliveries:    5,
	}
}

func TestTopologyRoutesRejectsThroughHoldingQueue(t *testing.T) {
	topo := testTopology()

	main := topo.mainArgs()
	assert.Equal(t, "dead_letter_exchange", main["x-dead-letter-exchange"])
	assert.Equal(t, retryRoutingKey, main["x-dead-letter-routing-key"])

	hold := topo.holdingArgs()
	assert.Equal(t, int64(60000), hold["x-message-ttl"])
	assert.Equal(t, "", hold["x-dead-letter-exchange"])
	assert.Equal(t, "user_creation_queue", hold["x-dead-letter-routing-key"])
}

func TestDecide(t *testing.T) {
	transient := errors.New("provider timeout")

	tests := []struct {
		name       string
		err        error
		rejections int
		want       Disposition
	}{
		{"success", nil, 0, DispositionAck},
		{"success after retries", nil, 4, DispositionAck},
		{"transient first attempt", transient, 0, DispositionRetry},
		{"transient below limit", transient, 4, DispositionRetry},
		{"transient at limit", transient, 5, DispositionPark},
		{"validation is permanent", apperror.Validation("bad payload"), 0, DispositionPark},
		{"inconsistency is permanent", apperror.Inconsistency("user missing"), 0, DispositionPark},
		{"external is transient", apperror.External("abacatepay down", 503, transient), 1, DispositionRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.err, tt.rejections, 5))
		})
	}
}

func TestRejectionCount(t *testing.T) {
	headers := amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"queue": "dead_letter_queue", "reason": "expired", "count": int64(3)},
			amqp.Table{"queue": "user_creation_queue", "reason": "rejected", "count": int64(3)},
		},
	}
	assert.Equal(t, 3, RejectionCount(headers, "user_creation_queue"))
	assert.Equal(t, 0, RejectionCount(headers, "other"))
	assert.Equal(t, 0, RejectionCount(nil, "user_creation_queue"))
	assert.Equal(t, 0, RejectionCount(amqp.Table{"x-death": "junk"}, "user_creation_queue"))
}

func TestNewWorkQueueDefaults(t *testing.T) {
	q := NewWorkQueue("amqp://localhost", QueueTopology{Queue: "q"}, nil)
	assert.Equal(t, 5, q.Topology().MaxRedeliveries)
	assert.Equal(t, 16, q.Topology().Prefetch)
	assert.NoError(t, q.Close())
}

type ackRecord struct {
	acks    int
	nacks   int
	requeue bool
	order   *[]string
}

func (a *ackRecord) Ack(uint64, bool) error {
	a.acks++
	*a.order = append(*a.order, "ack")
	return nil
}

func (a *ackRecord) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	*a.order = append(*a.order, "nack")
	return nil
}

func (a *ackRecord) Reject(uint64, bool) error { return errors.New("reject not expected") }

type parkRecord struct {
	queue string
	msg   amqp.Publishing
	err   error
	order *[]string
}

func (p *parkRecord) publish(_ context.Context, queue string, msg amqp.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.queue, p.msg = queue, msg
	*p.order = append(*p.order, "park")
	return nil
}

type settleFixture struct {
	q       *WorkQueue
	ack     *ackRecord
	park    *parkRecord
	order   []string
	parked  []error
	settled []Disposition
}

func newSettleFixture() *settleFixture {
	f := &settleFixture{}
	f.q = NewWorkQueue("amqp://localhost", testTopology(), NewNopLogger())
	f.ack = &ackRecord{order: &f.order}
	f.park = &parkRecord{order: &f.order}
	f.q.parking = f.park
	f.q.OnDisposition = func(d Disposition) { f.settled = append(f.settled, d) }
	return f
}

func (f *settleFixture) delivery(headers amqp.Table) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: f.ack,
		DeliveryTag:  7,
		MessageId:    "m1",
		ContentType:  "application/json",
		Headers:      headers,
		Body:         []byte(`{"type":"CREATE_USER_STRATEGY"}`),
	}
}

func (f *settleFixture) onPark(_ context.Context, _ Delivery, cause error) {
	f.parked = append(f.parked, cause)
	f.order = append(f.order, "onPark")
}

func TestSettleAcksSuccess(t *testing.T) {
	f := newSettleFixture()
	var got Delivery
	f.q.settle(context.Background(), f.delivery(nil), func(_ context.Context, d Delivery) error {
		got = d
		return nil
	}, f.onPark)

	assert.Equal(t, Delivery{MessageID: "m1", Body: []byte(`{"type":"CREATE_USER_STRATEGY"}`), Attempt: 1}, got)
	assert.Equal(t, []string{"ack"}, f.order)
	assert.Equal(t, []Disposition{DispositionAck}, f.settled)
}

func TestSettleNacksTransientFailureWithoutRequeue(t *testing.T) {
	f := newSettleFixture()
	f.q.settle(context.Background(), f.delivery(nil), func(context.Context, Delivery) error {
		return errors.New("provider timeout")
	}, f.onPark)

	assert.Equal(t, 1, f.ack.nacks)
	assert.False(t, f.ack.requeue)
	assert.Zero(t, f.ack.acks)
	assert.Empty(t, f.parked)
	assert.Equal(t, []Disposition{DispositionRetry}, f.settled)
}

func TestSettleTurnsHandlerPanicIntoRetry(t *testing.T) {
	f := newSettleFixture()
	require.NotPanics(t, func() {
		f.q.settle(context.Background(), f.delivery(nil), func(context.Context, Delivery) error {
			panic("nil map")
		}, f.onPark)
	})

	assert.Equal(t, []string{"nack"}, f.order)
	assert.False(t, f.ack.requeue)
	assert.Equal(t, []Disposition{DispositionRetry}, f.settled)
}

func TestSettleParksPermanentFailure(t *testing.T) {
	f := newSettleFixture()
	cause := apperror.Inconsistency("user u1 does not exist")
	f.q.settle(context.Background(), f.delivery(amqp.Table{"trace": "abc"}), func(context.Context, Delivery) error {
		return cause
	}, f.onPark)

	assert.Equal(t, []string{"park", "onPark", "ack"}, f.order)
	assert.Equal(t, "onboarding_parking_queue", f.park.queue)
	assert.Equal(t, "m1", f.park.msg.MessageId)
	assert.Equal(t, amqp.Persistent, f.park.msg.DeliveryMode)
	assert.Equal(t, "user_creation_queue", f.park.msg.Headers["x-original-queue"])
	assert.Equal(t, cause.Error(), f.park.msg.Headers["x-park-reason"])
	assert.Equal(t, "abc", f.park.msg.Headers["trace"])
	require.Len(t, f.parked, 1)
	assert.ErrorIs(t, f.parked[0], cause)
	assert.Equal(t, []Disposition{DispositionPark}, f.settled)
}

func TestSettleParksAfterMaxRedeliveries(t *testing.T) {
	f := newSettleFixture()
	headers := amqp.Table{"x-death": []interface{}{
		amqp.Table{"queue": "user_creation_queue", "reason": "rejected", "count": int64(5)},
	}}
	var attempt int
	f.q.settle(context.Background(), f.delivery(headers), func(_ context.Context, d Delivery) error {
		attempt = d.Attempt
		return errors.New("provider timeout")
	}, f.onPark)

	assert.Equal(t, 6, attempt)
	assert.Equal(t, []string{"park", "onPark", "ack"}, f.order)
}

func TestSettleFallsBackToRetryWhenParkingFails(t *testing.T) {
	f := newSettleFixture()
	f.park.err = errors.New("channel closed")
	f.q.settle(context.Background(), f.delivery(nil), func(context.Context, Delivery) error {
		return apperror.Validation("bad payload")
	}, f.onPark)

	assert.Equal(t, []string{"nack"}, f.order)
	assert.Empty(t, f.parked)
	assert.Equal(t, []Disposition{DispositionRetry}, f.settled)
}

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		name     string
		prev     time.Duration
		attached bool
		want     time.Duration
	}{
		{"first failure", 0, false, time.Second},
		{"doubles", 2 * time.Second, false, 4 * time.Second},
		{"capped", 16 * time.Second, false, 30 * time.Second},
		{"stays capped", 30 * time.Second, false, 30 * time.Second},
		{"resets once attached", 30 * time.Second, true, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reconnectDelay(tt.prev, tt.attached))
		})
	}
}
