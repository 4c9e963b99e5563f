package helpers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpSession owns one connection/channel pair. It dials lazily on first use,
// runs setup exactly once per connection, and forgets both handles when the
// broker closes the connection so the next call starts from scratch.
type amqpSession struct {
	url   string
	setup func(ch *amqp.Channel) error

	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	pubMu sync.Mutex
}

func (s *amqpSession) channel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	s.resetLocked()

	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}
	if s.setup != nil {
		if err := s.setup(ch); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("amqp topology: %w", err)
		}
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		<-closed
		s.mu.Lock()
		if s.conn == conn {
			s.conn, s.ch = nil, nil
		}
		s.mu.Unlock()
	}()

	s.conn, s.ch = conn, ch
	return ch, nil
}

func (s *amqpSession) resetLocked() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil && !s.conn.IsClosed() {
		_ = s.conn.Close()
	}
	s.conn, s.ch = nil, nil
}

func (s *amqpSession) reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

// publish sends msg to queue through the default exchange and waits for the
// broker confirm.
func (s *amqpSession) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	ch, err := s.channel()
	if err != nil {
		return err
	}
	s.pubMu.Lock()
	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	s.pubMu.Unlock()
	if err != nil {
		s.reset()
		return fmt.Errorf("amqp publish: %w", err)
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp confirm: %w", err)
	}
	if !ok {
		return errors.New("amqp publish not confirmed by broker")
	}
	return nil
}

func (s *amqpSession) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
	}
	if s.conn != nil && !s.conn.IsClosed() {
		errs = append(errs, s.conn.Close())
	}
	s.conn, s.ch = nil, nil
	return errors.Join(errs...)
}
