package probe

import (
	"fmt"
	"io"
	"sync"
	"time"

	"NetSpectra/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	pendingMsgs = 65536
	// idleWait bounds how long Next waits for the first frame.
	idleWait = 250 * time.Millisecond
)

// Subscriber receives frames published by a remote probe. It is a live
// packet source: frames keep arriving whether or not the loop reads them,
// and the oldest are dropped by NATS once the pending limit is hit.
type Subscriber struct {
	url     string
	subject string
	logger  *zap.Logger

	nc   *nats.Conn
	sub  *nats.Subscription
	msgs chan *nats.Msg
	done chan struct{}
	stop sync.Once

	bad uint64
}

// NewSubscriber creates a packet source fed by subject on the NATS server at url.
func NewSubscriber(url, subject string, logger *zap.Logger) *Subscriber {
	return &Subscriber{url: url, subject: subject, logger: logger}
}

// Start connects to NATS and subscribes to the subject.
func (s *Subscriber) Start() error {
	nc, err := nats.Connect(s.url, nats.Name("ns-capture"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", s.url, err)
	}
	s.msgs = make(chan *nats.Msg, pendingMsgs)
	s.done = make(chan struct{})
	sub, err := nc.ChanSubscribe(s.subject, s.msgs)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to '%s': %w", s.subject, err)
	}
	s.nc = nc
	s.sub = sub
	s.logger.Info("Subscribed to probe frames", zap.String("url", s.url), zap.String("subject", s.subject))
	return nil
}

// Next waits briefly for the first frame and then takes whatever is queued,
// up to max. An empty batch means no frames arrived.
func (s *Subscriber) Next(max int) ([]*model.Packet, error) {
	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	var batch []*model.Packet
	select {
	case msg := <-s.msgs:
		batch = s.append(batch, msg)
	case <-timer.C:
		return nil, nil
	case <-s.done:
		return nil, io.EOF
	}

	for len(batch) < max {
		select {
		case msg := <-s.msgs:
			batch = s.append(batch, msg)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (s *Subscriber) append(batch []*model.Packet, msg *nats.Msg) []*model.Packet {
	pkt, err := DecodeFrameMsg(msg)
	if err != nil {
		s.bad++
		s.logger.Debug("Dropping undecodable frame", zap.Error(err))
		return batch
	}
	return append(batch, pkt)
}

// Stop unsubscribes and closes the NATS connection.
func (s *Subscriber) Stop() {
	s.stop.Do(func() {
		if s.done != nil {
			close(s.done)
		}
		if s.sub != nil {
			if err := s.sub.Unsubscribe(); err != nil {
				s.logger.Warn("Failed to unsubscribe", zap.Error(err))
			}
		}
		if s.nc != nil {
			s.nc.Close()
			s.logger.Info("NATS connection closed")
		}
	})
}

func (s *Subscriber) Name() string           { return "nats:" + s.subject }
func (s *Subscriber) Kind() model.SourceKind { return model.SourceLive }
func (s *Subscriber) ProvidesL4() bool       { return true }
