package probe

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is responsible for publishing raw frames to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(url, subject string, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("ns-probe"))
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to NATS server", zap.String("url", url), zap.String("subject", subject))
	return &Publisher{nc: nc, subject: subject, logger: logger}, nil
}

// Publish sends one frame together with its capture metadata.
func (p *Publisher) Publish(data []byte, ci gopacket.CaptureInfo, link layers.LinkType) error {
	return p.nc.PublishMsg(NewFrameMsg(p.subject, data, ci, link))
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("Failed to drain NATS connection", zap.Error(err))
		}
		p.logger.Info("NATS connection drained and closed")
	}
}
