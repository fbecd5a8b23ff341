package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn is the subset of *nats.Conn the channel needs.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	Timeout       time.Duration
}

// NATSChannel publishes notifications as JSON messages.
type NATSChannel struct {
	conn   Conn
	nc     *nats.Conn
	prefix string
}

func NewNATSChannel(conn Conn, prefix string) *NATSChannel {
	c := &NATSChannel{conn: conn, prefix: prefix}
	if nc, ok := conn.(*nats.Conn); ok {
		c.nc = nc
	}
	return c
}

// ConnectNATS dials the server and reconnects forever in the background.
func ConnectNATS(cfg NATSConfig, logger *slog.Logger) (*NATSChannel, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "familyguard"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSChannel(nc, cfg.SubjectPrefix), nil
}

func (c *NATSChannel) Name() string { return "nats" }

func (c *NATSChannel) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := &nats.Msg{
		Subject: Subject(c.prefix, n.Kind),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Nats-Msg-Id", n.ID)
	msg.Header.Set("Audit-Level", n.Level)
	return c.conn.PublishMsg(msg)
}

// Close flushes pending messages and closes an owned connection.
func (c *NATSChannel) Close() error {
	if c.nc == nil {
		return nil
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return err
	}
	return nil
}
