// Package notify publishes build reports to NATS so external consumers
// (dashboards, CI listeners) can follow watch-mode builds. Publishing is
// strictly optional and best effort; a broken broker never fails a build.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/docpress/internal/report"
)

// Publisher sends build reports to one NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// Connect dials the broker. The connection reconnects on its own; publish
// calls during an outage are dropped by the client, which is acceptable for
// advisory build events.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("docpress"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	logger.Info("nats publisher connected", "url", url, "subject", subject)
	return &Publisher{conn: conn, subject: subject, logger: logger}, nil
}

// Publish sends one report as JSON. Failures are logged, not returned, so a
// flaky broker cannot fail a build pass.
func (p *Publisher) Publish(r *report.Report) {
	if p == nil || r == nil {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		p.logger.Warn("encode build report", "error", err)
		return
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		p.logger.Warn("publish build report", "subject", p.subject, "error", err)
		return
	}
	p.logger.Debug("build report published",
		"subject", p.subject, "build_id", r.BuildID, "status", r.Status)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain", "error", err)
	}
}
