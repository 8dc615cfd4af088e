// Package verdict defines detection results and where they are sent.
package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Source names the pathway that produced a verdict.
type Source string

const (
	SourceBehavioral Source = "behavioral"
	SourceStatic     Source = "static"
	SourceRansomNote Source = "ransomnote"
)

// Verdict is a malicious determination about one process or file.
type Verdict struct {
	ID        string    `json:"id"`
	Source    Source    `json:"source"`
	Time      time.Time `json:"time"`
	Comm      string    `json:"comm,omitempty"`
	Pid       uint32    `json:"pid,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Path      string    `json:"path,omitempty"`
	Sequence  string    `json:"sequence,omitempty"`
	Matches   int       `json:"matches,omitempty"`
	Patterns  []string  `json:"patterns,omitempty"`
	Threshold int       `json:"threshold,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Action    string    `json:"action,omitempty"`
	Status    string    `json:"status,omitempty"`
}

// New returns a verdict with a fresh ID and timestamp.
func New(source Source) Verdict {
	return Verdict{
		ID:     uuid.NewString(),
		Source: source,
		Time:   time.Now().UTC(),
	}
}

// Publisher delivers verdicts downstream.
type Publisher interface {
	Publish(ctx context.Context, v Verdict) error
	Close() error
}

// LogPublisher writes every verdict as a structured log line.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "verdict").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, v Verdict) error {
	p.logger.Warn().
		Str("verdict_id", v.ID).
		Str("source", string(v.Source)).
		Str("comm", v.Comm).
		Uint32("pid", v.Pid).
		Str("filename", v.Filename).
		Str("path", v.Path).
		Str("sequence", v.Sequence).
		Int("matches", v.Matches).
		Strs("patterns", v.Patterns).
		Str("digest", v.Digest).
		Str("action", v.Action).
		Str("status", v.Status).
		Msg("Malicious activity detected")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// NATSPublisher publishes verdicts as JSON on a NATS subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSPublisher connects to url. The connection reconnects on its own;
// publishes during an outage are buffered by the client.
func NewNATSPublisher(url, subject string, logger zerolog.Logger) (*NATSPublisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	logger = logger.With().Str("component", "verdict_nats").Logger()

	nc, err := nats.Connect(url,
		nats.Name("ransomguard"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	logger.Info().Str("url", url).Str("subject", subject).Msg("Publishing verdicts to NATS")
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, v Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish verdict: %w", err)
	}
	p.logger.Debug().Str("verdict_id", v.ID).Msg("Published verdict")
	return nil
}

// Close flushes pending verdicts and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}

// Multi fans a verdict out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, v Verdict) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
