// Package queue carries samples over NATS JetStream for async mode: the
// request path publishes, a durable consumer records.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	perrors "routeperf/internal/errors"
	"routeperf/internal/perf"
)

const (
	// MessageVersion is bumped when Message changes incompatibly.
	MessageVersion = 1

	durableName   = "routeperf-recorder"
	publishWait   = 5 * time.Second
	setupWait     = 10 * time.Second
	maxDeliveries = 5
)

// Message is the wire form of a queued sample.
type Message struct {
	Version     int         `json:"v"`
	PublishedAt time.Time   `json:"published_at"`
	Sample      perf.Sample `json:"sample"`
}

// Encode marshals s into a Message.
func Encode(s perf.Sample, now time.Time) ([]byte, error) {
	return json.Marshal(Message{Version: MessageVersion, PublishedAt: now.UTC(), Sample: s})
}

// Decode parses a Message and validates its sample.
func Decode(data []byte) (perf.Sample, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return perf.Sample{}, perrors.Wrap(err, perrors.CategoryValidation, "decode queued sample")
	}
	if m.Version != MessageVersion {
		return perf.Sample{}, perrors.Newf(perrors.CategoryValidation, "unsupported message version %d", m.Version)
	}
	if err := m.Sample.Validate(); err != nil {
		return perf.Sample{}, err
	}
	return m.Sample, nil
}

// Conn is a NATS connection with its JetStream context.
type Conn struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	stream  string
}

// Connect dials url and ensures the stream that captures subject exists.
func Connect(ctx context.Context, url, stream, subject string) (*Conn, error) {
	nc, err := nats.Connect(url, nats.Name("routeperf"))
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryDependency, "connect to NATS")
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, perrors.Wrap(err, perrors.CategoryDependency, "create JetStream context")
	}

	sctx, cancel := context.WithTimeout(ctx, setupWait)
	defer cancel()
	_, err = js.CreateOrUpdateStream(sctx, jetstream.StreamConfig{
		Name:        stream,
		Description: "routeperf samples awaiting recording",
		Subjects:    []string{subject},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, perrors.Wrap(err, perrors.CategoryDependency, "create stream "+stream)
	}

	logrus.WithFields(logrus.Fields{"url": url, "stream": stream, "subject": subject}).Info("NATS queue ready")
	return &Conn{nc: nc, js: js, subject: subject, stream: stream}, nil
}

func (c *Conn) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

// Publish implements perf.Publisher.
func (c *Conn) Publish(ctx context.Context, s perf.Sample) error {
	data, err := Encode(s, time.Now())
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryInternal, "encode sample")
	}
	pctx, cancel := context.WithTimeout(ctx, publishWait)
	defer cancel()
	if _, err := c.js.Publish(pctx, c.subject, data); err != nil {
		return perrors.Wrap(err, perrors.CategoryDependency, "publish sample")
	}
	return nil
}

// SyncRecorder is what the consumer feeds. *perf.Recorder satisfies it.
type SyncRecorder interface {
	RecordSync(ctx context.Context, s perf.Sample) (perf.Result, error)
}

// Outcome is how a delivered message was settled.
type Outcome int

const (
	Acked Outcome = iota
	// Retried messages are redelivered up to the delivery limit.
	Retried
	// Dropped messages cannot be decoded and are never redelivered.
	Dropped
)

// Handle decodes data and records it. Decode failures drop the message,
// recording failures ask for a redelivery.
func Handle(ctx context.Context, rec SyncRecorder, data []byte) (Outcome, error) {
	s, err := Decode(data)
	if err != nil {
		return Dropped, err
	}
	if _, err := rec.RecordSync(ctx, s); err != nil {
		return Retried, err
	}
	return Acked, nil
}

// Consume starts the durable consumer. Call Stop on the returned context
// at shutdown.
func (c *Conn) Consume(ctx context.Context, rec SyncRecorder) (jetstream.ConsumeContext, error) {
	sctx, cancel := context.WithTimeout(ctx, setupWait)
	defer cancel()
	cons, err := c.js.CreateOrUpdateConsumer(sctx, c.stream, jetstream.ConsumerConfig{
		Durable:       durableName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: c.subject,
		MaxDeliver:    maxDeliveries,
	})
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryDependency, "create consumer")
	}

	log := logrus.WithFields(logrus.Fields{"component": "queue", "stream": c.stream})
	return cons.Consume(func(msg jetstream.Msg) {
		outcome, err := Handle(ctx, rec, msg.Data())
		var settleErr error
		switch outcome {
		case Acked:
			settleErr = msg.Ack()
		case Retried:
			log.WithError(err).Warn("recording queued sample failed, will retry")
			settleErr = msg.Nak()
		case Dropped:
			log.WithError(err).Error("dropping undecodable sample")
			settleErr = msg.Term()
		}
		if settleErr != nil {
			log.WithError(settleErr).Warn("settling message failed")
		}
	})
}
