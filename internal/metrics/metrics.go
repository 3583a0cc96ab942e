// Package metrics exposes prometheus collectors for the echo server.
//
// All methods are safe to call on a nil *Collectors, which turns them into
// no-ops. That keeps sessions usable without a registry in tests.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wsrtt"

// Collectors groups the server metrics.
type Collectors struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	sessionCloses    *prometheus.CounterVec
	messagesReceived prometheus.Counter
	messagesSent     prometheus.Counter
	charsReceived    prometheus.Counter
	charsSent        prometheus.Counter
	messagesRejected *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open echo sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Number of sessions accepted since start.",
		}),
		sessionCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_closes_total",
			Help:      "Sessions ended, by the close code the server sent (0 when the peer closed first).",
		}, []string{"code"}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Requests accepted into the pipeline.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Responses written to peers.",
		}),
		charsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_chars_received_total",
			Help:      "Content characters accepted into the pipeline.",
		}),
		charsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_chars_sent_total",
			Help:      "Content characters written to peers.",
		}),
		messagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Messages that ended a session, by reason.",
		}, []string{"reason"}),
	}

	for _, col := range []prometheus.Collector{
		c.sessionsActive,
		c.sessionsTotal,
		c.sessionCloses,
		c.messagesReceived,
		c.messagesSent,
		c.charsReceived,
		c.charsSent,
		c.messagesRejected,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collectors) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

func (c *Collectors) SessionClosed(code int) {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
	c.sessionCloses.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (c *Collectors) MessageReceived(chars int) {
	if c == nil {
		return
	}
	c.messagesReceived.Inc()
	c.charsReceived.Add(float64(chars))
}

func (c *Collectors) MessageSent(chars int) {
	if c == nil {
		return
	}
	c.messagesSent.Inc()
	c.charsSent.Add(float64(chars))
}

func (c *Collectors) MessageRejected(reason string) {
	if c == nil {
		return
	}
	c.messagesRejected.WithLabelValues(reason).Inc()
}
