package middleware

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	tele "gopkg.in/telebot.v4"
)

const (
	keyReplies  = "replies"
	keyKeyboard = "kb"
	keyMetrics  = "metrics"
)

// Metrics holds the Prometheus collectors fed while updates are handled.
// Methods on a nil *Metrics record nothing.
type Metrics struct {
	updates *prometheus.CounterVec
	handled *prometheus.HistogramVec
	replies *prometheus.CounterVec
	sends   *prometheus.HistogramVec
	limited prometheus.Counter
	panics  prometheus.Counter
}

// NewMetrics registers the update collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seerrbot", Subsystem: "telegram", Name: "updates_total",
			Help: "Updates received, by kind.",
		}, []string{"kind"}),
		handled: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "seerrbot", Subsystem: "telegram", Name: "handler_duration_seconds",
			Help:    "Time spent in update handlers.",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"handler", "outcome"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seerrbot", Subsystem: "telegram", Name: "replies_total",
			Help: "Messages sent or edited in reply to updates.",
		}, []string{"keyboard"}),
		sends: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "seerrbot", Subsystem: "telegram", Name: "send_duration_seconds",
			Help:    "Outbound Bot API calls made by the sender, by action and outcome.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 12},
		}, []string{"action", "outcome"}),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seerrbot", Subsystem: "telegram", Name: "rate_limited_total",
			Help: "Updates dropped by the per-user rate limit.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seerrbot", Subsystem: "telegram", Name: "handler_panics_total",
			Help: "Handler panics recovered.",
		}),
	}
	reg.MustRegister(m.updates, m.handled, m.replies, m.sends, m.limited, m.panics)
	return m
}

// Limited counts one rate limited update.
func (m *Metrics) Limited() {
	if m != nil {
		m.limited.Inc()
	}
}

// ObserveSend records one sender job; it fits sender.Options.Observe.
func (m *Metrics) ObserveSend(action, outcome string, took time.Duration) {
	if m != nil {
		m.sends.WithLabelValues(action, outcome).Observe(took.Seconds())
	}
}

func (m *Metrics) panicked() {
	if m != nil {
		m.panics.Inc()
	}
}

func metricsOf(c tele.Context) *Metrics {
	m, _ := c.Get(keyMetrics).(*Metrics)
	return m
}

// MetricsMiddleware resets the per-update reply counters and wraps the
// context so that replies are counted. m may be nil.
func MetricsMiddleware(m *Metrics) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			c.Set(keyReplies, 0)
			c.Set(keyKeyboard, false)
			if m != nil {
				c.Set(keyMetrics, m)
				m.updates.WithLabelValues(UpdateKind(c.Update())).Inc()
			}
			return next(replyCounter{Context: c})
		}
	}
}

// ObserveHandler records how long handler took and how it ended.
func ObserveHandler(c tele.Context, handler, outcome string, took time.Duration) {
	if m := metricsOf(c); m != nil {
		m.handled.WithLabelValues(handler, outcome).Observe(took.Seconds())
	}
}

// Replies reports how many messages the current update produced and whether
// any of them carried a keyboard.
func Replies(c tele.Context) (int, bool) {
	n, _ := c.Get(keyReplies).(int)
	kb, _ := c.Get(keyKeyboard).(bool)
	return n, kb
}

// replyCounter counts successful sends and edits made through the context.
type replyCounter struct{ tele.Context }

func (r replyCounter) count(err error, opts []any) error {
	if err != nil {
		return err
	}
	kb := withKeyboard(opts)
	n, _ := r.Get(keyReplies).(int)
	r.Set(keyReplies, n+1)
	if kb {
		r.Set(keyKeyboard, true)
	}
	if m := metricsOf(r.Context); m != nil {
		m.replies.WithLabelValues(strconv.FormatBool(kb)).Inc()
	}
	return nil
}

func withKeyboard(opts []any) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

func (r replyCounter) Send(what any, opts ...any) error {
	return r.count(r.Context.Send(what, opts...), opts)
}

func (r replyCounter) Reply(what any, opts ...any) error {
	return r.count(r.Context.Reply(what, opts...), opts)
}

func (r replyCounter) Edit(what any, opts ...any) error {
	return r.count(r.Context.Edit(what, opts...), opts)
}

func (r replyCounter) EditOrSend(what any, opts ...any) error {
	return r.count(r.Context.EditOrSend(what, opts...), opts)
}

func (r replyCounter) EditOrReply(what any, opts ...any) error {
	return r.count(r.Context.EditOrReply(what, opts...), opts)
}
