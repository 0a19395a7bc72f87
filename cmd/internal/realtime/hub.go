package realtime

import (
	"log/slog"

	"scoresws/cmd/scores"
)

// Hub owns the shared relay state: retained history and connected clients.
// The engine publishes through it and every session attaches to it.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics

	History  *History
	Registry *Registry
}

// NewHub constructs a Hub retaining at most historyLen records.
func NewHub(log *slog.Logger, historyLen int, m *Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		metrics:  m,
		History:  NewHistory(historyLen),
		Registry: NewRegistry(),
	}
}

// Publish broadcasts the unseen records of batch newer than prev, then folds
// batch into history. It returns the number of records broadcast.
func (h *Hub) Publish(batch *scores.RecordSet, prev *uint64) int {
	delivered := 0
	published, evicted, retained := h.History.Commit(batch, prev, func(recs []scores.Record) {
		delivered = h.Registry.Broadcast(recs)
	})
	h.metrics.committed(published, evicted, retained)

	if published > 0 || evicted > 0 {
		h.log.Debug("hub.publish",
			"published", published,
			"clients", delivered,
			"evicted", evicted,
			"retained", retained,
		)
	}
	return published
}

// Attach arms c with every retained record newer than resume.
func (h *Hub) Attach(c *Client, resume *uint64) int {
	return h.History.Arm(c, resume)
}

// Detach stops broadcasts to c and returns the id to hand back to it.
func (h *Hub) Detach(c *Client) uint64 {
	return h.History.Disarm(c)
}
