// Package collector is the passive log server of the testbed.
//
// Nodes ship copies of selected messages to the collector. The collector
// never takes part in the protocols: it stores every TimedMessage it
// receives and, on demand, prints the entries together with their pairwise
// happened-before relations.
package collector

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/msgpass/internal/message"
	"github.com/roach88/msgpass/internal/store"
	"github.com/roach88/msgpass/internal/transport"
)

// IDGenerator assigns entry IDs.
type IDGenerator interface {
	NewID() string
}

// UUIDv7 generates time-ordered UUIDs.
type UUIDv7 struct{}

// NewID returns a version 7 UUID, or a random one if the clock read fails.
func (UUIDv7) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Collector stores logged messages.
type Collector struct {
	store  *store.Store
	ids    IDGenerator
	logger *slog.Logger
}

// New creates a collector writing to st. A nil ids uses UUIDv7.
func New(st *store.Store, ids IDGenerator, logger *slog.Logger) *Collector {
	if ids == nil {
		ids = UUIDv7{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{store: st, ids: ids, logger: logger}
}

// Handle stores one message. Storage failures are logged; the sender never
// learns about them.
func (c *Collector) Handle(ctx context.Context, m message.TimedMessage) {
	m = m.Clone()
	m.Normalize()
	id := c.ids.NewID()
	arrival, _, err := c.store.Append(ctx, id, m)
	if err != nil {
		c.logger.Error("cannot store logged message", "src", m.Source, "seq", m.Seq, "error", err)
		return
	}
	c.logger.Debug("message logged", "id", id, "arrival", arrival, "src", m.Source, "dest", m.Destination, "seq", m.Seq)
}

// Serve stores messages received by srv until ctx is done.
func (c *Collector) Serve(ctx context.Context, srv *transport.Server) error {
	c.logger.Info("log collector listening", "addr", srv.Addr().String())
	return srv.Serve(ctx, c.Handle)
}

// Report writes every stored entry and their relations to w.
func (c *Collector) Report(ctx context.Context, w io.Writer) error {
	entries, err := c.store.Entries(ctx)
	if err != nil {
		return err
	}
	return WriteReport(w, entries)
}

// Clear drops every stored entry.
func (c *Collector) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}
