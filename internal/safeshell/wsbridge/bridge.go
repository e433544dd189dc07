// Package wsbridge mirrors the monitor event stream onto a read-only
// WebSocket endpoint for a browser-based dashboard, using
// github.com/coder/websocket the way vanducng-goclaw exposes its own
// websocket transport. It is strictly additive: the Unix monitor socket
// remains the only channel that accepts approve/deny/control commands.
package wsbridge

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/events"
)

// Bridge is an http.Handler that upgrades each connection to a WebSocket and
// streams every event published on Bus to it as a JSON text frame, until the
// client disconnects.
type Bridge struct {
	bus    *events.Bus
	logger *logrus.Logger
}

// New constructs a Bridge over bus. logger may be nil.
func New(bus *events.Bus, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{bus: bus, logger: logger}
}

// ServeHTTP accepts one WebSocket client, subscribes it to the event bus for
// the lifetime of the connection, and unsubscribes on disconnect.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.WithError(err).Warn("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	var writeMu sync.Mutex

	subID := b.bus.Subscribe(func(ev events.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.Write(ctx, websocket.MessageText, data)
	})
	defer b.bus.Unsubscribe(subID)

	// The bridge is fan-out only; it ignores any client-sent frames but
	// must keep reading so a client disconnect (or ping) is observed.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}
