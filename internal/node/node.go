package node

import (
	"context"
	"errors"
	"time"

	"watertank_node/internal/logger"
	"watertank_node/internal/models"
	"watertank_node/internal/publisher"
	"watertank_node/internal/repository"
	"watertank_node/internal/updater"
	"watertank_node/internal/watchdog"
)

// ConnManager is the slice of the connectivity manager the loop drives.
type ConnManager interface {
	Poll(ctx context.Context, now time.Time)
	State() models.ConnectionState
	Connected() bool
}

// Publisher runs the measurement and liveness schedules.
type Publisher interface {
	Tick(ctx context.Context, now time.Time, st *models.NodeState)
}

// Applier applies a verified remote code replacement, returning the staged
// image size.
type Applier interface {
	Apply(ctx context.Context, cmd updater.Command) (int64, error)
}

const eventQueueDepth = 32

// Node is the single-threaded control loop. All shared state (connection
// snapshot, liveness counters) is touched only from this loop; asynchronous
// producers hand in tagged events through a queue drained once per
// iteration.
type Node struct {
	state   *models.NodeState
	conn    ConnManager
	pub     Publisher
	upd     Applier // nil when remote updates are disabled
	dog     watchdog.Watchdog
	journal repository.EventRepo
	diag    publisher.DiagnosticsSource
	log     *logger.Logger

	// minFreeHeap gates update acceptance: staging an image on a starved
	// heap risks wedging the node mid-replacement.
	minFreeHeap uint64

	events chan models.LoopEvent
	done   chan struct{}
}

func New(state *models.NodeState, conn ConnManager, pub Publisher, upd Applier,
	dog watchdog.Watchdog, journal repository.EventRepo, diag publisher.DiagnosticsSource,
	minFreeHeap uint64, log *logger.Logger) *Node {
	return &Node{
		state:       state,
		conn:        conn,
		pub:         pub,
		upd:         upd,
		dog:         dog,
		journal:     journal,
		diag:        diag,
		minFreeHeap: minFreeHeap,
		log:         log.Component("node"),
		events:      make(chan models.LoopEvent, eventQueueDepth),
		done:        make(chan struct{}),
	}
}

// State exposes the loop-owned counters for read-only wiring (the presence
// announcement closes over it).
func (n *Node) State() *models.NodeState { return n.state }

// Enqueue hands an event to the loop without blocking. A full queue drops
// the event; producers must tolerate loss.
func (n *Node) Enqueue(ev models.LoopEvent) {
	select {
	case n.events <- ev:
	default:
		n.log.Warnw("event queue full, dropping", "kind", ev.Kind)
	}
}

// HandleCommand receives command-topic payloads (called from the MQTT
// client's goroutine) and turns update requests into loop events. Nothing
// is executed here; the loop decides at its own pace.
func (n *Node) HandleCommand(topic string, payload []byte) {
	cmd, err := updater.ParseCommand(payload)
	if err != nil {
		if errors.Is(err, updater.ErrNotUpdateCommand) {
			n.log.Debugw("ignoring non-update command", "topic", topic)
		} else {
			n.log.Warnw("bad command payload", "topic", topic, "err", err)
		}
		return
	}
	n.Enqueue(models.LoopEvent{
		Kind:     models.LoopUpdateRequest,
		ImageURL: cmd.URL,
		SHA256:   cmd.SHA256,
	})
}

// Done is closed once Run has returned. Shutdown blocks on it so nothing
// tears down the watchdog or the session while an iteration is in flight.
func (n *Node) Done() <-chan struct{} { return n.done }

// Run ticks at the given interval until ctx is canceled.
func (n *Node) Run(ctx context.Context, tick time.Duration) {
	defer close(n.done)
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n.iterate(ctx, now)
		}
	}
}

// iterate is one loop pass. The watchdog is re-armed first, unconditionally,
// before anything that could be slow; everything after it is non-blocking or
// bounded.
func (n *Node) iterate(ctx context.Context, now time.Time) {
	if err := n.dog.Kick(); err != nil {
		n.log.Errorw("watchdog kick failed", "err", err)
	}

	n.conn.Poll(ctx, now)
	n.pub.Tick(ctx, now, n.state)
	n.drain(ctx, now)
}

// drain consumes at most the events already queued, so one iteration stays
// bounded even under a chatty producer.
func (n *Node) drain(ctx context.Context, now time.Time) {
	for i := len(n.events); i > 0; i-- {
		select {
		case ev := <-n.events:
			n.dispatch(ctx, now, ev)
		default:
			return
		}
	}
}

// dispatch is the single point where asynchronous events meet loop state.
func (n *Node) dispatch(ctx context.Context, now time.Time, ev models.LoopEvent) {
	switch ev.Kind {
	case models.LoopNetUp:
		n.record(ctx, now, models.EventNetUp, "network associated", nil)
	case models.LoopNetDown:
		n.record(ctx, now, models.EventNetDown, "network association lost", nil)
	case models.LoopSessionUp:
		n.record(ctx, now, models.EventSessionUp, "messaging session connected", nil)
	case models.LoopSessionDown:
		n.record(ctx, now, models.EventSessionDown, "messaging session lost",
			map[string]any{"reason": ev.Reason})

	case models.LoopUpdateRequest:
		n.handleUpdateRequest(ctx, now, ev)
	case models.LoopUpdateProgress:
		n.log.Debugw("update progress", "bytes", ev.Bytes)

	default:
		n.log.Warnw("unknown loop event", "kind", ev.Kind)
	}
}

// handleUpdateRequest gates and runs a remote code replacement. This is the
// one sanctioned suspension of normal loop cadence: Apply keeps the watchdog
// fed internally while it streams the image.
func (n *Node) handleUpdateRequest(ctx context.Context, now time.Time, ev models.LoopEvent) {
	if n.upd == nil {
		n.log.Warnw("update requested but updater is disabled")
		return
	}
	if n.conn.State().Network != models.NetAssociated || !n.conn.Connected() {
		n.record(ctx, now, models.EventUpdateFail, "update refused: connectivity not stable",
			map[string]any{"state": n.conn.State()})
		return
	}
	if free := n.diag.HeapFree(); free < n.minFreeHeap {
		n.record(ctx, now, models.EventUpdateFail, "update refused: insufficient free memory",
			map[string]any{"heap_free": free, "required": n.minFreeHeap})
		return
	}

	n.record(ctx, now, models.EventUpdateStart, "code replacement started",
		map[string]any{"url": ev.ImageURL})

	// The outcome is journaled from the return value. Progress events go
	// through the queue and may be dropped under pressure; the outcome must
	// not be.
	written, err := n.upd.Apply(ctx, updater.Command{Action: "update", URL: ev.ImageURL, SHA256: ev.SHA256})
	if err != nil {
		n.record(ctx, now, models.EventUpdateFail, "code replacement failed",
			map[string]any{"reason": err.Error()})
		return
	}
	n.record(ctx, now, models.EventUpdateDone, "code replacement verified",
		map[string]any{"bytes": written})
}

func (n *Node) record(ctx context.Context, now time.Time, typ, desc string, meta map[string]any) {
	n.log.Infow(desc, "event", typ)
	if n.journal == nil {
		return
	}
	var md any
	if meta != nil {
		md = meta
	}
	err := n.journal.Append(ctx, models.NodeEvent{
		OccurredAt:  now,
		Type:        typ,
		Description: desc,
		Metadata:    md,
	})
	if err != nil {
		n.log.Warnw("journal append failed", "event", typ, "err", err)
	}
}
