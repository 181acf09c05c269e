package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"

	"watertank_node/internal/logger"
	"watertank_node/internal/models"
)

// ---- Test doubles ----

type fakeLink struct {
	up         bool
	probeErr   error
	reconnects int
}

func (f *fakeLink) Associated() (bool, error) { return f.up, f.probeErr }
func (f *fakeLink) Reconnect(ctx context.Context) error {
	f.reconnects++
	return nil
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeSession struct {
	begins      int
	pending     bool
	nextErr     error
	connected   bool
	published   []published
	subscribed  []string
	disconnects int
}

func (f *fakeSession) BeginConnect() {
	if f.pending || f.connected {
		return
	}
	f.begins++
	f.pending = true
}

func (f *fakeSession) ConnectResult() (bool, error) {
	if !f.pending {
		return false, nil
	}
	f.pending = false
	if f.nextErr != nil {
		err := f.nextErr
		f.nextErr = nil
		return true, err
	}
	f.connected = true
	return true, nil
}

func (f *fakeSession) IsConnected() bool { return f.connected }

func (f *fakeSession) Publish(topic string, retained bool, payload []byte) error {
	f.published = append(f.published, published{topic, retained, payload})
	return nil
}

func (f *fakeSession) Subscribe(topic string, handler func(string, []byte)) error {
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeSession) Disconnect() {
	f.connected = false
	f.pending = false
	f.disconnects++
}

func testOptions() Options {
	return Options{
		RetryDelay:      10 * time.Second,
		ConnectTimeout:  15 * time.Second,
		SessionCooldown: 5 * time.Second,
		StatusTopic:     "tank/status",
		CommandTopic:    "tank/command",
	}
}

type managerHarness struct {
	link    *fakeLink
	session *fakeSession
	mgr     *Manager
	events  []models.LoopEvent
}

func newHarness() *managerHarness {
	h := &managerHarness{link: &fakeLink{}, session: &fakeSession{}}
	h.mgr = NewManager(h.link, h.session, testOptions(),
		func(ev models.LoopEvent) { h.events = append(h.events, ev) },
		logger.Get(logger.ErrorLevel))
	return h
}

func (h *managerHarness) kinds() []models.LoopEventKind {
	out := make([]models.LoopEventKind, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Kind)
	}
	return out
}

// ---- Tests ----

func TestPoll_SessionNeverAttemptedWhileNetworkDown(t *testing.T) {
	h := newHarness()
	now := time.Unix(1000, 0)

	for i := 0; i < 20; i++ {
		h.mgr.Poll(context.Background(), now.Add(time.Duration(i)*time.Second))
	}

	if h.session.begins != 0 {
		t.Fatalf("session connect attempted %d times while network down", h.session.begins)
	}
	if st := h.mgr.State(); st.Session != models.SessionDisconnected {
		t.Fatalf("session state = %s, want DISCONNECTED", st.Session)
	}
}

func TestPoll_AssociationThenSessionHandshake(t *testing.T) {
	h := newHarness()
	h.mgr.SetCommandHandler(func(string, []byte) {})
	now := time.Unix(1000, 0)

	h.link.up = true
	h.mgr.Poll(context.Background(), now)
	if st := h.mgr.State(); st.Network != models.NetAssociated {
		t.Fatalf("network state = %s, want ASSOCIATED", st.Network)
	}

	// The same iteration starts the handshake; the next one observes it.
	if h.session.begins != 1 {
		t.Fatalf("expected one session attempt, got %d", h.session.begins)
	}
	h.mgr.Poll(context.Background(), now.Add(time.Second))

	if !h.mgr.Connected() {
		t.Fatalf("expected full path up after handshake completes")
	}

	// The handshake completion re-subscribes the command topic.
	if len(h.session.subscribed) != 1 || h.session.subscribed[0] != "tank/command" {
		t.Fatalf("command subscription missing, got %v", h.session.subscribed)
	}
}

func TestSessionUp_PublishesRetainedAnnouncement(t *testing.T) {
	h := newHarness()
	h.mgr.SetAnnouncer(func() ([]byte, error) { return []byte(`{"status":"online"}`), nil })
	h.mgr.SetCommandHandler(func(string, []byte) {})

	h.link.up = true
	now := time.Unix(1000, 0)
	h.mgr.Poll(context.Background(), now)
	h.mgr.Poll(context.Background(), now.Add(time.Second))

	if len(h.session.published) != 1 {
		t.Fatalf("expected one announcement, got %d", len(h.session.published))
	}
	msg := h.session.published[0]
	if msg.topic != "tank/status" || !msg.retained {
		t.Fatalf("announcement must be retained on status topic, got %+v", msg)
	}
}

func TestPoll_SessionAttemptsRespectCooldown(t *testing.T) {
	h := newHarness()
	h.link.up = true
	now := time.Unix(1000, 0)

	// Associate, then fail the first handshake.
	h.mgr.Poll(context.Background(), now)
	h.session.nextErr = errors.New("broker unreachable")
	h.mgr.Poll(context.Background(), now.Add(time.Second))

	begins := h.session.begins

	// Within the 5s cooldown no new attempt may start.
	h.mgr.Poll(context.Background(), now.Add(2*time.Second))
	h.mgr.Poll(context.Background(), now.Add(4*time.Second))
	if h.session.begins != begins {
		t.Fatalf("attempt started inside cooldown window")
	}

	// After the cooldown the next attempt starts.
	h.mgr.Poll(context.Background(), now.Add(7*time.Second))
	if h.session.begins != begins+1 {
		t.Fatalf("expected a new attempt after cooldown, got %d", h.session.begins)
	}
}

func TestPoll_NetworkLossInvalidatesSession(t *testing.T) {
	h := newHarness()
	h.link.up = true
	now := time.Unix(1000, 0)
	h.mgr.Poll(context.Background(), now)
	h.mgr.Poll(context.Background(), now.Add(time.Second))
	if !h.mgr.Connected() {
		t.Fatalf("precondition: expected connected")
	}

	h.link.up = false
	h.mgr.Poll(context.Background(), now.Add(2*time.Second))

	st := h.mgr.State()
	if st.Network != models.NetDisconnected {
		t.Fatalf("network state = %s, want DISCONNECTED", st.Network)
	}
	if st.Session != models.SessionDisconnected {
		t.Fatalf("session must be invalidated with the association, got %s", st.Session)
	}
	if h.session.disconnects == 0 {
		t.Fatalf("expected the session client to be torn down")
	}
	if err := h.mgr.Publish("tank/telemetry", false, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Publish while down: got %v, want ErrNotConnected", err)
	}
}

func TestPoll_ConnectingWindowIsBounded(t *testing.T) {
	h := newHarness()
	now := time.Unix(1000, 0)

	// Wait out the initial retry delay so an attempt starts.
	h.mgr.Poll(context.Background(), now.Add(10*time.Second))
	if st := h.mgr.State(); st.Network != models.NetConnecting {
		t.Fatalf("network state = %s, want CONNECTING", st.Network)
	}
	if h.link.reconnects != 1 {
		t.Fatalf("expected one reconnect nudge, got %d", h.link.reconnects)
	}

	// Still down past the connect timeout: the attempt is abandoned.
	h.mgr.Poll(context.Background(), now.Add(26*time.Second))
	if st := h.mgr.State(); st.Network != models.NetDisconnected {
		t.Fatalf("network state = %s, want DISCONNECTED after timeout", st.Network)
	}
}

func TestPoll_EmitsTransitionEvents(t *testing.T) {
	h := newHarness()
	now := time.Unix(1000, 0)

	h.link.up = true
	h.mgr.Poll(context.Background(), now)
	h.mgr.Poll(context.Background(), now.Add(time.Second))
	h.link.up = false
	h.mgr.Poll(context.Background(), now.Add(2*time.Second))

	want := []models.LoopEventKind{
		models.LoopNetUp,
		models.LoopSessionUp,
		models.LoopSessionDown,
		models.LoopNetDown,
	}
	got := h.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}
