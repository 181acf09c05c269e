package connectivity

import (
	"context"
	"errors"
	"time"

	"watertank_node/internal/logger"
	"watertank_node/internal/models"
)

// ErrNotConnected is returned by Publish while either axis is down. Callers
// skip the send; their own schedule is the retry.
var ErrNotConnected = errors.New("messaging session not connected")

// SessionClient is the messaging-session surface the manager drives. The
// connect handshake is split into begin/poll so the manager never blocks.
type SessionClient interface {
	BeginConnect()
	ConnectResult() (done bool, err error)
	IsConnected() bool
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Disconnect()
}

// Options fixes the retry pacing for both axes.
type Options struct {
	// Network axis: one reconnect attempt per RetryDelay, each abandoned
	// after ConnectTimeout without association.
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
	// Session axis: minimum spacing between handshake attempts.
	SessionCooldown time.Duration

	StatusTopic  string
	CommandTopic string
}

// Manager owns the two-axis connection state machine. Transitions happen
// only inside Poll, once per control-loop iteration; everything it calls is
// non-blocking or bounded. Failures on either axis are never fatal: both
// retry indefinitely.
type Manager struct {
	link    NetworkLink
	session SessionClient
	opt     Options
	log     *logger.Logger
	emit    func(models.LoopEvent)

	state              models.ConnectionState
	lastNetAttempt     time.Time
	connectingSince    time.Time
	lastSessionAttempt time.Time

	// announce builds the retained presence payload published on every
	// session (re)connect; onCommand receives inbound command messages.
	announce  func() ([]byte, error)
	onCommand func(topic string, payload []byte)
}

func NewManager(link NetworkLink, session SessionClient, opt Options, emit func(models.LoopEvent), log *logger.Logger) *Manager {
	return &Manager{
		link:    link,
		session: session,
		opt:     opt,
		emit:    emit,
		log:     log.Component("connectivity"),
		state: models.ConnectionState{
			Network: models.NetDisconnected,
			Session: models.SessionDisconnected,
		},
	}
}

// SetAnnouncer installs the builder for the retained online announcement.
func (m *Manager) SetAnnouncer(f func() ([]byte, error)) { m.announce = f }

// SetCommandHandler installs the inbound command handler, subscribed on
// every session connect.
func (m *Manager) SetCommandHandler(f func(topic string, payload []byte)) { m.onCommand = f }

// State returns the current two-axis snapshot.
func (m *Manager) State() models.ConnectionState { return m.state }

// Connected reports whether the full path to the broker is up.
func (m *Manager) Connected() bool {
	return m.state.Network == models.NetAssociated && m.state.Session == models.SessionConnected
}

// Publish forwards to the session when the path is up, otherwise returns
// ErrNotConnected without attempting a send.
func (m *Manager) Publish(topic string, retained bool, payload []byte) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	return m.session.Publish(topic, retained, payload)
}

// Poll advances both axes. Network first: a lost association immediately
// invalidates the session, so a session connect is never attempted or kept
// while the network is down.
func (m *Manager) Poll(ctx context.Context, now time.Time) {
	m.pollNetwork(ctx, now)
	if m.state.Network == models.NetAssociated {
		m.pollSession(now)
	}
}

func (m *Manager) pollNetwork(ctx context.Context, now time.Time) {
	up, err := m.link.Associated()
	if err != nil {
		m.log.Warnw("link probe failed", "err", err)
		up = false
	}

	switch m.state.Network {
	case models.NetAssociated:
		if !up {
			m.log.Warnw("network association lost")
			m.state.Network = models.NetDisconnected
			m.invalidateSession(now)
			m.send(models.LoopEvent{Kind: models.LoopNetDown})
		}

	case models.NetConnecting:
		if up {
			m.becomeAssociated()
			return
		}
		if now.Sub(m.connectingSince) >= m.opt.ConnectTimeout {
			m.log.Warnw("association attempt timed out",
				"elapsed", now.Sub(m.connectingSince))
			m.state.Network = models.NetDisconnected
		}

	case models.NetDisconnected:
		if up {
			// Association can come back on its own (supplicant roaming).
			m.becomeAssociated()
			return
		}
		if now.Sub(m.lastNetAttempt) >= m.opt.RetryDelay {
			m.lastNetAttempt = now
			m.connectingSince = now
			m.state.Network = models.NetConnecting
			if err := m.link.Reconnect(ctx); err != nil {
				m.log.Warnw("reconnect attempt failed", "err", err)
			}
		}
	}
}

func (m *Manager) becomeAssociated() {
	m.state.Network = models.NetAssociated
	m.log.Infow("network associated")
	m.send(models.LoopEvent{Kind: models.LoopNetUp})
}

func (m *Manager) pollSession(now time.Time) {
	if m.state.Session == models.SessionConnected {
		if !m.session.IsConnected() {
			m.log.Warnw("messaging session dropped")
			m.state.Session = models.SessionDisconnected
			m.session.Disconnect()
			m.lastSessionAttempt = now
			m.send(models.LoopEvent{Kind: models.LoopSessionDown, Reason: "session dropped"})
		}
		return
	}

	done, err := m.session.ConnectResult()
	if done {
		if err != nil {
			m.log.Warnw("session handshake failed", "err", err)
			m.lastSessionAttempt = now
			return
		}
		m.sessionUp()
		return
	}

	if now.Sub(m.lastSessionAttempt) >= m.opt.SessionCooldown {
		m.lastSessionAttempt = now
		m.session.BeginConnect()
	}
}

// sessionUp finalizes a successful handshake: re-announces presence as a
// retained status message and re-subscribes the command topic. Downstream
// consumers detect a reconnect through the announcement, distinct from the
// periodic heartbeat.
func (m *Manager) sessionUp() {
	m.state.Session = models.SessionConnected
	m.log.Infow("messaging session connected")

	if m.announce != nil {
		if payload, err := m.announce(); err == nil {
			if err := m.session.Publish(m.opt.StatusTopic, true, payload); err != nil {
				m.log.Warnw("presence announcement failed", "err", err)
			}
		} else {
			m.log.Warnw("presence payload build failed", "err", err)
		}
	}

	if m.onCommand != nil && m.opt.CommandTopic != "" {
		if err := m.session.Subscribe(m.opt.CommandTopic, m.onCommand); err != nil {
			m.log.Warnw("command subscribe failed", "topic", m.opt.CommandTopic, "err", err)
		}
	}

	m.send(models.LoopEvent{Kind: models.LoopSessionUp})
}

func (m *Manager) invalidateSession(now time.Time) {
	wasConnected := m.state.Session == models.SessionConnected
	m.state.Session = models.SessionDisconnected
	m.session.Disconnect()
	m.lastSessionAttempt = now
	if wasConnected {
		m.send(models.LoopEvent{Kind: models.LoopSessionDown, Reason: "network lost"})
	}
}

func (m *Manager) send(ev models.LoopEvent) {
	if m.emit != nil {
		m.emit(ev)
	}
}
