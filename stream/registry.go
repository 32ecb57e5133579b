// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gavel-foundation/gavel/lib/clock"
	"github.com/gavel-foundation/gavel/lib/config"
	"github.com/gavel-foundation/gavel/lib/ref"
	"github.com/gavel-foundation/gavel/transport"
)

// ErrSessionClosed is returned by enqueue paths after the session's
// pump has shut down.
var ErrSessionClosed = errors.New("stream: session closed")

// errBufferFull marks a live enqueue against a full outbound buffer.
// The dispatcher treats it as a slow consumer and retires the session.
var errBufferFull = errors.New("stream: outbound buffer full")

// Session is one live client connection, scoped to a single room. It
// owns a pump goroutine that drains the outbound buffer to the
// transport, so frame producers never block on the network.
type Session struct {
	ID          ref.SessionID
	Principal   ref.PrincipalID
	Room        ref.RoomID
	ConnectedAt time.Time

	transport transport.Transport
	outbound  chan transport.Frame

	// done is closed exactly once, when the session is retired.
	done     chan struct{}
	doneOnce sync.Once

	// mu guards the reconciliation state below. While reconciling,
	// live frames are parked so replay output reaches the transport
	// first; EndReconciliation flushes the parked frames in arrival
	// order.
	mu          sync.Mutex
	reconciling bool
	parked      []transport.Frame

	idleTimer clock.Timer
}

// Enqueue hands a live frame to the session's outbound pump. During
// reconciliation the frame is parked instead, up to the same depth as
// the outbound buffer. A full buffer or full parking lot returns an
// error: the session is too slow to keep its ordered stream and must
// be resynced, not skipped ahead.
func (s *Session) Enqueue(frame transport.Frame) error {
	s.mu.Lock()
	if s.reconciling {
		if len(s.parked) >= cap(s.outbound) {
			s.mu.Unlock()
			return errBufferFull
		}
		s.parked = append(s.parked, frame)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.push(frame)
}

// EnqueueReplay hands a reconciliation replay frame to the pump,
// bypassing parking. Blocks while the buffer is full: replay is paced
// by the transport, not dropped.
func (s *Session) EnqueueReplay(frame transport.Frame) error {
	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// BeginReconciliation switches the session into parking mode. Live
// frames enqueued after this call are held until EndReconciliation.
func (s *Session) BeginReconciliation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciling = true
	s.parked = nil
}

// EndReconciliation flushes parked frames to the pump in arrival order
// and resumes direct delivery. The reconciling flag is cleared only
// under the same lock acquisition that observes an empty parking lot,
// so a concurrent live Enqueue can never reach the outbound channel
// ahead of a parked frame carrying an earlier sequence.
func (s *Session) EndReconciliation() error {
	for {
		s.mu.Lock()
		if len(s.parked) == 0 {
			s.reconciling = false
			s.mu.Unlock()
			return nil
		}
		batch := s.parked
		s.parked = nil
		s.mu.Unlock()

		for _, frame := range batch {
			if err := s.EnqueueReplay(frame); err != nil {
				return err
			}
		}
	}
}

func (s *Session) push(frame transport.Frame) error {
	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return errBufferFull
	}
}

func (s *Session) retire() {
	s.doneOnce.Do(func() { close(s.done) })
}

// SessionEventKind discriminates registry lifecycle events.
type SessionEventKind string

const (
	// SessionConnected: the session was registered and its pump started.
	SessionConnected SessionEventKind = "connected"

	// SessionDisconnected: the session was retired (client close, idle
	// timeout, transport failure, or policy supersession).
	SessionDisconnected SessionEventKind = "disconnected"
)

// SessionEvent is delivered to registry watchers on every connect and
// disconnect. The presence tracker derives online/offline from these.
type SessionEvent struct {
	Kind    SessionEventKind
	Session *Session

	// Reason is set on disconnect events.
	Reason string
}

// Registry owns the set of live sessions. All lookups go through it;
// nothing else holds session references past a call.
type Registry struct {
	policy      config.SessionPolicy
	idleTimeout time.Duration
	buffer      int
	clock       clock.Clock
	logger      *slog.Logger

	mu          sync.Mutex
	closed      bool
	sessions    map[ref.SessionID]*Session
	byRoom      map[ref.RoomID]map[ref.SessionID]*Session
	byPrincipal map[ref.PrincipalID]map[ref.SessionID]*Session
	watchers    []*watchFeed[SessionEvent]
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Policy      config.SessionPolicy
	IdleTimeout time.Duration
	Buffer      int
	Clock       clock.Clock
	Logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		policy:      cfg.Policy,
		idleTimeout: cfg.IdleTimeout,
		buffer:      cfg.Buffer,
		clock:       cfg.Clock,
		logger:      logger,
		sessions:    make(map[ref.SessionID]*Session),
		byRoom:      make(map[ref.RoomID]map[ref.SessionID]*Session),
		byPrincipal: make(map[ref.PrincipalID]map[ref.SessionID]*Session),
	}
}

// Connect registers a new session for principal in room over tr and
// starts its outbound pump. Under the single-session policy, an
// existing session of the same principal in the same room is retired
// first (the newest login wins).
//
// The returned session starts in reconciliation mode: live frames are
// parked until the reconciler flushes them, so a resuming client never
// sees a live entry before its replay completes.
func (r *Registry) Connect(principal ref.PrincipalID, room ref.RoomID, tr transport.Transport) (*Session, error) {
	if principal.IsZero() || room.IsZero() {
		return nil, fmt.Errorf("stream: connect requires principal and room")
	}

	var superseded []*Session
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("stream: registry closed")
	}

	if r.policy == config.SingleSession {
		for _, existing := range r.byPrincipal[principal] {
			if existing.Room == room {
				superseded = append(superseded, existing)
			}
		}
	}

	session := &Session{
		ID:          ref.NewSessionID(uuid.NewString()),
		Principal:   principal,
		Room:        room,
		ConnectedAt: r.clock.Now(),
		transport:   tr,
		outbound:    make(chan transport.Frame, r.buffer),
		done:        make(chan struct{}),
		reconciling: true,
	}
	session.idleTimer = r.clock.AfterFunc(r.idleTimeout, func() {
		r.Disconnect(session.ID, "idle timeout")
	})

	r.sessions[session.ID] = session
	if r.byRoom[room] == nil {
		r.byRoom[room] = make(map[ref.SessionID]*Session)
	}
	r.byRoom[room][session.ID] = session
	if r.byPrincipal[principal] == nil {
		r.byPrincipal[principal] = make(map[ref.SessionID]*Session)
	}
	r.byPrincipal[principal][session.ID] = session
	watchers := append([]*watchFeed[SessionEvent](nil), r.watchers...)
	r.mu.Unlock()

	for _, old := range superseded {
		r.Disconnect(old.ID, "superseded by new session")
	}

	go r.pump(session)

	r.logger.Info("session connected",
		"session", session.ID,
		"principal", principal,
		"room", room,
	)
	notifyWatchers(watchers, SessionEvent{Kind: SessionConnected, Session: session})
	return session, nil
}

// Disconnect retires the session: stops its idle timer, shuts down the
// pump, closes the transport, and notifies watchers. Disconnecting an
// unknown or already-retired session is a no-op; transports fail at
// the same time clients close cleanly, and both paths land here.
func (r *Registry) Disconnect(id ref.SessionID, reason string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	delete(r.byRoom[session.Room], id)
	if len(r.byRoom[session.Room]) == 0 {
		delete(r.byRoom, session.Room)
	}
	delete(r.byPrincipal[session.Principal], id)
	if len(r.byPrincipal[session.Principal]) == 0 {
		delete(r.byPrincipal, session.Principal)
	}
	watchers := append([]*watchFeed[SessionEvent](nil), r.watchers...)
	r.mu.Unlock()

	session.idleTimer.Stop()
	session.retire()
	if err := session.transport.Close(); err != nil {
		r.logger.Debug("transport close", "session", id, "error", err)
	}

	r.logger.Info("session disconnected",
		"session", id,
		"principal", session.Principal,
		"room", session.Room,
		"reason", reason,
	)
	notifyWatchers(watchers, SessionEvent{Kind: SessionDisconnected, Session: session, Reason: reason})
}

// Get returns the live session with the given ID.
func (r *Registry) Get(id ref.SessionID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, nil
}

// SessionsInRoom returns the room's live sessions, in no particular
// order.
func (r *Registry) SessionsInRoom(room ref.RoomID) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byRoom[room]))
	for _, session := range r.byRoom[room] {
		out = append(out, session)
	}
	return out
}

// SessionsOf returns the principal's live sessions across all rooms.
// The notification router uses this to decide live delivery versus the
// offline queue.
func (r *Registry) SessionsOf(principal ref.PrincipalID) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byPrincipal[principal]))
	for _, session := range r.byPrincipal[principal] {
		out = append(out, session)
	}
	return out
}

// Touch resets the session's idle timer. Every client-originated
// signal (submission, activity) counts as liveness.
func (r *Registry) Touch(id ref.SessionID) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		session.idleTimer.Reset(r.idleTimeout)
	}
}

// Watch subscribes to session lifecycle events. Events are buffered
// per watcher and delivered in order; a slow watcher accumulates
// backlog instead of blocking connect and disconnect paths. The
// returned cancel removes the subscription; the channel is never
// closed.
func (r *Registry) Watch() (<-chan SessionEvent, func()) {
	feed := newWatchFeed[SessionEvent]()
	r.mu.Lock()
	r.watchers = append(r.watchers, feed)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		for i, w := range r.watchers {
			if w == feed {
				r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		feed.close()
	}
	return feed.out, cancel
}

// Close retires every live session and refuses further connects.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	ids := make([]ref.SessionID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Disconnect(id, "server shutting down")
	}
}

// pump drains the session's outbound buffer to its transport. A send
// failure retires the session; retrying against a broken transport
// would reorder its stream.
func (r *Registry) pump(session *Session) {
	for {
		select {
		case frame := <-session.outbound:
			if err := session.transport.Send(frame); err != nil {
				r.logger.Warn("transport send failed",
					"session", session.ID,
					"kind", frame.Kind,
					"error", err,
				)
				r.Disconnect(session.ID, "transport failure")
				return
			}
		case <-session.done:
			return
		}
	}
}

func notifyWatchers(watchers []*watchFeed[SessionEvent], event SessionEvent) {
	for _, feed := range watchers {
		feed.send(event)
	}
}
