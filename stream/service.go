// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gavel-foundation/gavel/lib/clock"
	"github.com/gavel-foundation/gavel/lib/config"
	"github.com/gavel-foundation/gavel/lib/ref"
	"github.com/gavel-foundation/gavel/transport"
)

// AccessPolicy decides whether a principal may edit or tombstone an
// existing entry. Owned by the application's authorization layer;
// rejections propagate to the submitting caller unchanged in meaning.
type AccessPolicy interface {
	// AuthorizeSupersede returns nil to allow actor to edit or
	// tombstone target, or an error describing the denial.
	AuthorizeSupersede(ctx context.Context, actor ref.PrincipalID, target LogEntry) error
}

// AuthorAccessPolicy is the default policy: only the original author
// may edit or tombstone an entry.
type AuthorAccessPolicy struct{}

// AuthorizeSupersede implements AccessPolicy.
func (AuthorAccessPolicy) AuthorizeSupersede(ctx context.Context, actor ref.PrincipalID, target LogEntry) error {
	if actor != target.Author {
		return fmt.Errorf("entry %d belongs to %s", target.Sequence, target.Author)
	}
	return nil
}

// ServiceConfig carries the service's collaborators. Store, Directory,
// and Clock are required; Policy defaults to AuthorAccessPolicy.
type ServiceConfig struct {
	Config    *config.Config
	Store     Store
	Directory MembershipDirectory
	Policy    AccessPolicy
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Service is the collaboration core's external surface: session
// lifecycle, submissions, activity signals, and the queries the
// embedding server exposes. One Service per process; everything
// behind it is wired here.
type Service struct {
	clock  clock.Clock
	logger *slog.Logger

	journal    *Journal
	registry   *Registry
	dispatcher *Dispatcher
	tracker    *Tracker
	queue      *OfflineQueue
	reconciler *Reconciler
	router     *Router
	policy     AccessPolicy

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	cancelSessionWatch  func()
	cancelPresenceWatch func()
	stopSweep           func()
}

// NewService wires the collaboration core and starts its background
// loops. The caller owns the store and closes it after Close.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("stream: Store is required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("stream: Directory is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("stream: Clock is required")
	}
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}
	if cfg.Policy == nil {
		cfg.Policy = AuthorAccessPolicy{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	stream := cfg.Config.Stream

	s := &Service{
		clock:  cfg.Clock,
		logger: logger,
		policy: cfg.Policy,
		done:   make(chan struct{}),
	}

	s.journal = NewJournal(cfg.Store, cfg.Clock, logger)
	s.registry = NewRegistry(RegistryConfig{
		Policy:      stream.SessionPolicy,
		IdleTimeout: stream.IdleTimeout.Std(),
		Buffer:      stream.FanoutBuffer,
		Clock:       cfg.Clock,
		Logger:      logger,
	})
	s.dispatcher = NewDispatcher(s.registry, logger)
	s.tracker = NewTracker(TrackerConfig{
		TypingDecay: stream.TypingDecay.Std(),
		AwayAfter:   stream.IdleTimeout.Std() / 2,
		Clock:       cfg.Clock,
		Logger:      logger,
	})
	s.queue = NewOfflineQueue(stream.QueueRetention.Std(), cfg.Clock, logger)

	reconciler, err := NewReconciler(s.journal, s.queue, stream.ReplayLimit, logger)
	if err != nil {
		return nil, err
	}
	s.reconciler = reconciler

	router, err := NewRouter(cfg.Directory, s.dispatcher, s.queue, cfg.Clock, logger)
	if err != nil {
		return nil, err
	}
	s.router = router

	s.journal.SetCommitHook(s.dispatcher.PublishEntry)

	sessionEvents, cancelSessions := s.registry.Watch()
	s.cancelSessionWatch = cancelSessions
	presenceEvents, cancelPresence := s.tracker.Watch()
	s.cancelPresenceWatch = cancelPresence
	sweepTicks, stopSweep := s.clock.NewTicker(stream.QueueRetention.Std() / 2)
	s.stopSweep = stopSweep

	s.wg.Add(3)
	go s.consumeSessionEvents(sessionEvents)
	go s.consumePresence(presenceEvents)
	go s.sweepLoop(sweepTicks)

	return s, nil
}

// Connect registers a session for principal in room over tr and brings
// it up to date. lastSeen is the highest sequence the client already
// holds (zero for a fresh client); everything after it is replayed, or
// a snapshot is shipped when the gap exceeds the replay window. The
// room's current presence follows.
func (s *Service) Connect(ctx context.Context, principal ref.PrincipalID, room ref.RoomID, tr transport.Transport, lastSeen uint64) (*Session, error) {
	session, err := s.registry.Connect(principal, room, tr)
	if err != nil {
		return nil, err
	}

	if err := s.reconciler.Resync(ctx, session, lastSeen); err != nil {
		s.registry.Disconnect(session.ID, "reconciliation failed")
		return nil, fmt.Errorf("stream: reconciling %s: %w", session.ID, err)
	}

	for _, state := range s.tracker.Snapshot(room) {
		frame, err := transport.NewFrame(transport.FramePresence, state)
		if err != nil {
			return session, nil
		}
		if err := session.Enqueue(frame); err != nil {
			break
		}
	}
	return session, nil
}

// Disconnect retires the session. Unknown or already-retired IDs are a
// no-op: the client-close and transport-failure paths race here and
// both must win.
func (s *Service) Disconnect(id ref.SessionID, reason string) {
	s.registry.Disconnect(id, reason)
}

// Submit appends a client submission to the session's room and routes
// its notifications. The submission's room and author are taken from
// the session, never from the client payload. Duplicate resubmission
// by provisional ID returns the original committed entry.
func (s *Service) Submit(ctx context.Context, id ref.SessionID, sub Submission) (LogEntry, error) {
	session, err := s.registry.Get(id)
	if err != nil {
		return LogEntry{}, err
	}
	s.registry.Touch(id)

	// Membership entries record access-control decisions; clients
	// cannot submit them.
	if sub.Kind == KindMembership {
		return LogEntry{}, &PolicyError{
			Op:     "submit",
			Actor:  session.Principal,
			Reason: "membership entries are server-originated",
		}
	}
	if sub.Kind == KindEdit || sub.Kind == KindTombstone {
		return s.supersede(ctx, session, sub)
	}

	sub.Room = session.Room
	sub.Author = session.Principal
	entry, appended, err := s.journal.Append(ctx, sub)
	if err != nil {
		return LogEntry{}, err
	}
	if appended {
		if err := s.router.Route(ctx, entry); err != nil {
			s.logger.Error("notification routing failed",
				"room", entry.Room,
				"sequence", entry.Sequence,
				"error", err,
			)
		}
	}
	return entry, nil
}

// EditEntry appends an edit superseding target, if the access policy
// allows the session's principal to change it.
func (s *Service) EditEntry(ctx context.Context, id ref.SessionID, target uint64, payload EditPayload, provisionalID string) (LogEntry, error) {
	session, err := s.registry.Get(id)
	if err != nil {
		return LogEntry{}, err
	}
	s.registry.Touch(id)
	return s.supersede(ctx, session, Submission{
		Kind:          KindEdit,
		Payload:       payload,
		Supersedes:    target,
		ProvisionalID: provisionalID,
	})
}

// TombstoneEntry appends a tombstone soft-deleting target, if the
// access policy allows it.
func (s *Service) TombstoneEntry(ctx context.Context, id ref.SessionID, target uint64, reason string, provisionalID string) (LogEntry, error) {
	session, err := s.registry.Get(id)
	if err != nil {
		return LogEntry{}, err
	}
	s.registry.Touch(id)
	return s.supersede(ctx, session, Submission{
		Kind:          KindTombstone,
		Payload:       TombstonePayload{Reason: reason},
		Supersedes:    target,
		ProvisionalID: provisionalID,
	})
}

// RecordMembership appends a server-originated membership entry
// (member added or removed, resource shared) and routes the resulting
// invitation and activity notifications.
func (s *Service) RecordMembership(ctx context.Context, room ref.RoomID, actor ref.PrincipalID, payload MembershipPayload) (LogEntry, error) {
	entry, appended, err := s.journal.Append(ctx, Submission{
		Room:    room,
		Author:  actor,
		Kind:    KindMembership,
		Payload: payload,
	})
	if err != nil {
		return LogEntry{}, err
	}
	if appended {
		if err := s.router.Route(ctx, entry); err != nil {
			s.logger.Error("notification routing failed",
				"room", entry.Room,
				"sequence", entry.Sequence,
				"error", err,
			)
		}
	}
	return entry, nil
}

// Activity folds a typing or idle signal from the session into
// presence, and counts as liveness for the idle timeout.
func (s *Service) Activity(id ref.SessionID, kind ActivityKind) error {
	session, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	s.registry.Touch(id)
	s.tracker.Activity(session.Principal, session.Room, kind)
	return nil
}

// Presence returns the room's current presence states.
func (s *Service) Presence(room ref.RoomID) []PresenceState {
	return s.tracker.Snapshot(room)
}

// Journal exposes the underlying log for reads (history pages,
// reaction aggregation). Writes go through Submit.
func (s *Service) Journal() *Journal {
	return s.journal
}

// Close drains the core: retires every session, then stops the
// background loops. Idempotent.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.registry.Close()
		s.cancelSessionWatch()
		s.cancelPresenceWatch()
		s.stopSweep()
		close(s.done)
		s.wg.Wait()
		s.logger.Info("stream service closed")
	})
}

// supersede runs the shared edit/tombstone path: validate the target,
// consult the access policy, append.
func (s *Service) supersede(ctx context.Context, session *Session, sub Submission) (LogEntry, error) {
	op := "edit"
	if sub.Kind == KindTombstone {
		op = "tombstone"
	}

	target, err := s.journal.entryAt(ctx, session.Room, sub.Supersedes)
	if err != nil {
		return LogEntry{}, err
	}
	if err := s.policy.AuthorizeSupersede(ctx, session.Principal, target); err != nil {
		return LogEntry{}, &PolicyError{Op: op, Actor: session.Principal, Reason: err.Error()}
	}

	sub.Room = session.Room
	sub.Author = session.Principal
	entry, appended, err := s.journal.Append(ctx, sub)
	if err != nil {
		return LogEntry{}, err
	}
	if appended && sub.Kind == KindEdit {
		if err := s.router.Route(ctx, entry); err != nil {
			s.logger.Error("notification routing failed",
				"room", entry.Room,
				"sequence", entry.Sequence,
				"error", err,
			)
		}
	}
	return entry, nil
}

func (s *Service) consumeSessionEvents(events <-chan SessionEvent) {
	defer s.wg.Done()
	for {
		select {
		case event := <-events:
			s.tracker.HandleSessionEvent(event)
		case <-s.done:
			return
		}
	}
}

func (s *Service) consumePresence(states <-chan PresenceState) {
	defer s.wg.Done()
	for {
		select {
		case state := <-states:
			s.dispatcher.PublishPresence(state)
		case <-s.done:
			return
		}
	}
}

func (s *Service) sweepLoop(ticks <-chan time.Time) {
	defer s.wg.Done()
	for {
		select {
		case <-ticks:
			s.queue.Sweep()
		case <-s.done:
			return
		}
	}
}
