package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

// session is the live state of one connected class.
type session struct {
	id          string
	device      string
	class       Class
	props       Properties
	worker      Worker
	subs        Subscriptions
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error

	// detached is set once a Detach diagnostic has been raised.
	detached atomic.Bool

	// deliverMu serializes edge delivery between the read goroutine and
	// settle timers, and guards filter and the timer set.
	deliverMu   sync.Mutex
	filter      *edgeFilter
	settling    map[zone.ID]*time.Timer
	settleWG    sync.WaitGroup
	settleEnded bool

	edges      atomic.Uint64
	suppressed atomic.Uint64
	faults     atomic.Uint64
	lastEdge   atomic.Int64
}

func newSession(device string, class Class, props Properties, w Worker, subs Subscriptions, window time.Duration, now time.Time) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:          uuid.NewString(),
		device:      device,
		class:       class,
		props:       props,
		worker:      w,
		subs:        make(Subscriptions, len(subs)),
		connectedAt: now,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		filter:      newEdgeFilter(window),
		settling:    make(map[zone.ID]*time.Timer),
	}
	for id, cb := range subs {
		s.subs[id] = cb
	}
	return s
}

// closeWorker closes the worker once and returns the first close error.
func (s *session) closeWorker() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.worker.Close()
	})
	return s.closeErr
}

// scheduleSettle arms a timer that calls fire for id after wait, unless one
// is already armed. Caller holds deliverMu.
func (s *session) scheduleSettle(id zone.ID, wait time.Duration, fire func(zone.ID)) {
	if s.settleEnded {
		return
	}
	if _, armed := s.settling[id]; armed {
		return
	}
	s.settleWG.Add(1)
	s.settling[id] = time.AfterFunc(wait, func() {
		defer s.settleWG.Done()
		fire(id)
	})
}

// stopSettling disarms every settle timer and waits for any that already
// fired. No edge is delivered for the session afterwards.
func (s *session) stopSettling() {
	s.deliverMu.Lock()
	s.settleEnded = true
	for id, t := range s.settling {
		if t.Stop() {
			s.settleWG.Done()
		}
		delete(s.settling, id)
	}
	s.deliverMu.Unlock()
	s.settleWG.Wait()
}

// SessionInfo is a snapshot of one session.
type SessionInfo struct {
	ID          string     `json:"id"`
	Device      string     `json:"device"`
	Class       Class      `json:"class"`
	State       State      `json:"state"`
	ConnectedAt time.Time  `json:"connected_at"`
	LastEdge    *time.Time `json:"last_edge,omitempty"`
	Properties  Properties `json:"properties"`
	Edges       uint64     `json:"edges"`
	Suppressed  uint64     `json:"suppressed"`
	Faults      uint64     `json:"faults"`
}

func (s *session) info(state State) SessionInfo {
	info := SessionInfo{
		ID:          s.id,
		Device:      s.device,
		Class:       s.class,
		State:       state,
		ConnectedAt: s.connectedAt,
		Properties:  s.props.Clone(),
		Edges:       s.edges.Load(),
		Suppressed:  s.suppressed.Load(),
		Faults:      s.faults.Load(),
	}
	if ns := s.lastEdge.Load(); ns != 0 {
		t := time.Unix(0, ns)
		info.LastEdge = &t
	}
	return info
}
