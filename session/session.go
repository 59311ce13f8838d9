package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"

	"github.com/oasisprotocol/contentfleet/go/batchqueue"
	"github.com/oasisprotocol/contentfleet/go/common/logging"
	"github.com/oasisprotocol/contentfleet/go/common/workerpool"
	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/copier"
	"github.com/oasisprotocol/contentfleet/go/localcas"
	"github.com/oasisprotocol/contentfleet/go/location"
	"github.com/oasisprotocol/contentfleet/go/ringcache"
)

// lifecycleState enumerates spec.md §3's Session lifecycle:
// created → started → running → shutting-down → disposed.
type lifecycleState int32

const (
	stateCreated lifecycleState = iota
	stateStarted
	stateRunning
	stateShuttingDown
	stateDisposed
)

var (
	// ErrNotRunning is returned by any engine entry point called before
	// Start has returned successfully or after shutdown has completed
	// (spec.md §3 lifecycle rule).
	ErrNotRunning = errors.New("contentsession: session is not running")
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("contentsession: session already started")
)

// hashItem adapts contenthash.Hash to google/btree.Item, ordering
// exactly as contenthash.Hash.Compare does (spec.md §3: "equality and
// ordering are exact bitwise on the digest"). The in-flight
// proactive-put set (spec.md §3, §5) uses this so its membership can be
// inspected in deterministic order for diagnostics.
type hashItem contenthash.Hash

func (h hashItem) Less(than btree.Item) bool {
	o := than.(hashItem)
	return contenthash.Hash(h).Compare(contenthash.Hash(o)) < 0
}

// Session is the client-facing distributed content session (spec.md
// §2-§3): the long-lived object owning the pin, place, put, and
// proactive-copy engines, composed atop a local CAS, a content-location
// directory, and a copier. The directory and copier are shared with the
// enclosing process-wide store: the session must not prolong their
// lifetime (spec.md §3 Ownership), which is why every fire-and-forget
// operation binds to storeCtx, not sessionCtx (spec.md §5, §9).
type Session struct {
	cas    localcas.Backend
	store  location.Store
	copier copier.Copier
	cfg    Config
	logger *logging.Logger

	state atomic.Int32

	putPlaceGate *gate
	pinPool      *workerpool.Pool
	queue        *batchqueue.Queue
	ring         *ringcache.Cache

	buildIDHash *contenthash.Hash

	inFlightMu sync.Mutex
	inFlight   *btree.BTree

	// sessionCtx is cancelled by Shutdown. Foreground (awaited)
	// operations run under their caller's ctx, not under sessionCtx.
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	// storeCtx outlives the session; detached (fire-and-forget)
	// operations are bound to it instead (spec.md §5, §9).
	storeCtx context.Context

	detachedWG sync.WaitGroup
}

// New constructs a Session in the created state. storeCtx represents
// the lifetime of the enclosing process-wide store: it must outlive
// this Session, and fire-and-forget work launched by the session is
// bound to it so that work can survive this session's own Shutdown but
// never the store's teardown (spec.md §5).
func New(cas localcas.Backend, store location.Store, cp copier.Copier, cfg Config, storeCtx context.Context) *Session {
	s := &Session{
		cas:      cas,
		store:    store,
		copier:   cp,
		cfg:      cfg,
		logger:   logging.GetLogger("session"),
		inFlight: btree.New(32),
		storeCtx: storeCtx,
	}
	s.state.Store(int32(stateCreated))
	return s
}

// detach returns the context fire-and-forget operations must run under:
// bound to the store's lifetime, never the session's (spec.md §5, §9
// Design Notes "Fire-and-forget scope"). goDetached is the mandatory
// helper spec.md §9 requires be preserved as a first-class primitive.
func (s *Session) detach() context.Context {
	return s.storeCtx
}

// goDetached launches fn bound to the store's cancellation signal. The
// session counts it in detachedWG; Shutdown neither waits for it nor
// cancels it.
func (s *Session) goDetached(fn func(ctx context.Context)) {
	s.detachedWG.Add(1)
	go func() {
		defer s.detachedWG.Done()
		fn(s.detach())
	}()
}

// Start transitions created → started → running: it brings up the
// put/place gate, the remote-pin worker pool, the proactive-copy batch
// queue, the ring-membership cache, and — if a build id is configured —
// registers this session's build-ring membership (spec.md §4.6).
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(stateCreated), int32(stateStarted)) {
		return ErrAlreadyStarted
	}

	s.sessionCtx, s.sessionCancel = context.WithCancel(s.storeCtx)
	s.putPlaceGate = newGate(s.cfg.MaxConcurrentPutAndPlaceFileOperations)
	maxIO := s.cfg.Pin.MaxIOOperations
	if maxIO < 1 {
		maxIO = 1
	}
	s.pinPool = workerpool.New(maxIO)
	s.queue = batchqueue.New(s.store, batchqueue.Config{
		BatchSize:          s.cfg.ProactiveCopyGetBulkBatchSize,
		Interval:           s.cfg.ProactiveCopyGetBulkInterval,
		LocationsThreshold: s.cfg.ProactiveCopyLocationsThreshold,
	})
	s.ring = ringcache.New(s.cfg.ProactiveCopyInRingCacheTTL)

	if len(s.cfg.BuildID) > 0 {
		if err := s.startRingTracking(ctx); err != nil {
			s.state.Store(int32(stateCreated))
			return err
		}
	}

	s.state.Store(int32(stateRunning))
	return nil
}

// running reports whether engine entry points may be invoked.
func (s *Session) running() bool {
	return lifecycleState(s.state.Load()) == stateRunning
}

// Shutdown transitions running → shutting-down → disposed: it cancels
// sessionCtx, clears the build-ring tracking state (the directory
// registration itself is left in place), and closes the batch queue.
// Foreground operations already in progress run under their caller's
// ctx and are not cancelled by Shutdown.
// Fire-and-forget work already bound to storeCtx may continue running
// past this call; it is the caller-supplied storeCtx's owner that
// ultimately bounds its lifetime (spec.md §3, §5).
func (s *Session) Shutdown(ctx context.Context) error {
	for {
		cur := lifecycleState(s.state.Load())
		if cur == stateDisposed || cur == stateShuttingDown {
			return nil
		}
		if s.state.CompareAndSwap(int32(cur), int32(stateShuttingDown)) {
			break
		}
	}

	if s.sessionCancel != nil {
		s.sessionCancel()
	}
	if len(s.cfg.BuildID) > 0 {
		s.stopRingTracking(ctx)
	}
	if s.queue != nil {
		s.queue.Close()
	}

	s.state.Store(int32(stateDisposed))
	return nil
}

// tryEnterInFlight inserts h into the in-flight proactive-put set if it
// is not already present, returning whether the insertion happened
// (spec.md §3: "Re-entry for the same hash during that window is a
// no-op").
func (s *Session) tryEnterInFlight(h contenthash.Hash) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	item := hashItem(h)
	if s.inFlight.Get(item) != nil {
		return false
	}
	s.inFlight.ReplaceOrInsert(item)
	return true
}

// leaveInFlight removes h from the in-flight set once both push tasks
// for it have completed.
func (s *Session) leaveInFlight(h contenthash.Hash) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	s.inFlight.Delete(hashItem(h))
}

// Snapshot is a pure-value diagnostic snapshot a caller may log or
// print; this module carries no metrics library (spec.md §1 keeps
// statistics emission out of scope), so this is the only observability
// surface the session itself exposes.
type Snapshot struct {
	GateOccupancy int64
	GateCapacity  int64
	InFlightCount int
	RingKnown     bool
}

// Snapshot returns the session's current diagnostic snapshot.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{}
	if s.putPlaceGate != nil {
		snap.GateOccupancy = s.putPlaceGate.occupied.Load()
		snap.GateCapacity = s.putPlaceGate.capacity
	}
	s.inFlightMu.Lock()
	snap.InFlightCount = s.inFlight.Len()
	s.inFlightMu.Unlock()
	if s.ring != nil {
		_, fresh := s.ring.Get(time.Now())
		snap.RingKnown = fresh
	}
	return snap
}
