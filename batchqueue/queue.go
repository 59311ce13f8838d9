// Package batchqueue implements the Nagle-style batched lookup queue
// spec.md §4.5 and §9 describe: a single-consumer, time-and-size
// triggered batcher that coalesces per-hash location lookups issued by
// the proactive-copy engine into bounded GetBulk calls, running them at
// degree-of-parallelism one.
//
// Grounded on the teacher's own use of github.com/eapache/channels'
// InfiniteChannel for its unbounded block-event ingestion
// (worker/storage/committee/node.go's blockCh), reused here so a
// producer enqueuing faster than the flush interval is never blocked.
package batchqueue

import (
	"context"
	"time"

	"github.com/eapache/channels"
	"github.com/gammazero/deque"

	"github.com/oasisprotocol/contentfleet/go/common/logging"
	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/location"
)

// Config tunes the batch trigger and the escalation threshold (spec.md
// §6: proactive_copy_get_bulk_batch_size / _interval /
// proactive_copy_locations_threshold).
type Config struct {
	BatchSize          int
	Interval           time.Duration
	LocationsThreshold int
}

// Result is one hash's answer: its merged directory entry and which
// stage (local or escalated to global) ultimately produced it.
type Result struct {
	Entry  location.Entry
	Origin location.Origin
}

type request struct {
	hash  contenthash.Hash
	reply chan reply
}

type reply struct {
	res Result
	err error
}

// Queue batches per-hash Lookup calls into GetBulk calls against store.
type Queue struct {
	store  location.Store
	cfg    Config
	logger *logging.Logger

	in   *channels.InfiniteChannel
	done chan struct{}
}

// New starts a Queue's background consumer. Callers must call Close
// when done (spec.md §9: "must flush on shutdown").
func New(store location.Store, cfg Config) *Queue {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Millisecond
	}
	q := &Queue{
		store:  store,
		cfg:    cfg,
		logger: logging.GetLogger("batchqueue"),
		in:     channels.NewInfiniteChannel(),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Lookup enqueues hash and blocks until its batch has been flushed and
// answered, or ctx is done.
func (q *Queue) Lookup(ctx context.Context, hash contenthash.Hash) (Result, error) {
	req := &request{hash: hash, reply: make(chan reply, 1)}
	select {
	case q.in.In() <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-q.done:
		return Result{}, context.Canceled
	}
	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Close stops the consumer after flushing whatever is currently
// buffered or already enqueued but not yet read by run(): closing the
// InfiniteChannel lets its Out() drain every pending item before it
// closes, so nothing submitted before Close races with shutdown.
func (q *Queue) Close() {
	q.in.Close()
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)

	buf := deque.New()
	var timerC <-chan time.Time

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		reqs := make([]*request, buf.Len())
		for i := range reqs {
			reqs[i] = buf.At(i).(*request)
		}
		buf = deque.New()
		timerC = nil
		q.answer(reqs)
	}

	out := q.in.Out()
	for {
		select {
		case v, ok := <-out:
			if !ok {
				flush()
				return
			}
			req := v.(*request)
			if buf.Len() == 0 {
				timerC = time.After(q.cfg.Interval)
			}
			buf.PushBack(req)
			if buf.Len() >= q.cfg.BatchSize {
				flush()
			}
		case <-timerC:
			flush()
		}
	}
}

// answer runs one bulk lookup (local, then global for whichever hashes
// didn't meet the threshold locally) for the given batch, at
// degree-of-parallelism one — this method only ever runs from the
// single run() goroutine.
func (q *Queue) answer(reqs []*request) {
	ctx := context.Background()
	hashes := make([]contenthash.Hash, len(reqs))
	for i, r := range reqs {
		hashes[i] = r.hash
	}

	localRes, err := q.store.GetBulk(ctx, hashes, location.OriginLocal)
	if err != nil {
		for _, r := range reqs {
			r.reply <- reply{err: err}
		}
		return
	}

	escalated := make(map[contenthash.Hash]bool)
	var escalate []contenthash.Hash
	for _, rec := range localRes.Records {
		if rec.Entry.ReplicaCount() < q.cfg.LocationsThreshold {
			escalate = append(escalate, rec.Hash)
			escalated[rec.Hash] = true
		}
	}

	merged := localRes
	if len(escalate) > 0 {
		globalRes, gerr := q.store.GetBulk(ctx, escalate, location.OriginGlobal)
		if gerr != nil {
			q.logger.Warn("batched global escalation failed", "err", gerr, "count", len(escalate))
			for h := range escalated {
				escalated[h] = false
			}
		} else {
			globalRes = globalRes.Subtract(localRes)
			merged = localRes.Merge(globalRes)
		}
	}

	for _, r := range reqs {
		rec, ok := merged.Get(r.hash)
		origin := location.OriginLocal
		if escalated[r.hash] {
			origin = location.OriginGlobal
		}
		if !ok {
			r.reply <- reply{res: Result{Origin: origin}}
			continue
		}
		r.reply <- reply{res: Result{Entry: rec.Entry, Origin: origin}}
	}
}
