package relay

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"relaymesh/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultDispatchTimeout = 8 * time.Second

// Engine fans queries out across the relevant relays and merges the
// partial responses by latest-timestamp-wins deduplication.
type Engine struct {
	resolver  *Resolver
	transport Transport
	logger    *zap.Logger
	metrics   *Metrics
	timeout   time.Duration
}

// NewEngine creates a query engine. metrics may be nil.
func NewEngine(resolver *Resolver, transport Transport, logger *zap.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		resolver:  resolver,
		transport: transport,
		logger:    logger,
		metrics:   metrics,
		timeout:   defaultDispatchTimeout,
	}
}

// SetDispatchTimeout bounds the latency of a single per-relay dispatch.
func (e *Engine) SetDispatchTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// dispatch is one (filter, relay) pair to be queried.
type dispatch struct {
	filter types.Filter
	url    string
}

// Query dispatches every (filter, relay) pair concurrently, waits for all
// of them to settle and returns the merged, deduplicated records, newest
// first. Failed or timed-out dispatches reduce coverage; total relay
// failure yields an empty result, never an error. Cancelling ctx cancels
// every in-flight dispatch.
func (e *Engine) Query(ctx context.Context, filters []types.Filter) []types.Record {
	callID := uuid.NewString()[:8]
	targets := e.buildTargets(ctx, filters)

	e.logger.Debug("dispatching federated query",
		zap.String("call", callID),
		zap.Int("filters", len(filters)),
		zap.Int("dispatches", len(targets)))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		merged = make(map[types.RecordID]types.Record)
	)

	for _, d := range targets {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()

			qctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			start := time.Now()
			recs, err := e.transport.Query(qctx, d.filter, d.url)
			e.metrics.observeDispatch(time.Since(start), err == nil)
			if err != nil {
				e.logger.Debug("relay query failed",
					zap.String("call", callID),
					zap.String("relay", d.url),
					zap.Error(err))
				return
			}

			mu.Lock()
			e.mergeRecords(merged, recs)
			mu.Unlock()
		}()
	}

	wg.Wait()

	out := make([]types.Record, 0, len(merged))
	for _, rec := range merged {
		// Embedded relay hints widen later list-document discovery.
		e.resolver.ObserveHints(rec)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// buildTargets computes the deduplicated (filter, relay) pairs for a call.
// Author-scoped filters target the union of each author's write relays and
// the caller's own read relays; author lookups are cached for the duration
// of the call.
func (e *Engine) buildTargets(ctx context.Context, filters []types.Filter) []dispatch {
	ownRead := readURLs(e.resolver.Local(ctx))
	writeCache := make(map[types.SubjectID][]string)
	seen := make(map[string]struct{})

	var out []dispatch
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			e.logger.Warn("skipping invalid filter", zap.Error(err))
			continue
		}
		fkey := filterKey(f)

		var urls []string
		if len(f.Authors) > 0 {
			for _, author := range f.Authors {
				ws, ok := writeCache[author]
				if !ok {
					ws = writeURLs(e.resolver.WriteEndpoints(ctx, author))
					writeCache[author] = ws
				}
				urls = append(urls, ws...)
			}
			// Read redundancy: always also ask the caller's own relays.
			urls = append(urls, ownRead...)
		} else {
			urls = ownRead
		}

		for _, u := range urls {
			key := fkey + "|" + u
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, dispatch{filter: f, url: u})
		}
	}
	return out
}

// filterKey returns a canonical encoding of a filter for target
// deduplication: identical filter values yield identical keys regardless of
// criteria order, so no relay is queried twice for the same filter within
// one call.
func filterKey(f types.Filter) string {
	c := types.Filter{
		Kinds:   append([]int(nil), f.Kinds...),
		Authors: append([]types.SubjectID(nil), f.Authors...),
		Limit:   f.Limit,
	}
	sort.Ints(c.Kinds)
	sort.Slice(c.Authors, func(i, j int) bool { return c.Authors[i] < c.Authors[j] })
	if len(f.Tags) > 0 {
		c.Tags = make(map[string][]string, len(f.Tags))
		for k, v := range f.Tags {
			vs := append([]string(nil), v...)
			sort.Strings(vs)
			c.Tags[k] = vs
		}
	}
	key, _ := json.Marshal(c)
	return string(key)
}

// mergeRecords applies latest-wins deduplication by record identity. Equal
// timestamps keep whichever record was inserted first; ties carry identical
// logical content in practice.
func (e *Engine) mergeRecords(dst map[types.RecordID]types.Record, recs []types.Record) {
	for _, rec := range recs {
		if prev, ok := dst[rec.ID]; ok {
			e.metrics.mergeCollision()
			if rec.CreatedAt <= prev.CreatedAt {
				continue
			}
		} else {
			e.metrics.recordMerged()
		}
		dst[rec.ID] = rec
	}
}

func readURLs(eps []types.Endpoint) []string {
	var out []string
	for _, ep := range eps {
		if ep.Read {
			out = append(out, ep.URL)
		}
	}
	return out
}

func writeURLs(eps []types.Endpoint) []string {
	var out []string
	for _, ep := range eps {
		if ep.Write {
			out = append(out, ep.URL)
		}
	}
	return out
}
