package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relaymesh/pkg/config"
	"relaymesh/pkg/store"
	"relaymesh/pkg/types"

	"go.uber.org/zap"
)

// BootstrapEndpoints is the fixed fallback set used when nothing better is
// known for an identity. Never empty.
var BootstrapEndpoints = []types.Endpoint{
	{URL: "wss://relay.damus.io", Read: true, Write: true},
	{URL: "wss://nos.lol", Read: true, Write: true},
	{URL: "wss://relay.primal.net", Read: true, Write: true},
}

// identityMemory is the per-identity resolution state. The
// unconfigured -> configured transition happens once per identity session;
// baseline remembers the last adopted published set so later reconciliation
// can tell manual additions apart from upstream rotation.
type identityMemory struct {
	baseline   []types.Endpoint
	configured bool
}

// Resolver computes the effective, precedence-ordered endpoint set for an
// identity. Resolution memory is owned by the resolver instance, keyed by
// identity, and reset explicitly on identity change.
type Resolver struct {
	mu        sync.Mutex
	cfg       *config.Config
	kv        store.KV
	transport Transport
	codec     *Codec
	logger    *zap.Logger
	metrics   *Metrics

	bootstrap    []types.Endpoint
	fetchTimeout time.Duration
	memory       map[types.SubjectID]*identityMemory
	hints        map[types.SubjectID][]string
}

// NewResolver creates a resolver over the local configuration blob. kv may
// be nil, in which case mutations are kept in memory only.
func NewResolver(cfg *config.Config, kv store.KV, transport Transport, logger *zap.Logger, metrics *Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cfg:          cfg,
		kv:           kv,
		transport:    transport,
		codec:        NewCodec(logger),
		logger:       logger,
		metrics:      metrics,
		bootstrap:    cloneEndpoints(BootstrapEndpoints),
		fetchTimeout: 5 * time.Second,
		memory:       make(map[types.SubjectID]*identityMemory),
		hints:        make(map[types.SubjectID][]string),
	}
}

// SetBootstrap overrides the fallback endpoint set.
func (r *Resolver) SetBootstrap(eps []types.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(eps) > 0 {
		r.bootstrap = cloneEndpoints(eps)
	}
}

// SetFetchTimeout bounds the per-relay timeout of list document fetches.
func (r *Resolver) SetFetchTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.fetchTimeout = d
	}
}

// ActiveIdentity returns the identity the local configuration belongs to.
func (r *Resolver) ActiveIdentity() types.SubjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Identity
}

// Local resolves the caller's own effective endpoint set.
func (r *Resolver) Local(ctx context.Context) []types.Endpoint {
	return r.Resolve(ctx, r.ActiveIdentity())
}

// Resolve returns the effective endpoint set for an identity. An empty
// identity (anonymous) always yields the bootstrap defaults without
// touching memory. The first resolution per identity fetches the latest
// published list document; once memoized, repeated calls are pure reads.
func (r *Resolver) Resolve(ctx context.Context, id types.SubjectID) []types.Endpoint {
	r.metrics.resolveOp()

	if id == "" {
		r.mu.Lock()
		defer r.mu.Unlock()
		return cloneEndpoints(r.bootstrap)
	}

	r.mu.Lock()
	if m, ok := r.memory[id]; ok && m.configured {
		out := r.effectiveLocked(id, m)
		r.mu.Unlock()
		return out
	}
	discovery := r.discoveryURLsLocked(id)
	r.mu.Unlock()

	published := r.fetchPublished(ctx, id, discovery)

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.memory[id]
	if !ok {
		m = &identityMemory{}
		r.memory[id] = m
	}
	if m.configured {
		// Another resolve won the configure transition; keep its result.
		return r.effectiveLocked(id, m)
	}

	baseline := published
	if len(baseline) == 0 && id == r.cfg.Identity && len(r.cfg.Endpoints) > 0 {
		// Nothing published: pre-existing local state is authoritative.
		baseline = cloneEndpoints(r.cfg.Endpoints)
	}
	if len(baseline) == 0 {
		baseline = cloneEndpoints(r.bootstrap)
	}

	m.baseline = cloneEndpoints(baseline)
	m.configured = true

	if id == r.cfg.Identity {
		r.cfg.Endpoints = cloneEndpoints(baseline)
		if err := r.persistLocked(); err != nil {
			r.logger.Warn("failed to persist endpoint set", zap.Error(err))
		}
	}

	r.logger.Debug("configured endpoint set",
		zap.String("identity", string(id)),
		zap.Int("endpoints", len(baseline)))

	return cloneEndpoints(baseline)
}

// ApplyPublished reconciles a newly observed published list with the
// current state for an already-resolved identity. A local strict superset
// of the published baseline is preserved (the user's manual additions are
// never shrunk away); an upstream rotation is adopted when the local set
// has not diverged independently.
func (r *Resolver) ApplyPublished(id types.SubjectID, published []types.Endpoint) []types.Endpoint {
	if id == "" || len(published) == 0 {
		return r.snapshot(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.memory[id]
	if !ok {
		m = &identityMemory{}
		r.memory[id] = m
	}
	if !m.configured {
		m.baseline = cloneEndpoints(published)
		m.configured = true
		if id == r.cfg.Identity {
			r.cfg.Endpoints = cloneEndpoints(published)
			if err := r.persistLocked(); err != nil {
				r.logger.Warn("failed to persist endpoint set", zap.Error(err))
			}
		}
		return cloneEndpoints(published)
	}

	if id != r.cfg.Identity {
		// No local configuration to preserve for other identities.
		m.baseline = cloneEndpoints(published)
		return cloneEndpoints(published)
	}

	local := r.cfg.Endpoints
	switch {
	case strictSuperset(local, published):
		m.baseline = cloneEndpoints(local)
	case !sameURLs(published, m.baseline) && sameURLs(local, m.baseline):
		m.baseline = cloneEndpoints(published)
		r.cfg.Endpoints = cloneEndpoints(published)
		if err := r.persistLocked(); err != nil {
			r.logger.Warn("failed to persist endpoint set", zap.Error(err))
		}
	default:
		// Local set diverged in some other way; keep it.
	}

	return cloneEndpoints(r.cfg.Endpoints)
}

// AddEndpoint inserts a URL into the local configured set and marks the
// active identity's memory as configured. State is unchanged on failure.
func (r *Resolver) AddEndpoint(rawURL string, read, write bool) error {
	u, err := types.NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	if !read && !write {
		read, write = true, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ep := range r.cfg.Endpoints {
		if ep.URL == u {
			return fmt.Errorf("endpoint %s: %w", u, ErrDuplicateEndpoint)
		}
	}

	r.cfg.Endpoints = append(r.cfg.Endpoints, types.Endpoint{URL: u, Read: read, Write: write})
	r.markConfiguredLocked()
	return r.persistLocked()
}

// RemoveEndpoint removes a URL from the configured set. Removing the last
// remaining endpoint fails; removing an absent URL is a no-op.
func (r *Resolver) RemoveEndpoint(rawURL string) error {
	u, err := types.NormalizeURL(rawURL)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, ep := range r.cfg.Endpoints {
		if ep.URL == u {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if len(r.cfg.Endpoints) == 1 {
		return fmt.Errorf("endpoint %s: %w", u, ErrLastEndpoint)
	}

	r.cfg.Endpoints = append(r.cfg.Endpoints[:idx], r.cfg.Endpoints[idx+1:]...)
	return r.persistLocked()
}

// TogglePermission flips the read or write axis on the matching entry.
// A flip that would leave the entry dead turns the other axis back on
// instead. Unknown URLs are a no-op.
func (r *Resolver) TogglePermission(rawURL, axis string) error {
	u, err := types.NormalizeURL(rawURL)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.cfg.Endpoints {
		if r.cfg.Endpoints[i].URL != u {
			continue
		}
		ep := &r.cfg.Endpoints[i]
		switch axis {
		case "read":
			ep.Read = !ep.Read
		case "write":
			ep.Write = !ep.Write
		default:
			return fmt.Errorf("unknown permission axis %q", axis)
		}
		if !ep.Read && !ep.Write {
			if axis == "read" {
				ep.Write = true
			} else {
				ep.Read = true
			}
		}
		return r.persistLocked()
	}
	return nil
}

// WriteEndpoints returns the write-designated subset of an author's
// effective set, falling back to bootstrap when the author publishes no
// writable relay.
func (r *Resolver) WriteEndpoints(ctx context.Context, author types.SubjectID) []types.Endpoint {
	eps := r.Resolve(ctx, author)
	var out []types.Endpoint
	for _, ep := range eps {
		if ep.Write {
			out = append(out, ep)
		}
	}
	if len(out) == 0 {
		r.mu.Lock()
		defer r.mu.Unlock()
		return cloneEndpoints(r.bootstrap)
	}
	return out
}

// PrivateEndpoints fetches and parses an identity's private-delivery relay
// list. It is resolved independently of the general list and never cached
// in resolution memory.
func (r *Resolver) PrivateEndpoints(ctx context.Context, id types.SubjectID) []types.Endpoint {
	if id == "" {
		return nil
	}
	r.mu.Lock()
	discovery := r.discoveryURLsLocked(id)
	r.mu.Unlock()

	latest := r.fetchLatest(ctx, id, types.KindPrivateRelayList, discovery)
	if latest == nil {
		return nil
	}
	eps, err := r.codec.ParsePrivateRelayList(*latest)
	if err != nil {
		r.logger.Warn("malformed private relay list",
			zap.String("identity", string(id)),
			zap.Error(err))
		return nil
	}
	return eps
}

// ObserveHints collects the relay hints embedded in a retrieved record's
// reference tags. They widen the next list document fetch for each hinted
// subject and are discarded once that fetch consumes them, never persisted.
func (r *Resolver) ObserveHints(rec types.Record) {
	extracted := ExtractHints(rec)
	if len(extracted) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, urls := range extracted {
		for _, u := range urls {
			if containsURL(r.hints[id], u) {
				continue
			}
			r.hints[id] = append(r.hints[id], u)
		}
	}
}

// ResetIdentity forgets the resolution memory for one identity.
func (r *Resolver) ResetIdentity(id types.SubjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.memory, id)
	delete(r.hints, id)
}

// Reset forgets all resolution memory. Invoked on logout or account switch.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory = make(map[types.SubjectID]*identityMemory)
	r.hints = make(map[types.SubjectID][]string)
}

// fetchPublished retrieves the newest published relay list for an identity
// and parses it. Malformed documents are logged and treated as absent so
// resolution falls through to the next precedence tier.
func (r *Resolver) fetchPublished(ctx context.Context, id types.SubjectID, targets []string) []types.Endpoint {
	latest := r.fetchLatest(ctx, id, types.KindRelayList, targets)
	if latest == nil {
		return nil
	}
	eps, err := r.codec.ParseRelayList(*latest)
	if err != nil {
		r.logger.Warn("malformed relay list document",
			zap.String("identity", string(id)),
			zap.Error(err))
		return nil
	}
	return eps
}

// fetchLatest asks each discovery target for the identity's list document
// of the given kind and keeps the one with the greatest timestamp. Failing
// targets reduce coverage, nothing more.
func (r *Resolver) fetchLatest(ctx context.Context, id types.SubjectID, kind int, targets []string) *types.Record {
	if r.transport == nil {
		return nil
	}

	filter := types.Filter{
		Kinds:   []int{kind},
		Authors: []types.SubjectID{id},
		Limit:   1,
	}

	var latest *types.Record
	for _, u := range targets {
		qctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
		recs, err := r.transport.Query(qctx, filter, u)
		cancel()
		if err != nil {
			r.logger.Debug("list document fetch failed",
				zap.String("relay", u),
				zap.Error(err))
			continue
		}
		for i := range recs {
			rec := recs[i]
			if rec.Author != id || rec.Kind != kind {
				continue
			}
			if latest == nil || rec.CreatedAt > latest.CreatedAt {
				latest = &rec
			}
		}
	}
	return latest
}

// discoveryURLsLocked returns where to look for an identity's list
// documents: the local read-capable endpoints, widened by the bootstrap
// defaults and by any observed hints for that identity. Hints are consumed
// by the discovery they widen.
func (r *Resolver) discoveryURLsLocked(id types.SubjectID) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	for _, ep := range r.cfg.Endpoints {
		if ep.Read {
			add(ep.URL)
		}
	}
	for _, ep := range r.bootstrap {
		add(ep.URL)
	}
	for _, u := range r.hints[id] {
		add(u)
	}
	delete(r.hints, id)
	return out
}

func (r *Resolver) effectiveLocked(id types.SubjectID, m *identityMemory) []types.Endpoint {
	if id == r.cfg.Identity && len(r.cfg.Endpoints) > 0 {
		return cloneEndpoints(r.cfg.Endpoints)
	}
	return cloneEndpoints(m.baseline)
}

func (r *Resolver) snapshot(id types.SubjectID) []types.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == r.cfg.Identity && len(r.cfg.Endpoints) > 0 {
		return cloneEndpoints(r.cfg.Endpoints)
	}
	if m, ok := r.memory[id]; ok && m.configured {
		return cloneEndpoints(m.baseline)
	}
	return cloneEndpoints(r.bootstrap)
}

func (r *Resolver) markConfiguredLocked() {
	id := r.cfg.Identity
	if id == "" {
		return
	}
	m, ok := r.memory[id]
	if !ok {
		m = &identityMemory{}
		r.memory[id] = m
	}
	if !m.configured {
		m.configured = true
		m.baseline = cloneEndpoints(r.cfg.Endpoints)
	}
}

func (r *Resolver) persistLocked() error {
	if r.kv == nil {
		return nil
	}
	if err := r.cfg.Save(context.Background(), r.kv); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

func cloneEndpoints(eps []types.Endpoint) []types.Endpoint {
	out := make([]types.Endpoint, len(eps))
	copy(out, eps)
	return out
}

func urlSet(eps []types.Endpoint) map[string]struct{} {
	set := make(map[string]struct{}, len(eps))
	for _, ep := range eps {
		set[ep.URL] = struct{}{}
	}
	return set
}

// sameURLs compares two endpoint sets by URL, ignoring order and axes.
func sameURLs(a, b []types.Endpoint) bool {
	as, bs := urlSet(a), urlSet(b)
	if len(as) != len(bs) {
		return false
	}
	for u := range as {
		if _, ok := bs[u]; !ok {
			return false
		}
	}
	return true
}

// strictSuperset reports whether a contains every URL of b plus at least
// one more.
func strictSuperset(a, b []types.Endpoint) bool {
	as, bs := urlSet(a), urlSet(b)
	if len(as) <= len(bs) {
		return false
	}
	for u := range bs {
		if _, ok := as[u]; !ok {
			return false
		}
	}
	return true
}
