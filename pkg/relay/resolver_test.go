package relay

import (
	"context"
	"fmt"
	"testing"

	"relaymesh/pkg/config"
	"relaymesh/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testBootstrap = []types.Endpoint{
	{URL: "wss://boot1.example", Read: true, Write: true},
	{URL: "wss://boot2.example", Read: true, Write: true},
}

func newTestResolver(t *testing.T, tr *fakeTransport, cfg *config.Config) *Resolver {
	t.Helper()
	if cfg == nil {
		cfg = config.New()
	}
	r := NewResolver(cfg, nil, tr, zap.NewNop(), nil)
	r.SetBootstrap(testBootstrap)
	return r
}

func urls(eps []types.Endpoint) []string {
	out := make([]string, 0, len(eps))
	for _, ep := range eps {
		out = append(out, ep.URL)
	}
	return out
}

func TestResolveAnonymousReturnsBootstrap(t *testing.T) {
	r := newTestResolver(t, newFakeTransport(), nil)

	eps := r.Resolve(context.Background(), "")

	require.NotEmpty(t, eps)
	assert.Equal(t, urls(testBootstrap), urls(eps))
}

func TestResolveAdoptsPublishedList(t *testing.T) {
	tr := newFakeTransport()
	tr.records["wss://boot1.example"] = []types.Record{
		relayListRecord("bob", 100,
			[]string{"r", "wss://bob1.example"},
			[]string{"r", "wss://bob2.example", "read"},
		),
	}

	r := newTestResolver(t, tr, nil)
	eps := r.Resolve(context.Background(), "bob")

	require.Len(t, eps, 2)
	assert.Equal(t, "wss://bob1.example", eps[0].URL)
	assert.True(t, eps[0].Write)
	assert.Equal(t, "wss://bob2.example", eps[1].URL)
	assert.False(t, eps[1].Write)
}

func TestResolveWidensDiscoveryWithObservedHints(t *testing.T) {
	tr := newFakeTransport()
	// bob's relay list is only held by a relay neither the local set nor
	// the bootstrap defaults know about.
	tr.records["wss://hinted.example"] = []types.Record{
		relayListRecord("bob", 100, []string{"r", "wss://bob1.example"}),
	}

	r := newTestResolver(t, tr, nil)
	r.ObserveHints(types.Record{
		ID:     "note-1",
		Author: "carol",
		Kind:   1,
		Tags:   [][]string{{"p", "bob", "wss://hinted.example"}},
	})

	eps := r.Resolve(context.Background(), "bob")
	require.Len(t, eps, 1)
	assert.Equal(t, "wss://bob1.example", eps[0].URL)
	assert.Equal(t, 1, tr.callsTo("wss://hinted.example"))

	// A hint only widens the discovery that consumed it.
	r.ResetIdentity("bob")
	eps = r.Resolve(context.Background(), "bob")
	assert.Equal(t, urls(testBootstrap), urls(eps))
	assert.Equal(t, 1, tr.callsTo("wss://hinted.example"))
}

func TestResolveKeepsNewestPublishedDocument(t *testing.T) {
	tr := newFakeTransport()
	tr.records["wss://boot1.example"] = []types.Record{
		relayListRecord("bob", 100, []string{"r", "wss://old.example"}),
	}
	tr.records["wss://boot2.example"] = []types.Record{
		relayListRecord("bob", 200, []string{"r", "wss://new.example"}),
	}

	r := newTestResolver(t, tr, nil)
	eps := r.Resolve(context.Background(), "bob")

	require.Len(t, eps, 1)
	assert.Equal(t, "wss://new.example", eps[0].URL)
}

func TestResolveIsIdempotentAndMemoized(t *testing.T) {
	tr := newFakeTransport()
	tr.records["wss://boot1.example"] = []types.Record{
		relayListRecord("bob", 100, []string{"r", "wss://bob1.example"}),
	}

	r := newTestResolver(t, tr, nil)
	ctx := context.Background()

	first := r.Resolve(ctx, "bob")
	fetches := tr.callCount()
	second := r.Resolve(ctx, "bob")

	assert.Equal(t, first, second)
	assert.Equal(t, fetches, tr.callCount(), "memoized resolve must not fetch again")
}

func TestResolveFallsBackToLocalConfig(t *testing.T) {
	cfg := config.New()
	cfg.Identity = "alice"
	cfg.Endpoints = []types.Endpoint{
		{URL: "wss://mine.example", Read: true, Write: true},
	}

	r := newTestResolver(t, newFakeTransport(), cfg)
	eps := r.Resolve(context.Background(), "alice")

	require.Len(t, eps, 1)
	assert.Equal(t, "wss://mine.example", eps[0].URL)
}

func TestResolveFallsBackToBootstrap(t *testing.T) {
	cfg := config.New()
	cfg.Identity = "alice"

	r := newTestResolver(t, newFakeTransport(), cfg)
	eps := r.Resolve(context.Background(), "alice")

	assert.Equal(t, urls(testBootstrap), urls(eps))
}

func TestResolveUnusablePublishedListFallsThrough(t *testing.T) {
	cfg := config.New()
	cfg.Identity = "alice"
	cfg.Endpoints = []types.Endpoint{
		{URL: "wss://mine.example", Read: true, Write: true},
	}

	tr := newFakeTransport()
	// A published document whose every entry is garbage parses to nothing;
	// resolution must fall through to the local configuration.
	tr.records["wss://boot1.example"] = []types.Record{
		relayListRecord("alice", 100, []string{"r", "::not a url::"}),
	}

	r := newTestResolver(t, tr, cfg)
	eps := r.Resolve(context.Background(), "alice")

	require.Len(t, eps, 1)
	assert.Equal(t, "wss://mine.example", eps[0].URL)
}

func TestAddRemoveRestoresSet(t *testing.T) {
	cfg := config.New()
	cfg.Identity = "alice"
	cfg.Endpoints = []types.Endpoint{
		{URL: "wss://a.example", Read: true, Write: true},
	}

	r := newTestResolver(t, newFakeTransport(), cfg)
	before := cloneEndpoints(cfg.Endpoints)

	require.NoError(t, r.AddEndpoint("wss://b.example", true, true))
	require.NoError(t, r.RemoveEndpoint("wss://b.example"))

	assert.Equal(t, before, cfg.Endpoints)
}

func TestAddDuplicateFails(t *testing.T) {
	cfg := config.New()
	cfg.Identity = "alice"
	cfg.Endpoints = []types.Endpoint{
		{URL: "wss://a.example", Read: true, Write: true},
	}

	r := newTestResolver(t, newFakeTransport(), cfg)
	err := r.AddEndpoint("a.example", true, true)

	require.ErrorIs(t, err, ErrDuplicateEndpoint)
	assert.Len(t, cfg.Endpoints, 1)
}

func TestRemoveLastEndpointFails(t *testing.T) {
	cfg := config.New()
	cfg.Identity = "alice"
	cfg.Endpoints = []types.Endpoint{
		{URL: "wss://only.example", Read: true, Write: true},
	}

	r := newTestResolver(t, newFakeTransport(), cfg)
	err := r.RemoveEndpoint("wss://only.example")

	require.ErrorIs(t, err, ErrLastEndpoint)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, "wss://only.example", cfg.Endpoints[0].URL)
}

func TestTogglePermission(t *testing.T) {
	cfg := config.New()
	cfg.Identity = "alice"
	cfg.Endpoints = []types.Endpoint{
		{URL: "wss://a.example", Read: true, Write: true},
	}

	r := newTestResolver(t, newFakeTransport(), cfg)

	require.NoError(t, r.TogglePermission("wss://a.example", "write"))
	assert.False(t, cfg.Endpoints[0].Write)
	assert.True(t, cfg.Endpoints[0].Read)

	// Flipping read off too would leave a dead entry; write comes back on.
	require.NoError(t, r.TogglePermission("wss://a.example", "read"))
	assert.False(t, cfg.Endpoints[0].Read)
	assert.True(t, cfg.Endpoints[0].Write)

	// Unknown URL is a no-op.
	require.NoError(t, r.TogglePermission("wss://absent.example", "read"))

	err := r.TogglePermission("wss://a.example", "sideways")
	assert.Error(t, err)
}

func TestSupersetPreserved(t *testing.T) {
	tr := newFakeTransport()
	tr.records["wss://boot1.example"] = []types.Record{
		relayListRecord("alice", 100,
			[]string{"r", "wss://a.example"},
			[]string{"r", "wss://b.example"},
		),
	}

	cfg := config.New()
	cfg.Identity = "alice"
	r := newTestResolver(t, tr, cfg)
	ctx := context.Background()

	eps := r.Resolve(ctx, "alice")
	require.Equal(t, []string{"wss://a.example", "wss://b.example"}, urls(eps))

	// Manual addition beyond the published baseline.
	require.NoError(t, r.AddEndpoint("wss://c.example", true, true))

	published := []types.Endpoint{
		{URL: "wss://a.example", Read: true, Write: true},
		{URL: "wss://b.example", Read: true, Write: true},
	}
	after := r.ApplyPublished("alice", published)
	assert.Contains(t, urls(after), "wss://c.example")

	// A second observation of the same published list must not shrink the
	// set either.
	again := r.ApplyPublished("alice", published)
	assert.Contains(t, urls(again), "wss://c.example")
	assert.Contains(t, urls(r.Resolve(ctx, "alice")), "wss://c.example")
}

func TestUpstreamRotationAdopted(t *testing.T) {
	tr := newFakeTransport()
	tr.records["wss://boot1.example"] = []types.Record{
		relayListRecord("alice", 100,
			[]string{"r", "wss://a.example"},
			[]string{"r", "wss://b.example"},
		),
	}

	cfg := config.New()
	cfg.Identity = "alice"
	r := newTestResolver(t, tr, cfg)
	r.Resolve(context.Background(), "alice")

	rotated := []types.Endpoint{
		{URL: "wss://c.example", Read: true, Write: true},
		{URL: "wss://d.example", Read: true, Write: true},
	}
	after := r.ApplyPublished("alice", rotated)

	assert.Equal(t, []string{"wss://c.example", "wss://d.example"}, urls(after))
}

func TestResetIdentityForgetsMemory(t *testing.T) {
	tr := newFakeTransport()
	tr.records["wss://boot1.example"] = []types.Record{
		relayListRecord("bob", 100, []string{"r", "wss://bob1.example"}),
	}

	r := newTestResolver(t, tr, nil)
	ctx := context.Background()

	r.Resolve(ctx, "bob")
	fetches := tr.callCount()

	r.ResetIdentity("bob")
	r.Resolve(ctx, "bob")

	assert.Greater(t, tr.callCount(), fetches, "reset must allow a re-fetch")
}

func TestWriteEndpointsSubset(t *testing.T) {
	tr := newFakeTransport()
	tr.records["wss://boot1.example"] = []types.Record{
		relayListRecord("x", 100,
			[]string{"r", "wss://w.example", "write"},
			[]string{"r", "wss://rw.example"},
			[]string{"r", "wss://r.example", "read"},
		),
	}

	r := newTestResolver(t, tr, nil)
	ws := r.WriteEndpoints(context.Background(), "x")

	assert.Equal(t, []string{"wss://w.example", "wss://rw.example"}, urls(ws))
}

func TestWriteEndpointsBootstrapFallback(t *testing.T) {
	tr := newFakeTransport()
	tr.records["wss://boot1.example"] = []types.Record{
		relayListRecord("x", 100, []string{"r", "wss://r.example", "read"}),
	}

	r := newTestResolver(t, tr, nil)
	ws := r.WriteEndpoints(context.Background(), "x")

	assert.Equal(t, urls(testBootstrap), urls(ws))
}

func TestPrivateEndpointsResolvedIndependently(t *testing.T) {
	tr := newFakeTransport()
	tr.records["wss://boot1.example"] = []types.Record{
		relayListRecord("x", 100, []string{"r", "wss://public.example"}),
		{
			ID:        "private-x",
			Author:    "x",
			Kind:      types.KindPrivateRelayList,
			CreatedAt: 100,
			Tags:      [][]string{{"r", "wss://private.example"}},
		},
	}

	r := newTestResolver(t, tr, nil)
	ctx := context.Background()

	private := r.PrivateEndpoints(ctx, "x")
	require.Len(t, private, 1)
	assert.Equal(t, "wss://private.example", private[0].URL)

	public := r.Resolve(ctx, "x")
	assert.Equal(t, []string{"wss://public.example"}, urls(public))
}

func TestConcurrentResolveConverges(t *testing.T) {
	tr := newFakeTransport()
	tr.records["wss://boot1.example"] = []types.Record{
		relayListRecord("bob", 100, []string{"r", "wss://bob1.example"}),
	}

	r := newTestResolver(t, tr, nil)
	ctx := context.Background()

	results := make(chan []types.Endpoint, 8)
	for i := 0; i < 8; i++ {
		go func() {
			results <- r.Resolve(ctx, "bob")
		}()
	}

	want := []string{"wss://bob1.example"}
	for i := 0; i < 8; i++ {
		assert.Equal(t, want, urls(<-results))
	}
}

func TestResolveErrorsReduceCoverageOnly(t *testing.T) {
	tr := newFakeTransport()
	tr.errs["wss://boot1.example"] = fmt.Errorf("connection refused")
	tr.records["wss://boot2.example"] = []types.Record{
		relayListRecord("bob", 100, []string{"r", "wss://bob1.example"}),
	}

	r := newTestResolver(t, tr, nil)
	eps := r.Resolve(context.Background(), "bob")

	assert.Equal(t, []string{"wss://bob1.example"}, urls(eps))
}
