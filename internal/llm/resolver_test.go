package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pomconv/internal/config"
	"pomconv/internal/model"
)

func modelsServer(t *testing.T, live bool, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if !live {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"local-model"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testResolver(t *testing.T, cfg config.BackendConfig) *Resolver {
	t.Helper()
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = time.Second
	}
	r, err := NewResolver(cfg, nil)
	require.NoError(t, err)
	r.defaults = nil
	r.discoverIP = nil
	return r
}

func TestResolverPicksFirstLiveCandidate(t *testing.T) {
	var hitsA, hitsB, hitsC int32
	a := modelsServer(t, false, &hitsA)
	b := modelsServer(t, true, &hitsB)
	c := modelsServer(t, true, &hitsC)

	r := testResolver(t, config.BackendConfig{AlternateHosts: []string{a.URL, b.URL, c.URL}})

	ep, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b.URL, ep.BaseURL)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hitsA))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hitsB))
	assert.Zero(t, atomic.LoadInt32(&hitsC))

	// memoized: no further probes
	again, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ep, again)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hitsB))

	got, ok := r.Resolved()
	assert.True(t, ok)
	assert.Equal(t, b.URL, got.BaseURL)
}

func TestResolverExplicitBaseURLOnly(t *testing.T) {
	var hitsLive, hitsOther int32
	live := modelsServer(t, true, &hitsLive)
	other := modelsServer(t, true, &hitsOther)

	r := testResolver(t, config.BackendConfig{
		BaseURL:        live.URL + "/v1/",
		AlternateHosts: []string{other.URL},
	})
	assert.Equal(t, []string{live.URL}, r.Candidates())

	ep, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, live.URL, ep.BaseURL)
	assert.Zero(t, atomic.LoadInt32(&hitsOther))
}

func TestResolverConnectivityError(t *testing.T) {
	var hits int32
	dead := modelsServer(t, false, &hits)

	r := testResolver(t, config.BackendConfig{AlternateHosts: []string{dead.URL, "127.0.0.1:1"}})

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.KindConnectivity, model.KindOf(err))

	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Candidates, 2)
	assert.True(t, strings.HasPrefix(merr.Candidates[0], dead.URL))
	assert.True(t, strings.HasPrefix(merr.Candidates[1], "http://127.0.0.1:1"))

	_, ok := r.Resolved()
	assert.False(t, ok)
}

func TestResolverRejectsMalformedHosts(t *testing.T) {
	_, err := NewResolver(config.BackendConfig{AlternateHosts: []string{"http://"}}, nil)
	require.Error(t, err)
	assert.Equal(t, model.KindConfiguration, model.KindOf(err))

	_, err = NewResolver(config.BackendConfig{BaseURL: "http://%zz"}, nil)
	require.Error(t, err)
	assert.Equal(t, model.KindConfiguration, model.KindOf(err))
}

func TestCandidatesOrderAndDedup(t *testing.T) {
	r, err := NewResolver(config.BackendConfig{
		AlternateHosts: []string{"gpu-box", "localhost:1234"},
		Scheme:         "http",
		DefaultPort:    1234,
	}, nil)
	require.NoError(t, err)
	r.discoverIP = func() (string, error) { return "10.0.0.7", nil }

	assert.Equal(t, []string{
		"http://gpu-box:1234",
		"http://localhost:1234",
		"http://host.docker.internal:1234",
		"http://10.0.0.7:1234",
	}, r.Candidates())
}

func TestProbeRequiresDataField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"object":"list"}`))
	}))
	defer srv.Close()

	r := testResolver(t, config.BackendConfig{AlternateHosts: []string{srv.URL}, APIKey: "sk-test"})
	_, err := r.Resolve(context.Background())
	assert.Equal(t, model.KindConnectivity, model.KindOf(err))
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: time.Second, Factor: 2, Max: 10 * time.Second}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 8*time.Second, b.Delay(3))
	assert.Equal(t, 10*time.Second, b.Delay(4))
	assert.Equal(t, 10*time.Second, b.Delay(20))

	rl := Backoff{Initial: time.Second, Factor: 1.7, Max: 15 * time.Second}
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := rl.Delay(i)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 15*time.Second)
		prev = d
	}
}

func TestResolverConcurrentFirstCalls(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(srv.Close)

	r := testResolver(t, config.BackendConfig{AlternateHosts: []string{srv.URL}})

	const callers = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]model.Endpoint, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = r.Resolve(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, srv.URL, results[i].BaseURL)
	}

	stored, ok := r.Resolved()
	require.True(t, ok)
	assert.Equal(t, srv.URL, stored.BaseURL)

	probes := atomic.LoadInt32(&hits)
	assert.LessOrEqual(t, probes, int32(callers))

	again, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stored, again)
	assert.Equal(t, probes, atomic.LoadInt32(&hits), "resolved endpoint is not probed again")
}
