package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"pomconv/internal/config"
	"pomconv/internal/model"
	"pomconv/pkg/logger"
)

// defaultHosts follow the configured alternates when no base URL is set.
var defaultHosts = []string{"localhost", "host.docker.internal"}

// Resolver finds a live backend among the candidate addresses and remembers
// the first one that answers for the rest of the process.
type Resolver struct {
	explicit     string
	alternates   []string
	defaults     []string
	scheme       string
	port         int
	apiKey       string
	probeTimeout time.Duration
	http         *http.Client
	// discoverIP returns this host's outbound address; nil disables discovery.
	discoverIP func() (string, error)

	resolved atomic.Pointer[model.Endpoint]
}

// NewResolver validates the candidate configuration. Malformed entries are
// configuration errors.
func NewResolver(cfg config.BackendConfig, client *http.Client) (*Resolver, error) {
	r := &Resolver{
		scheme:       cfg.Scheme,
		port:         cfg.DefaultPort,
		apiKey:       cfg.APIKey,
		probeTimeout: cfg.ProbeTimeout,
		http:         client,
	}
	if r.scheme == "" {
		r.scheme = "http"
	}
	if r.probeTimeout <= 0 {
		r.probeTimeout = 3 * time.Second
	}
	if r.http == nil {
		r.http = http.DefaultClient
	}

	if strings.TrimSpace(cfg.BaseURL) != "" {
		base, err := normalizeBaseURL(cfg.BaseURL)
		if err != nil {
			return nil, &model.Error{Kind: model.KindConfiguration, Op: "backend.base_url", Err: err}
		}
		r.explicit = base
		return r, nil
	}

	for _, host := range cfg.AlternateHosts {
		base, err := normalizeHost(host, r.scheme, r.port)
		if err != nil {
			return nil, &model.Error{Kind: model.KindConfiguration, Op: "backend.alternate_hosts", Err: err}
		}
		r.alternates = append(r.alternates, base)
	}
	r.defaults = defaultHosts
	if cfg.DiscoverOutboundIP {
		r.discoverIP = outboundIP
	}
	return r, nil
}

// Candidates returns the probe order. An explicit base URL is the only
// candidate; otherwise alternates, the default hosts and the outbound IP,
// with duplicates removed.
func (r *Resolver) Candidates() []string {
	if r.explicit != "" {
		return []string{r.explicit}
	}
	seen := make(map[string]struct{})
	out := make([]string, 0, len(r.alternates)+len(r.defaults)+1)
	add := func(base string) {
		if _, ok := seen[base]; ok {
			return
		}
		seen[base] = struct{}{}
		out = append(out, base)
	}
	for _, base := range r.alternates {
		add(base)
	}
	for _, host := range r.defaults {
		if base, err := normalizeHost(host, r.scheme, r.port); err == nil {
			add(base)
		}
	}
	if r.discoverIP != nil {
		if ip, err := r.discoverIP(); err == nil && ip != "" {
			if base, err := normalizeHost(ip, r.scheme, r.port); err == nil {
				add(base)
			}
		} else if err != nil {
			logger.Debugf("outbound IP discovery skipped: %v", err)
		}
	}
	return out
}

// Resolve returns the memoized endpoint, probing candidates in order on first
// use. Failures are not cached; concurrent first calls may probe twice but
// only one result is stored.
func (r *Resolver) Resolve(ctx context.Context) (model.Endpoint, error) {
	if ep := r.resolved.Load(); ep != nil {
		return *ep, nil
	}

	candidates := r.Candidates()
	failures := make([]string, 0, len(candidates))
	for _, base := range candidates {
		if err := r.probe(ctx, base); err != nil {
			logger.Debugf("backend candidate %s not live: %v", base, err)
			failures = append(failures, fmt.Sprintf("%s (%v)", base, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		ep := &model.Endpoint{BaseURL: base}
		if r.resolved.CompareAndSwap(nil, ep) {
			logger.Infof("backend resolved to %s", base)
		}
		return *r.resolved.Load(), nil
	}
	return model.Endpoint{}, &model.Error{
		Kind:       model.KindConnectivity,
		Op:         "resolve",
		Candidates: failures,
		Err:        fmt.Errorf("no live backend among %d candidate(s)", len(candidates)),
	}
}

// Resolved reports the memoized endpoint without probing.
func (r *Resolver) Resolved() (model.Endpoint, bool) {
	if ep := r.resolved.Load(); ep != nil {
		return *ep, true
	}
	return model.Endpoint{}, false
}

type modelsListing struct {
	Data json.RawMessage `json:"data"`
}

func (r *Resolver) probe(ctx context.Context, base string) error {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	ep := model.Endpoint{BaseURL: base}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.ModelsURL(), nil)
	if err != nil {
		return err
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %s", resp.Status)
	}
	var listing modelsListing
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&listing); err != nil {
		return fmt.Errorf("decode models listing: %w", err)
	}
	if len(listing.Data) == 0 || string(listing.Data) == "null" {
		return fmt.Errorf("models listing has no data field")
	}
	return nil
}

// normalizeBaseURL keeps scheme, host and any path prefix of an explicit base
// URL, dropping a trailing "/v1" since request paths add it.
func normalizeBaseURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%q has no host", raw)
	}
	path := strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/v1")
	return u.Scheme + "://" + u.Host + path, nil
}

// normalizeHost turns "host", "host:port" or "scheme://host[:port]" into a
// base URL, filling in the default scheme and port.
func normalizeHost(raw, scheme string, port int) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty host")
	}
	if !strings.Contains(s, "://") {
		s = scheme + "://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse host %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("host %q has no hostname", raw)
	}
	host := u.Host
	if u.Port() == "" && port > 0 {
		host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	}
	return u.Scheme + "://" + host, nil
}

// outboundIP reports the local address used for outbound traffic. Dialing UDP
// sends no packets.
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	if addr.IP.To4() == nil {
		return "[" + addr.IP.String() + "]", nil
	}
	return addr.IP.String(), nil
}
