// Package bastion runs a reverse proxy service that lets an un-addressable
// witness (for example one running behind a firewall or a NAT, or where the
// operator doesn't wish to take the DoS risk of being reachable from the
// Internet) accept HTTP requests on a caller-chosen subset of its routes.
//
// Backends are identified by an Ed25519 public key, they authenticate with a
// self-signed TLS 1.3 certificate, and are reachable at a sub-path prefixed by
// the key hash. Unlike a generic reverse proxy, a Bastion can be configured
// with the exact set of backend paths a witness exposes (cmd/fuelbastion
// uses just "/add-checkpoint"), so a backend's public key being accepted
// doesn't also expose every other route it happens to serve on the same mux.
// With no paths configured, every path is forwarded.
package bastion

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/http2"
)

// Config provides parameters for a new Bastion.
type Config struct {
	// GetCertificate returns the certificate for bastion backend connections.
	GetCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error)

	// AllowedBackend returns whether the backend is allowed to
	// serve requests. It's passed the hash of its Ed25519 public key.
	//
	// AllowedBackend may be called concurrently.
	AllowedBackend func(keyHash [sha256.Size]byte) bool

	// AllowedPaths restricts which backend sub-paths may be reached through
	// the bastion, e.g. []string{"/add-checkpoint"} for a fuelwitness
	// backend. A request for any other path is rejected with 404 before it
	// is ever forwarded. A nil or empty slice allows every path, matching a
	// plain reverse proxy.
	AllowedPaths []string

	// Metrics records connection and request counts. A nil Metrics records
	// nothing.
	Metrics *Metrics

	// Log is used to log backend connections states (as INFO) and errors in
	// forwarding requests (as DEBUG). If nil, [slog.Default] is used.
	Log *slog.Logger
}

func (c *Config) pathAllowed(path string) bool {
	if len(c.AllowedPaths) == 0 {
		return true
	}
	for _, p := range c.AllowedPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Metrics instruments a Bastion's connection and proxying activity. A nil
// *Metrics is valid and records nothing, matching the nil-safe
// instrumentation idiom used by smt.Metrics.
type Metrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	requestsForwarded   prometheus.Counter
	requestsRejected    prometheus.Counter
	forwardErrors       prometheus.Counter
}

// NewMetrics registers a Metrics set on reg under the "fuel_bastion"
// namespace. Pass prometheus.DefaultRegisterer to publish on the default
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_bastion",
			Name:      "backend_connections_accepted_total",
			Help:      "Number of backend HTTP/2 connections accepted.",
		}),
		connectionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_bastion",
			Name:      "backend_connections_closed_total",
			Help:      "Number of backend HTTP/2 connections that closed.",
		}),
		requestsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_bastion",
			Name:      "requests_forwarded_total",
			Help:      "Number of requests forwarded to a backend.",
		}),
		requestsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_bastion",
			Name:      "requests_rejected_total",
			Help:      "Number of requests rejected before forwarding (malformed or disallowed path).",
		}),
		forwardErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_bastion",
			Name:      "forward_errors_total",
			Help:      "Number of requests that failed in transit to a backend.",
		}),
	}
}

// A Bastion keeps track of backend connections, and serves HTTP requests by
// routing them to the matching backend.
type Bastion struct {
	c     *Config
	proxy *httputil.ReverseProxy
	pool  *backendConnectionsPool
}

type keyHash [sha256.Size]byte

func (kh keyHash) String() string {
	return hex.EncodeToString(kh[:])
}

// New returns a new Bastion.
//
// The Config must not be modified after the call to New.
func New(c *Config) (*Bastion, error) {
	b := &Bastion{c: c}
	b.pool = &backendConnectionsPool{
		log:     slog.Default(),
		conns:   make(map[keyHash]*http2.ClientConn),
		metrics: c.Metrics,
	}
	if c.Log != nil {
		b.pool.log = c.Log
	}
	b.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = "https" // needed for the required :scheme header
			pr.Out.Host = pr.In.Context().Value("backend").(string)
			pr.SetXForwarded()
			// We don't interpret the query, so pass it on unmodified.
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
		},
		Transport: b.pool,
		ErrorLog:  slog.NewLogLogger(b.pool.log.Handler(), slog.LevelDebug),
	}
	return b, nil
}

// ConfigureServer sets up srv to handle backend connections to the bastion. It
// wraps TLSConfig.GetConfigForClient to intercept backend connections, and sets
// TLSNextProto for the bastion ALPN protocol. The original tls.Config is still
// used for non-bastion backend connections.
//
// Note that since TLSNextProto won't be nil after a call to ConfigureServer,
// the caller might want to call [http2.ConfigureServer] as well.
func (b *Bastion) ConfigureServer(srv *http.Server) error {
	if srv.TLSNextProto == nil {
		srv.TLSNextProto = make(map[string]func(*http.Server, *tls.Conn, http.Handler))
	}
	srv.TLSNextProto["bastion/0"] = b.pool.handleBackend

	bastionTLSConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: []string{"bastion/0"},
		ClientAuth: tls.RequireAnyClientCert,
		VerifyConnection: func(cs tls.ConnectionState) error {
			h, err := backendHash(cs)
			if err != nil {
				return err
			}
			if !b.c.AllowedBackend(h) {
				return fmt.Errorf("unrecognized backend %x", h)
			}
			return nil
		},
		GetCertificate: b.c.GetCertificate,
	}

	if srv.TLSConfig == nil {
		srv.TLSConfig = &tls.Config{}
	}
	oldGetConfigForClient := srv.TLSConfig.GetConfigForClient
	srv.TLSConfig.GetConfigForClient = func(chi *tls.ClientHelloInfo) (*tls.Config, error) {
		for _, proto := range chi.SupportedProtos {
			if proto == "bastion/0" {
				// This is a bastion connection from a backend.
				return bastionTLSConfig, nil
			}
		}
		if oldGetConfigForClient != nil {
			return oldGetConfigForClient(chi)
		}
		return nil, nil
	}

	return nil
}

func backendHash(cs tls.ConnectionState) (keyHash, error) {
	pk, ok := cs.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return keyHash{}, errors.New("self-signed certificate key type is not Ed25519")
	}
	return sha256.Sum256(pk), nil
}

// ServeHTTP serves requests rooted at "/<hex key hash>/<path>" by routing
// them to the backend that authenticated with that key, provided <path> is
// one of Config.AllowedPaths (any path, if that list is empty). Requests not
// of that form, or for a path not allowed, are served a 404 Not Found
// status; a key hash with no connected backend fails in the proxy
// transport instead.
func (b *Bastion) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if !strings.HasPrefix(path, "/") {
		b.reject(w, "request must start with /KEY_HASH/")
		return
	}
	path = path[1:]
	kh, path, ok := strings.Cut(path, "/")
	if !ok {
		b.reject(w, "request must start with /KEY_HASH/")
		return
	}
	path = "/" + path
	if !b.c.pathAllowed(path) {
		b.reject(w, "path not exposed through this bastion")
		return
	}
	if b.c.Metrics != nil {
		b.c.Metrics.requestsForwarded.Inc()
	}
	ctx := context.WithValue(r.Context(), "backend", kh)
	r = r.Clone(ctx)
	r.URL.Path = path
	b.proxy.ServeHTTP(w, r)
}

func (b *Bastion) reject(w http.ResponseWriter, msg string) {
	if b.c.Metrics != nil {
		b.c.Metrics.requestsRejected.Inc()
	}
	http.Error(w, msg, http.StatusNotFound)
}

// FlushBackendConnections closes all for backends that don't pass
// [Config.AllowedBackend] anymore.
//
// ctx is passed to [http2.ClientConn.Shutdown], and FlushBackendConnections
// waits for all connections to be closed.
func (b *Bastion) FlushBackendConnections(ctx context.Context) {
	wg := sync.WaitGroup{}
	defer wg.Wait()
	b.pool.Lock()
	defer b.pool.Unlock()
	for kh, cc := range b.pool.conns {
		if !b.c.AllowedBackend(kh) {
			wg.Add(1)
			go func() {
				if err := cc.Shutdown(ctx); err != nil {
					cc.Close()
				}
				wg.Done()
			}()
			delete(b.pool.conns, kh)
		}
	}
}

type backendConnectionsPool struct {
	log *slog.Logger
	sync.RWMutex
	conns   map[keyHash]*http2.ClientConn
	metrics *Metrics
}

func (p *backendConnectionsPool) RoundTrip(r *http.Request) (*http.Response, error) {
	kh, err := hex.DecodeString(r.Host)
	if err != nil || len(kh) != sha256.Size {
		// TODO: return this as a response instead.
		return nil, errors.New("invalid backend key hash")
	}
	p.RLock()
	cc, ok := p.conns[keyHash(kh)]
	p.RUnlock()
	if !ok {
		// TODO: return this as a response instead.
		return nil, errors.New("backend unavailable")
	}
	rsp, err := cc.RoundTrip(r)
	if err != nil {
		if p.metrics != nil {
			p.metrics.forwardErrors.Inc()
		}
		// Disconnect and forget this backend.
		p.Lock()
		if p.conns[keyHash(kh)] == cc {
			delete(p.conns, keyHash(kh))
		}
		p.Unlock()
		if !cc.State().Closed {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				defer cancel()
				cc.Shutdown(ctx)
			}()
		}
	}
	return rsp, err
}

func (p *backendConnectionsPool) handleBackend(hs *http.Server, c *tls.Conn, h http.Handler) {
	backend, err := backendHash(c.ConnectionState())
	if err != nil {
		p.log.Info("failed to get backend hash", "err", err)
		return
	}
	l := p.log.With("backend", backend, "remote", c.RemoteAddr())
	t := &http2.Transport{
		// Send a PING every 15s, with the default 15s timeout.
		ReadIdleTimeout: 15 * time.Second,
		CountError: func(errType string) {
			l.Info("HTTP/2 transport error", "type", errType)
		},
	}
	cc, err := t.NewClientConn(c)
	if err != nil {
		l.Info("failed to convert to HTTP/2 client connection", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cc.Ping(ctx); err != nil {
		l.Info("did not respond to PING", "err", err)
		return
	}

	p.Lock()
	if oldCC, ok := p.conns[backend]; ok && !oldCC.State().Closed {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if err := oldCC.Shutdown(ctx); err != nil {
				oldCC.Close()
			}
		}()
	}
	p.conns[backend] = cc
	p.Unlock()
	if p.metrics != nil {
		p.metrics.connectionsAccepted.Inc()
	}

	l.Info("accepted new backend connection")
	// We need not to return, or http.Server will close this connection.
	// There is no way to wait for the ClientConn's closing, so we poll.
	for !cc.State().Closed {
		time.Sleep(1 * time.Second)
	}
	l.Info("backend connection closed")
	if p.metrics != nil {
		p.metrics.connectionsClosed.Inc()
	}
}
