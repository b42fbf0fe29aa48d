// Command fuelbastion runs a reverse proxy service that allows an
// un-addressable fuelwitness backend to accept HTTP requests, using the
// bastion package for the actual backend-connection and proxying logic.
package main

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/http2"

	"github.com/fuellabs/fuel-merkle-go/bastion"
)

var listenAddr = flag.String("listen", "localhost:8443", "host and port to listen at")
var metricsAddr = flag.String("metrics", "", "if set, host and port to serve Prometheus metrics on")
var testCertificates = flag.Bool("testcert", false, "use localhost.pem and localhost-key.pem instead of ACME")
var autocertCache = flag.String("cache", "", "directory to cache ACME certificates at")
var autocertHost = flag.String("host", "", "host to obtain ACME certificate for")
var autocertEmail = flag.String("email", "", "")
var allowedBackendsFile = flag.String("backends", "", "file of accepted key hashes, one per line, reloaded on SIGHUP")

func main() {
	flag.BoolVar(&http2.VerboseLogs, "h2v", false, "enable HTTP/2 verbose logs")
	flag.Parse()

	var getCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error)
	if *testCertificates {
		cert, err := tls.LoadX509KeyPair("localhost.pem", "localhost-key.pem")
		if err != nil {
			log.Fatalf("can't load test certificates: %v", err)
		}
		getCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return &cert, nil }
	} else {
		if *autocertCache == "" || *autocertHost == "" || *autocertEmail == "" {
			log.Fatal("-cache, -host, and -email or -testcert are required")
		}
		m := &autocert.Manager{
			Cache:      autocert.DirCache(*autocertCache),
			Prompt:     autocert.AcceptTOS,
			Email:      *autocertEmail,
			HostPolicy: autocert.HostWhitelist(*autocertHost),
		}
		getCertificate = m.GetCertificate
	}

	if *allowedBackendsFile == "" {
		log.Fatal("-backends is missing")
	}
	var allowedBackendsMu sync.RWMutex
	var allowedBackends map[[sha256.Size]byte]bool
	reloadBackends := func() error {
		newBackends := make(map[[sha256.Size]byte]bool)
		backendsList, err := os.ReadFile(*allowedBackendsFile)
		if err != nil {
			return err
		}
		for _, line := range strings.Split(strings.TrimSpace(string(backendsList)), "\n") {
			l, err := hex.DecodeString(line)
			if err != nil || len(l) != sha256.Size {
				return fmt.Errorf("invalid backend: %q", line)
			}
			newBackends[[sha256.Size]byte(l)] = true
		}
		allowedBackendsMu.Lock()
		defer allowedBackendsMu.Unlock()
		allowedBackends = newBackends
		return nil
	}
	if err := reloadBackends(); err != nil {
		log.Fatalf("failed to load backends: %v", err)
	}
	log.Printf("loaded %d backends", len(allowedBackends))
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP)
	go func() {
		for range c {
			if err := reloadBackends(); err != nil {
				log.Printf("failed to reload backends: %v", err)
			} else {
				log.Printf("reloaded backends")
			}
		}
	}()

	metrics := bastion.NewMetrics(prometheus.DefaultRegisterer)
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Printf("serving metrics on %s", *metricsAddr)
			log.Fatal(http.ListenAndServe(*metricsAddr, mux))
		}()
	}

	b, err := bastion.New(&bastion.Config{
		GetCertificate: getCertificate,
		AllowedBackend: func(keyHash [sha256.Size]byte) bool {
			allowedBackendsMu.RLock()
			defer allowedBackendsMu.RUnlock()
			return allowedBackends[keyHash]
		},
		// A fuelbastion backend is always a fuelwitness, which only ever
		// needs its cosigning endpoint reachable from the outside.
		AllowedPaths: []string{"/add-checkpoint"},
		Metrics:      metrics,
	})
	if err != nil {
		log.Fatalf("failed to create bastion: %v", err)
	}

	hs := &http.Server{
		Addr:      *listenAddr,
		Handler:   b,
		TLSConfig: &tls.Config{NextProtos: []string{"h2", "http/1.1", "acme-tls/1"}},
	}
	if err := b.ConfigureServer(hs); err != nil {
		log.Fatalf("failed to configure bastion: %v", err)
	}
	if err := http2.ConfigureServer(hs, nil); err != nil {
		log.Fatalln("failed to configure HTTP/2:", err)
	}

	log.Printf("listening on %s", *listenAddr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	e := make(chan error, 1)
	go func() { e <- hs.ListenAndServeTLS("", "") }()
	select {
	case <-ctx.Done():
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hs.Shutdown(ctx)
	case err := <-e:
		log.Fatalf("server error: %v", err)
	}
}
