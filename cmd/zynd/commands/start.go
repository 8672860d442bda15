package commands

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/config"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/metrics"
	"github.com/marmos91/dittofs/pkg/node"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Load the workdir and serve clients until interrupted",
	Long: `start loads an existing workdir, binds the configured TLS listener, and
runs the orchestrator's accept loop until SIGINT/SIGTERM, persisting state
before exiting.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cc := cryptoctx.NewGPGContext(cfg.Crypto.Fingerprint)
	if cfg.Crypto.Binary != "" {
		cc.Binary = cfg.Crypto.Binary
	}

	loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
	n, err := node.Load(loadCtx, cc, cfg.Workdir, cfg.Node.MaxInactivity, cfg.Node.TokenTTL)
	loadCancel()
	if err != nil {
		return fmt.Errorf("failed to load workdir %q: %w", cfg.Workdir, err)
	}

	if expiration, err := certificateExpiration(cfg.TLS.CertFile); err == nil {
		n.SetCertificateExpiration(expiration)
	} else {
		logger.Warn("could not determine certificate expiration", "error", err)
	}

	acceptor, err := newTLSAcceptor(cfg.TLS)
	if err != nil {
		return fmt.Errorf("failed to bind TLS listener: %w", err)
	}
	defer acceptor.Close()

	if cfg.Metrics.Enabled {
		metricsServer := startMetricsServer(cfg.Metrics, n)
		defer metricsServer.Close()
	}

	logger.Info("zynd starting", "workdir", cfg.Workdir, "listen_addr", cfg.TLS.ListenAddr)

	shutdown := make(chan struct{})
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		close(shutdown)
	}()

	if err := n.Run(context.Background(), acceptor, shutdown); err != nil {
		return fmt.Errorf("server loop exited with error: %w", err)
	}

	logger.Info("zynd stopped cleanly")
	return nil
}

// certificateExpiration reads certFile's leaf certificate and returns its
// NotAfter, purely for QuerySystem's AdminSystemInformation.
func certificateExpiration(certFile string) (time.Time, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return time.Time{}, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return time.Time{}, fmt.Errorf("no PEM block found in %s", certFile)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, err
	}
	return cert.NotAfter, nil
}

// tlsAcceptor implements node.Acceptor over a real net/tls.Listener.
// Parsing the accepted connection into zyn's wire protocol and producing a
// node.ClientEndpoint is external to this core (spec.md §1 treats the wire
// format as an out-of-scope collaborator), so Accept here only ever reports
// no new client; the listener exists to prove the TLS configuration is
// valid and to hold the port open for the lifetime of the process.
type tlsAcceptor struct {
	listener net.Listener
}

func newTLSAcceptor(cfg config.TLSConfig) (*tlsAcceptor, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS keypair: %w", err)
	}

	ln, err := tls.Listen("tcp", cfg.ListenAddr, &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	return &tlsAcceptor{listener: ln}, nil
}

func (a *tlsAcceptor) Accept() (node.ClientEndpoint, bool) {
	return nil, false
}

func (a *tlsAcceptor) Close() error {
	return a.listener.Close()
}

// startMetricsServer exposes Node.Snapshot()'s counters as Prometheus
// gauges on an HTTP listener independent of the TLS client port, adapted
// from the teacher's metrics server convention (pkg/metrics/cache.go).
func startMetricsServer(cfg config.MetricsConfig, n *node.Node) *http.Server {
	registry := metrics.InitRegistry()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.SetCounters(toMetricsCounters(n.Snapshot()))
		}
	}()

	go func() {
		logger.Info("metrics listener starting", "listen_addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	return server
}

func toMetricsCounters(c node.Counters) metrics.Counters {
	return metrics.Counters{
		ActiveConnections: c.ActiveConnections,
		OpenFiles:         c.NumberOfOpenFiles,
		TotalFiles:        c.NumberOfFiles,
	}
}
