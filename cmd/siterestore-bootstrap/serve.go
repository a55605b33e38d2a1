package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cgi"
	"net/http/fcgi"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/slimrmm/siterestore/internal/bootstrap"
	"github.com/slimrmm/siterestore/internal/config"
	"github.com/slimrmm/siterestore/internal/logging"
	"github.com/slimrmm/siterestore/internal/metrics"
	"github.com/slimrmm/siterestore/internal/security/mtls"
	"github.com/slimrmm/siterestore/pkg/version"
)

// stdinListener selects the listener a FastCGI parent passes on stdin.
const stdinListener = "-"

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the bootstrap page",
	Long: `Serve the bootstrap page over HTTP, FastCGI or as a CGI program.

In fcgi mode an address of "-" accepts connections on the socket passed on
standard input by the web server.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address")
	serveCmd.Flags().String("mode", "", "server mode (http, fcgi, cgi)")
	serveCmd.Flags().Bool("metrics", false, "expose prometheus metrics on /metrics")
	bindLocalFlagOrPanic(serveCmd, "server.addr", "addr")
	bindLocalFlagOrPanic(serveCmd, "server.mode", "mode")
	bindLocalFlagOrPanic(serveCmd, "server.metrics", "metrics")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		LogDir:      cfg.Log.Dir,
		Debug:       cfg.Log.Debug,
		LogToStdout: cfg.Server.Mode == "http" && os.Getenv("SITERESTORE_SERVICE") != "1",
	})
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	var m metrics.Metrics = metrics.Noop{}
	if cfg.Server.Metrics {
		m = metrics.NewProm("siterestore")
	}

	b, closeBackends, err := bootstrap.NewFromConfig(cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackends(); err != nil {
			logger.Warn("closing backends", "error", err)
		}
	}()

	h := bootstrap.NewHandler(b, logger)
	mux := http.NewServeMux()
	h.Routes(mux)
	if cfg.Server.Metrics {
		mux.Handle("/metrics", metrics.Handler())
	}

	logger.Info("starting bootstrap",
		"version", version.Get().Version,
		"mode", cfg.Server.Mode,
		"root", cfg.RootDir)

	switch cfg.Server.Mode {
	case "cgi":
		return cgi.Serve(mux)
	case "fcgi":
		h.Vars = fcgi.ProcessEnv
		return serveFCGI(cfg, mux)
	default:
		return serveHTTP(cmd.Context(), cfg, mux, logger)
	}
}

func serveFCGI(cfg *config.Config, handler http.Handler) error {
	if cfg.Server.Addr == stdinListener {
		return fcgi.Serve(nil, handler)
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr, err)
	}
	defer ln.Close()
	return fcgi.Serve(ln, handler)
}

func serveHTTP(ctx context.Context, cfg *config.Config, handler http.Handler, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tlsPaths := mtls.CertPaths{Cert: cfg.Server.TLSCert, Key: cfg.Server.TLSKey, ClientCA: cfg.Server.ClientCA}
	var tlsConfig *tls.Config
	if tlsPaths.Enabled() {
		var err error
		tlsConfig, err = mtls.NewServerTLSConfig(tlsPaths)
		if err != nil {
			return fmt.Errorf("creating TLS config: %w", err)
		}
		if notAfter, err := mtls.CertExpiry(tlsPaths.Cert); err == nil {
			logger.Info("TLS enabled", "client_auth", tlsPaths.ClientCA != "", "expires", notAfter)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Extraction of a large archive can take minutes.
		WriteTimeout: 30 * time.Minute,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		TLSConfig:    tlsConfig,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if tlsConfig != nil {
			// Certificates are already loaded into TLSConfig.
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
