package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/issuer"
)

var (
	issuerAddr    string
	issuerUsers   []string
	issuerTLSCert string
	issuerTLSKey  string
)

var issuerCmd = &cobra.Command{
	Use:   "issuer",
	Short: "Development credential issuer",
}

var issuerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST /auth/login issuing demo bearer tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := issuer.NewServer(
			issuer.WithUsers(issuerUsers...),
			issuer.WithServerLogger(slog.Default()),
		)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Mount("/", srv.Router())

		server := &http.Server{
			Addr:              issuerAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if issuerTLSCert != "" || issuerTLSKey != "" {
			cert, err := tls.LoadX509KeyPair(issuerTLSCert, issuerTLSKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go srv.SweepLoop(ctx, 5*time.Minute)

		done := make(chan error, 1)
		go func() {
			var err error
			if server.TLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		fmt.Fprintf(cmd.OutOrStdout(), "Issuing credentials on %s...\n", issuerAddr)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(issuerCmd)
	issuerCmd.AddCommand(issuerServeCmd)
	issuerServeCmd.Flags().StringVar(&issuerAddr, "addr", "127.0.0.1:8080", "address to listen on")
	issuerServeCmd.Flags().StringSliceVar(&issuerUsers, "user", nil, "allowed user IDs (default: any)")
	issuerServeCmd.Flags().StringVar(&issuerTLSCert, "tls-cert", "", "path to TLS certificate file")
	issuerServeCmd.Flags().StringVar(&issuerTLSKey, "tls-key", "", "path to TLS key file")
}
