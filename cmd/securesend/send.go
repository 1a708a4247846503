package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/andrewtheguy/securesend/internal/config"
	"github.com/andrewtheguy/securesend/internal/credential"
	"github.com/andrewtheguy/securesend/internal/filetransfer"
	"github.com/andrewtheguy/securesend/internal/handshake"
	"github.com/andrewtheguy/securesend/internal/identity"
	"github.com/andrewtheguy/securesend/internal/logging"
	"github.com/andrewtheguy/securesend/internal/metrics"
	"github.com/andrewtheguy/securesend/internal/orchestrator"
	"github.com/andrewtheguy/securesend/internal/recovery"
	"github.com/andrewtheguy/securesend/internal/rendezvous"
)

func sendCmd() *cobra.Command {
	var (
		configPath string
		endpoint   string
		maxSize    string
	)

	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a file, protected by a one-time PIN the receiver enters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(args[0], configPath, endpoint, maxSize)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a config file")
	cmd.Flags().StringVar(&endpoint, "relay", "", "override the rendezvous relay endpoint")
	cmd.Flags().StringVar(&maxSize, "max-size", "", "override the configured maximum file size (e.g. 2GiB, 500MB)")

	return cmd
}

func runSend(path, configPath, endpointOverride, maxSizeOverride string) error {
	cfg, err := loadConfig(configPath, endpointOverride)
	if err != nil {
		return err
	}
	if maxSizeOverride != "" {
		n, err := filetransfer.ParseSize(maxSizeOverride)
		if err != nil {
			return fmt.Errorf("parse --max-size: %w", err)
		}
		cfg.Orchestrator.MaxFileSize = n
	}
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}

	pin, err := credential.GeneratePin()
	if err != nil {
		return fmt.Errorf("generate pin: %w", err)
	}

	receiverID, err := credential.DeriveReceiverID(pin)
	if err != nil {
		return fmt.Errorf("derive receiver id: %w", err)
	}
	transferID, err := credential.DeriveTransferID(pin)
	if err != nil {
		return fmt.Errorf("derive transfer id: %w", err)
	}
	salt, err := credential.NewSalt()
	if err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	fmt.Println()
	fmt.Println(pinBoxStyle.Render(fmt.Sprintf("PIN: %s", pin)))
	fmt.Printf("Sending %s (%s). Give this PIN to the receiver.\n\n", path, formatFileSize(info.Size()))

	m := metrics.Default()
	maybeServeMetrics(cfg, logger)

	client := rendezvous.NewWSClient(cfg.Rendezvous.Endpoints, logger)
	defer client.Close()

	engine := orchestrator.New(cfg, client, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer recovery.RecoverWithLog(logger, "send-signal-watcher")
		<-sigCh
		cancel()
	}()

	states := make(chan orchestrator.StateEvent, cfg.Orchestrator.StateBufferSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer recovery.RecoverWithLog(logger, "send-state-watcher")
		watchStates(states)
	}()

	go func() {
		defer recovery.RecoverWithLog(logger, "send-cancel-watcher")
		<-ctx.Done()
		engine.Cancel()
	}()

	err = engine.Send(ctx, orchestrator.SendParams{
		TransferID:     transferID,
		Mode:           handshake.ModePIN,
		ReceiverPublic: identity.PartyID(receiverID),
		Salt:           salt,
		Reader:         io.LimitReader(f, info.Size()),
		Size:           info.Size(),
		States:         states,
	})
	close(states)
	<-done

	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

func maybeServeMetrics(cfg *config.Config, logger *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
	go func() {
		defer recovery.RecoverWithLog(logger, "metrics-server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", logging.KeyError, err)
		}
	}()
}
