package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/andrewtheguy/securesend/internal/credential"
	"github.com/andrewtheguy/securesend/internal/handshake"
	"github.com/andrewtheguy/securesend/internal/identity"
	"github.com/andrewtheguy/securesend/internal/logging"
	"github.com/andrewtheguy/securesend/internal/metrics"
	"github.com/andrewtheguy/securesend/internal/orchestrator"
	"github.com/andrewtheguy/securesend/internal/recovery"
	"github.com/andrewtheguy/securesend/internal/rendezvous"
)

func receiveCmd() *cobra.Command {
	var (
		configPath string
		endpoint   string
		pinFlag    string
		outPath    string
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive a file using the PIN the sender gave you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pin := pinFlag
			if pin == "" {
				entered, err := promptForPin()
				if err != nil {
					return err
				}
				pin = entered
			}
			return runReceive(pin, configPath, endpoint, outPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a config file")
	cmd.Flags().StringVar(&endpoint, "relay", "", "override the rendezvous relay endpoint")
	cmd.Flags().StringVar(&pinFlag, "pin", "", "the PIN the sender gave you (prompts interactively if omitted)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "where to write the received file (defaults to received-file in the current directory; the sender's file name is not transmitted)")

	return cmd
}

func promptForPin() (string, error) {
	var pin string
	field := huh.NewInput().
		Title("Enter the PIN the sender gave you").
		Value(&pin).
		Validate(func(s string) error {
			if err := credential.ValidatePin(s); err != nil {
				return fmt.Errorf("not a valid pin: %w", err)
			}
			return nil
		})

	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return "", fmt.Errorf("pin entry cancelled: %w", err)
	}
	return pin, nil
}

func runReceive(pin, configPath, endpointOverride, outPath string) error {
	if err := credential.ValidatePin(pin); err != nil {
		return fmt.Errorf("invalid pin: %w", err)
	}

	cfg, err := loadConfig(configPath, endpointOverride)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	receiverID, err := credential.DeriveReceiverID(pin)
	if err != nil {
		return fmt.Errorf("derive receiver id: %w", err)
	}
	transferID, err := credential.DeriveTransferID(pin)
	if err != nil {
		return fmt.Errorf("derive transfer id: %w", err)
	}

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
		defer recovery.RecoverWithLog(logger, "receive-signal-watcher")
		<-sigCh
		cancel()
	}()

	states := make(chan orchestrator.StateEvent, cfg.Orchestrator.StateBufferSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer recovery.RecoverWithLog(logger, "receive-state-watcher")
		watchStates(states)
	}()

	go func() {
		defer recovery.RecoverWithLog(logger, "receive-cancel-watcher")
		<-ctx.Done()
		engine.Cancel()
	}()

	result, err := engine.Receive(ctx, orchestrator.ReceiveParams{
		TransferID:  transferID,
		Mode:        handshake.ModePIN,
		OwnPublicID: identity.PartyID(receiverID),
		States:      states,
	})
	close(states)
	<-done

	if err != nil {
		return fmt.Errorf("receive failed: %w", err)
	}

	dest := outPath
	if dest == "" {
		dest = "received-file"
	}
	if err := os.WriteFile(dest, result.Data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	fmt.Printf("saved %s (%s)\n", dest, formatFileSize(int64(len(result.Data))))
	return nil
}
