// Package main provides the CLI entry point for securesend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrewtheguy/securesend/internal/sysinfo"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"
)

func init() {
	if Version == "dev" {
		Version = sysinfo.Version
	} else {
		sysinfo.Version = Version
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "securesend",
		Short: "End-to-end encrypted peer-to-peer file transfer",
		Long: `securesend transfers a file directly between two peers, encrypted
end-to-end with a fresh ephemeral key for every transfer.

Pairing happens over a short PIN the sender reads aloud or types into the
receiver's prompt. Once paired, the two sides attempt a direct
NAT-traversed connection; if that doesn't establish in time, the transfer
falls back to relaying encrypted chunks through a cloud blob store. The
relay and blob store never see plaintext or the session key.`,
		Version: Version,
	}

	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(receiveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
