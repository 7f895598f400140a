// Command shell runs the C7 Remote-Shell Session endpoints: a listener
// (spawns per-session executors) and an interactive local client.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Codesmith28/cloud-dispatch/internal/logging"
	"github.com/Codesmith28/cloud-dispatch/internal/remoteshell"
	"github.com/Codesmith28/cloud-dispatch/internal/wire"
)

func main() {
	root := &cobra.Command{Use: "shell"}
	root.AddCommand(listenerCmd())
	root.AddCommand(clientCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listenerCmd() *cobra.Command {
	var port int
	var logLevel string
	var workDir string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "run the remote-shell listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.Build(logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if workDir == "" {
				workDir, _ = os.Getwd()
			}
			l := remoteshell.NewListener(workDir, logger)
			transport := wire.NewTransport(logger, l)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go sweepLoop(ctx, l)

			logger.Info("remote-shell listener started", zap.Int("port", port))
			return transport.Serve(ctx, fmt.Sprintf(":%d", port))
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 3331, "listener port")
	cmd.Flags().StringVarP(&logLevel, "log", "l", "info", "log level: debug|info|warn|error")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "directory fs/fg operate under (default: cwd)")
	return cmd
}

func sweepLoop(ctx context.Context, l *remoteshell.Listener) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.SweepExpired()
		}
	}
}

func clientCmd() *cobra.Command {
	var serverAddr string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "connect an interactive remote-shell client",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.Build(logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			// Local Client advertises a random port in [3331, 4331). The port
			// is not checked for being free, and the client does not listen
			// on it.
			myPort := 3331 + rand.Intn(1000)
			myAddr := fmt.Sprintf("tcp://127.0.0.1:%d", myPort)

			client := remoteshell.NewClient(myAddr, logger)
			if err := client.Connect(serverAddr); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return client.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&serverAddr, "server", "tcp://127.0.0.1:3331", "remote-shell listener address")
	cmd.Flags().StringVarP(&logLevel, "log", "l", "info", "log level: debug|info|warn|error")
	return cmd
}
