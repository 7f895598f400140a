// Command worker runs the C6 Worker Runtime: it connects to a master,
// waits for compute requests, and reports results. CLI surface and
// shutdown pattern adapted from worker/main.go's flag.String handling
// and signal.Notify shutdown goroutine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Codesmith28/cloud-dispatch/internal/logging"
	"github.com/Codesmith28/cloud-dispatch/internal/solver"
	"github.com/Codesmith28/cloud-dispatch/internal/sysinfo"
	"github.com/Codesmith28/cloud-dispatch/internal/workerruntime"
)

var (
	flagIP        string
	flagServerIP  string
	flagPort      int
	flagServerPort int
	flagLogLevel  string
)

func main() {
	root := &cobra.Command{
		Use:   "worker",
		Short: "Run a task-dispatch worker node",
		RunE:  runWorker,
	}
	root.Flags().StringVar(&flagIP, "ip", "", "address to advertise/bind (default: auto-detected)")
	root.Flags().StringVar(&flagServerIP, "server_ip", "127.0.0.1", "master IP address")
	root.Flags().IntVarP(&flagPort, "port", "p", 0, "listen port (0 selects 4310)")
	root.Flags().IntVar(&flagServerPort, "server_port", 3310, "master RPC port")
	root.Flags().StringVarP(&flagLogLevel, "log", "l", "info", "log level: debug|info|warn|error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger, err := logging.Build(flagLogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ip := flagIP
	if ip == "" {
		info, err := sysinfo.Collect()
		if err != nil {
			logger.Warn("sysinfo collection failed, defaulting to loopback", zap.Error(err))
			ip = "127.0.0.1"
		} else {
			ip = info.PreferredAddress()
		}
	}
	port := flagPort
	if port == 0 {
		port = 4310
	}
	myAddr := fmt.Sprintf("tcp://%s:%d", ip, port)
	listenAddr := fmt.Sprintf(":%d", port)
	masterAddr := fmt.Sprintf("tcp://%s:%d", flagServerIP, flagServerPort)

	sv := solver.NewSumOfSquares(0) // worker side never calls InitAsMaster
	rt := workerruntime.New(myAddr, masterAddr, sv, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx, listenAddr); err != nil {
		return fmt.Errorf("start worker runtime: %w", err)
	}

	logger.Info("worker started", zap.String("address", myAddr), zap.String("master", masterAddr))
	<-ctx.Done()
	logger.Info("worker shutting down")
	return nil
}
