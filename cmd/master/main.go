// Command master runs the C3/C4/C5 stack: Node Registry, Task Scheduler,
// and Master Protocol Handler. CLI surface and graceful shutdown pattern
// are adapted from master/main.go's flag handling and signal.Notify
// shutdown goroutine, generalized from flag.String to cobra and from
// os/signal.Notify to signal.NotifyContext.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Codesmith28/cloud-dispatch/internal/config"
	"github.com/Codesmith28/cloud-dispatch/internal/logging"
	"github.com/Codesmith28/cloud-dispatch/internal/masterserver"
	"github.com/Codesmith28/cloud-dispatch/internal/persistence"
	"github.com/Codesmith28/cloud-dispatch/internal/remoteshell"
	"github.com/Codesmith28/cloud-dispatch/internal/scheduler"
	"github.com/Codesmith28/cloud-dispatch/internal/solver"
	"github.com/Codesmith28/cloud-dispatch/internal/sysinfo"
	"github.com/Codesmith28/cloud-dispatch/internal/taskqueue"
	"github.com/Codesmith28/cloud-dispatch/internal/wire"
	"github.com/Codesmith28/cloud-dispatch/internal/workerregistry"
)

var (
	flagIP              string
	flagPort            int
	flagHTTPPort        int
	flagLogLevel        string
	flagSkipLoadState   bool
	flagTaskCount       int
	flagShellPort       int
	flagShellWorkDir    string
	flagSnapshotBackend string
)

func main() {
	root := &cobra.Command{
		Use:   "master",
		Short: "Run the task-dispatch master node",
		RunE:  runMaster,
	}
	root.Flags().StringVar(&flagIP, "ip", "", "address to advertise/bind (default: auto-detected)")
	root.Flags().IntVarP(&flagPort, "port", "p", 3310, "RPC listen port")
	root.Flags().IntVar(&flagHTTPPort, "hp", 0, "HTTP status port (accepted but unused: no HTTP status server is started)")
	root.Flags().IntVar(&flagHTTPPort, "http_port", 0, "alias for --hp")
	root.Flags().StringVarP(&flagLogLevel, "log", "l", "info", "log level: debug|info|warn|error")
	root.Flags().BoolVar(&flagSkipLoadState, "skip-load-state", false, "do not restore the last snapshot on startup")
	root.Flags().IntVar(&flagTaskCount, "tasks", 10, "number of tasks for the reference SumOfSquares solver")
	root.Flags().IntVar(&flagShellPort, "shell-port", 3331, "remote-shell listener port")
	root.Flags().StringVar(&flagShellWorkDir, "shell-work-dir", "", "directory the remote-shell fs/fg commands operate under (default: cwd)")
	root.Flags().StringVar(&flagSnapshotBackend, "snapshot-backend", "", "snapshot store: file|couchdb (default: $SNAPSHOT_BACKEND or file)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMaster(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
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
	myAddr := fmt.Sprintf("tcp://%s:%d", ip, flagPort)
	listenAddr := fmt.Sprintf(":%d", flagPort)

	backend := flagSnapshotBackend
	if backend == "" {
		backend = cfg.SnapshotBackend
	}
	store, err := newSnapshotStore(backend, cfg)
	if err != nil {
		return fmt.Errorf("build snapshot store: %w", err)
	}

	q := taskqueue.New()
	registry := workerregistry.New(q)
	sv := solver.NewSumOfSquares(flagTaskCount)
	sched := scheduler.New(q, registry, sv, scheduler.DefaultTickInterval, scheduler.DefaultLivenessThreshold)

	if !cfg.SkipLoadState && !flagSkipLoadState {
		if snap, found, err := store.Load(); err != nil {
			logger.Warn("failed to load snapshot", zap.Error(err))
		} else if found {
			q.LoadSnapshot(snap.Pending, snap.Assigned, snap.Done)
			logger.Info("restored snapshot",
				zap.Int("pending", len(snap.Pending)),
				zap.Int("assigned", len(snap.Assigned)),
				zap.Int("done", len(snap.Done)))
		}
	}
	sched.Start()

	srv := masterserver.New(myAddr, sched, registry, logger)
	transport := wire.NewTransport(logger, srv)

	shellWorkDir := flagShellWorkDir
	if shellWorkDir == "" {
		shellWorkDir, _ = os.Getwd()
	}
	shellListener := remoteshell.NewListener(shellWorkDir, logger)
	shellTransport := wire.NewTransport(logger, shellListener)
	shellListenAddr := fmt.Sprintf(":%d", flagShellPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return transport.Serve(gctx, listenAddr)
	})
	g.Go(func() error {
		return shellTransport.Serve(gctx, shellListenAddr)
	})
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return snapshotLoop(gctx, q, store, logger)
	})
	g.Go(func() error {
		return shellSweepLoop(gctx, shellListener)
	})

	logger.Info("master started",
		zap.String("address", myAddr),
		zap.String("remote_shell_listener", shellListenAddr))

	select {
	case <-sched.Finished():
		logger.Info("all tasks complete, shutting down")
	case <-gctx.Done():
	}

	stop()
	transport.Shutdown()
	shellTransport.Shutdown()
	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

// newSnapshotStore selects the persistence.Store backend per
// --snapshot-backend / $SNAPSHOT_BACKEND, defaulting to the local file
// store when unset or set to "file". "couchdb" dials the durable
// go-kivik-backed CouchStore using the COUCHDB_* config values.
func newSnapshotStore(backend string, cfg *config.Config) (persistence.Store, error) {
	switch backend {
	case "", "file":
		return persistence.NewFileStore(cfg.SnapshotPath), nil
	case "couchdb":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return persistence.NewCouchStore(ctx, cfg.CouchDBURL, cfg.CouchDBUser, cfg.CouchDBPass, cfg.CouchDBName)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q (want file|couchdb)", backend)
	}
}

func shellSweepLoop(ctx context.Context, l *remoteshell.Listener) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.SweepExpired()
		}
	}
}

func snapshotLoop(ctx context.Context, q *taskqueue.Queue, store persistence.Store, logger *zap.Logger) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pending, assigned, done := q.Snapshot()
			snap := persistence.Snapshot{Pending: pending, Assigned: assigned, Done: done, SavedAt: time.Now()}
			if err := store.Save(snap); err != nil {
				logger.Warn("snapshot save failed", zap.Error(err))
			}
		}
	}
}
