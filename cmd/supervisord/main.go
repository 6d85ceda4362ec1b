// Command supervisord is the daemon entrypoint: it parses the CLI flags of
// §6, applies umask and working directory, writes the pidfile, loads the
// TOML configuration, and runs generations of the supervision engine until
// a clean shutdown. It stays in the foreground: it does not fork or detach
// from the terminal, and -n/--nodaemon only selects the development log
// format.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/edirooss/supervisor/internal/api/http"
	"github.com/edirooss/supervisor/internal/config"
	"github.com/edirooss/supervisor/internal/daemonize"
	"github.com/edirooss/supervisor/internal/procmgr"
)

type flags struct {
	configPath  string
	nodaemon    bool
	user        string
	umask       string
	directory   string
	logfile     string
	logMaxBytes int64
	logBackups  int
	logLevel    string
	pidfile     string
	identifier  string
	childLogDir string
	noCleanup   bool
	minFDs      int
	minProcs    int
	listenAddr  string
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configPath, "c", "", "configuration file path")
	flag.StringVar(&f.configPath, "configuration", "", "configuration file path")
	flag.BoolVar(&f.nodaemon, "n", false, "run foreground")
	flag.BoolVar(&f.nodaemon, "nodaemon", false, "run foreground")
	flag.StringVar(&f.user, "u", "", "run as user")
	flag.StringVar(&f.user, "user", "", "run as user")
	flag.StringVar(&f.umask, "m", "", "file-creation mask")
	flag.StringVar(&f.umask, "umask", "", "file-creation mask")
	flag.StringVar(&f.directory, "d", "", "chdir when daemonizing")
	flag.StringVar(&f.directory, "directory", "", "chdir when daemonizing")
	flag.StringVar(&f.logfile, "l", "", "supervisor log file")
	flag.StringVar(&f.logfile, "logfile", "", "supervisor log file")
	flag.Int64Var(&f.logMaxBytes, "y", 0, "log maxbytes")
	flag.IntVar(&f.logBackups, "z", 0, "log backups")
	flag.StringVar(&f.logLevel, "e", "info", "log level")
	flag.StringVar(&f.pidfile, "j", "", "pidfile path")
	flag.StringVar(&f.pidfile, "pidfile", "", "pidfile path")
	flag.StringVar(&f.identifier, "i", "", "instance identifier")
	flag.StringVar(&f.identifier, "identifier", "", "instance identifier")
	flag.StringVar(&f.childLogDir, "q", "", "directory for auto-named child logs")
	flag.StringVar(&f.childLogDir, "childlogdir", "", "directory for auto-named child logs")
	flag.BoolVar(&f.noCleanup, "k", false, "skip orphan-log cleanup at startup")
	flag.BoolVar(&f.noCleanup, "nocleanup", false, "skip orphan-log cleanup at startup")
	flag.IntVar(&f.minFDs, "a", 0, "minimum RLIMIT_NOFILE")
	flag.IntVar(&f.minFDs, "minfds", 0, "minimum RLIMIT_NOFILE")
	flag.IntVar(&f.minProcs, "minprocs", 0, "minimum RLIMIT_NPROC")
	flag.StringVar(&f.listenAddr, "http", ":9001", "control-surface HTTP listen address")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()
	if f.configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: supervisord -c <config.toml>; for help, use -h")
		os.Exit(2)
	}

	if err := run(f); err != nil {
		fmt.Fprintln(os.Stderr, "supervisord:", err)
		os.Exit(2)
	}
}

func run(f *flags) error {
	if err := daemonize.ApplyUmask(f.umask); err != nil {
		return err
	}
	if err := daemonize.Chdir(f.directory); err != nil {
		return err
	}

	log, err := buildLogger(f)
	if err != nil {
		return err
	}
	defer log.Sync()

	pidfile, err := daemonize.NewPidfile(f.pidfile)
	if err != nil {
		return err
	}
	defer pidfile.Remove()

	daemonize.NotifyReady()
	defer daemonize.NotifyStopping()

	for {
		mood, err := runGeneration(f, log)
		if err != nil {
			return err
		}
		if mood != procmgr.MoodRestart {
			return nil
		}
		log.Info("restarting with a fresh generation")
	}
}

// runGeneration loads config, builds one Supervisor, runs it alongside the
// HTTP control surface, and returns the mood the loop exited with (§4.G,
// "the outer program re-enters main" on HUP).
func runGeneration(f *flags, log *zap.Logger) (procmgr.Mood, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return procmgr.MoodShutdown, err
	}

	if warnings := procmgr.RaiseRlimits(uint64(cfg.Supervisord.MinFDs), uint64(cfg.Supervisord.MinProcs)); len(warnings) > 0 {
		for _, w := range warnings {
			log.Warn("rlimit", zap.String("detail", w))
		}
	}

	live := make(map[string]bool, len(cfg.Program))
	for name := range cfg.Program {
		live[name] = true
	}
	daemonize.SweepOrphanLogs(cfg.Supervisord.ChildLogDir, cfg.Supervisord.Identifier, cfg.Supervisord.NoCleanup, live)

	bus := procmgr.NewEventBus(log)
	groups, err := config.BuildGroups(cfg, bus, log)
	if err != nil {
		return procmgr.MoodShutdown, err
	}

	sup := procmgr.NewSupervisor(groups, bus, log)
	ctrl := procmgr.NewControl(sup)

	srv := &http.Server{Addr: f.listenAddr, Handler: apihttp.NewRouter(ctrl, log)}

	g, ctx := errgroup.WithContext(context.Background())
	runDone := make(chan struct{})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := sup.Run()
		close(runDone)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return err
	})
	g.Go(func() error {
		// If the HTTP listener dies unexpectedly, make sure the select
		// loop notices instead of supervising children forever with no
		// control surface left.
		select {
		case <-ctx.Done():
			sup.RequestShutdown()
		case <-runDone:
		}
		return nil
	})

	runErr := g.Wait()
	if runErr != nil {
		return procmgr.MoodShutdown, runErr
	}
	return sup.Mood(), nil
}

func buildLogger(f *flags) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if f.nodaemon {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if lvl, err := zapcore.ParseLevel(f.logLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if f.logfile != "" {
		zcfg.OutputPaths = []string{f.logfile}
	}
	log, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return log.Named("supervisord"), nil
}
