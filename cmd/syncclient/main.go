package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/chatsync/internal/admin"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/instance"
	"github.com/matheus3301/chatsync/internal/pull"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	urlFlag := flag.String("url", "", "websocket URL (overrides config)")
	apiFlag := flag.String("api-url", "", "pull API base URL (overrides config)")
	headless := flag.Bool("headless", false, "log status changes instead of drawing the terminal view")
	startServer := flag.Bool("start-server", false, "start syncd for the instance if it is not running")
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(instance.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if *urlFlag != "" {
		cfg.Client.URL = *urlFlag
	}
	if *apiFlag != "" {
		cfg.Client.APIURL = *apiFlag
	}

	if *startServer {
		socketPath := instance.SocketPath(name)
		if !probeDaemon(socketPath) {
			fmt.Fprintf(os.Stderr, "syncd not running for instance %q, starting...\n", name)
			if err := startDaemon(name); err != nil {
				fmt.Fprintf(os.Stderr, "failed to start syncd: %v\n", err)
				os.Exit(1)
			}
			if !waitForDaemon(socketPath, 10*time.Second) {
				fmt.Fprintf(os.Stderr, "syncd did not become ready, see %s\n", instance.ServerLogPath(name))
				os.Exit(1)
			}
		}
	}

	opts := client.Module(client.Params{Instance: name, Config: cfg.Client, Headless: *headless})

	if *headless {
		fx.New(opts).Run()
		return
	}

	if err := runTUI(name, opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(name string, opts fx.Option) error {
	var (
		cache  *intsync.Store
		model  *status.Model
		rep    *client.Repairer
		pc     *pull.Client
		b      *bus.Bus
		logger *zap.Logger
	)
	// fx logs to the client log file so it does not draw over the view.
	app := fx.New(
		opts,
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Populate(&cache, &model, &rep, &pc, &b, &logger),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	deps := tui.Deps{
		Instance: name,
		Cache:    cache,
		Status:   model,
		Repairer: rep,
		Pull:     pc,
		Bus:      b,
		Logger:   logger.Named("tui"),
	}
	runErr := tui.NewApp(deps).Run()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// probeDaemon checks if syncd is running and answering on its admin socket.
func probeDaemon(socketPath string) bool {
	c, err := admin.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = c.GetStats(ctx)
	return err == nil
}

func startDaemon(name string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	syncd := filepath.Join(filepath.Dir(executable), "syncd")

	if _, err := os.Stat(syncd); err != nil {
		syncd = "syncd"
	}

	// syncd logs to its own file; its stderr would draw over the terminal view.
	cmd := exec.Command(syncd, "--instance", name)
	return cmd.Start()
}

// waitForDaemon polls the admin service until it answers or timeout passes.
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
