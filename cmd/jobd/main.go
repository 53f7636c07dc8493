package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"jobkit/internal/app"
	"jobkit/internal/scheduler"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	registerBuiltinTasks(a)

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

// registerBuiltinTasks binds a few always-available tasks. Deployments add
// their own by embedding the app package.
func registerBuiltinTasks(a *app.App) {
	reg := a.Tasks()

	_ = reg.Register("ping", scheduler.Func(func(args ...any) (any, error) {
		return "pong", nil
	}))

	_ = reg.Register("sleep", scheduler.CtxFunc(func(ctx context.Context, args ...any) (any, error) {
		d := time.Second
		if len(args) > 0 {
			raw, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("sleep: duration string required, got %T", args[0])
			}
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("sleep: %w", err)
			}
			d = parsed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
			return d.String(), nil
		}
	}))
}
