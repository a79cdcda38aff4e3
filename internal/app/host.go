package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gravicode/talkingbot/internal/cli"
	"github.com/gravicode/talkingbot/internal/console"
	"github.com/gravicode/talkingbot/internal/eventlog"
	"github.com/gravicode/talkingbot/internal/ipc"
	"github.com/gravicode/talkingbot/internal/logging"
	"github.com/gravicode/talkingbot/internal/metrics"
	"github.com/gravicode/talkingbot/internal/pipeline"
	"github.com/gravicode/talkingbot/internal/session"
)

const (
	acquireProbeTimeout = 180 * time.Millisecond
	acquireRetries      = 8
	shutdownTimeout     = 10 * time.Second
	consoleBuffer       = 1024
)

// host owns the socket, controller, and event consumers of a run or serve process.
type host struct {
	r          Runner
	env        environment
	socketPath string
	listener   net.Listener

	feed     *eventlog.Feed
	ctrl     *session.Controller
	exporter *metrics.Exporter
}

// Run holds one conversation in the foreground. The IPC socket stays open so
// "talkingbot stop" and "talkingbot logs" work from another terminal.
func (r Runner) Run(ctx context.Context, opts cli.Options) error {
	h, err := r.openHost(ctx, "run", opts)
	if err != nil {
		return err
	}
	defer h.close()

	return h.serve(ctx, func(ctx context.Context) {
		if !h.ctrl.Start() {
			return
		}
		select {
		case <-ctx.Done():
			h.ctrl.Stop()
		case <-h.ctrl.Done():
		}
		h.waitIdle()
	})
}

// Serve runs the control daemon until ctx ends. A live conversation is stopped on exit.
func (r Runner) Serve(ctx context.Context, opts cli.Options) error {
	h, err := r.openHost(ctx, "serve", opts)
	if err != nil {
		return err
	}
	defer h.close()

	fmt.Fprintf(r.Stderr, "listening on %s\n", h.socketPath)
	return h.serve(ctx, func(ctx context.Context) {
		<-ctx.Done()
		if h.ctrl.State().Live() {
			h.ctrl.Stop()
		}
		h.waitIdle()
	})
}

func (r Runner) openHost(ctx context.Context, command string, opts cli.Options) (*host, error) {
	env, err := r.setup(command, opts)
	if err != nil {
		return nil, err
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		env.close()
		return nil, err
	}
	listener, err := ipc.Acquire(ctx, socketPath, acquireProbeTimeout, acquireRetries)
	if err != nil {
		env.close()
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			return nil, fmt.Errorf("%w; use \"talkingbot start\" or \"talkingbot stop\"", err)
		}
		return nil, err
	}

	h := &host{r: r, env: env, socketPath: socketPath, listener: listener}
	if err := h.build(); err != nil {
		h.close()
		return nil, err
	}
	return h, nil
}

func (h *host) build() error {
	cfg := h.env.loaded.Config
	h.feed = eventlog.NewFeed(h.env.logger)

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New(nil)
		h.exporter = metrics.NewExporter(m.Collectors()...)
	}

	build := h.r.BuildSession
	if build == nil {
		build = pipeline.ControllerConfig
	}
	sessCfg, err := build(cfg, h.feed, h.env.logger, m)
	if err != nil {
		return err
	}
	sessCfg.Feed = h.feed
	h.ctrl = session.NewController(sessCfg)
	return nil
}

// serve runs the IPC server and event consumers around body.
func (h *host) serve(ctx context.Context, body func(context.Context)) error {
	cfg := h.env.loaded.Config
	auxCtx, stopAux := context.WithCancel(context.Background())
	defer stopAux()
	g, gctx := errgroup.WithContext(auxCtx)

	events, unsubscribe := h.feed.Subscribe(consoleBuffer)
	g.Go(func() error {
		console.New(h.r.Stdout).Run(context.Background(), events)
		return nil
	})

	unsubscribeDump := func() {}
	if cfg.Debug.EnableEventDump {
		dump, path, err := logging.OpenEventDump()
		if err != nil {
			fmt.Fprintf(h.r.Stderr, "warning: event dump disabled: %v\n", err)
		} else {
			h.env.logger.Info("event dump enabled", "path", path)
			var dumpEvents <-chan eventlog.Event
			dumpEvents, unsubscribeDump = h.feed.Subscribe(consoleBuffer)
			g.Go(func() error {
				defer dump.Close()
				if err := writeEventDump(dump, dumpEvents); err != nil {
					h.env.logger.Warn("event dump stopped", "error", err.Error())
					for range dumpEvents {
					}
				}
				return nil
			})
		}
	}

	if h.exporter != nil {
		g.Go(func() error {
			if err := h.exporter.Serve(cfg.Metrics.Addr); err != nil {
				fmt.Fprintf(h.r.Stderr, "warning: metrics exporter: %v\n", err)
				h.env.logger.Warn("metrics exporter failed", "addr", cfg.Metrics.Addr, "error", err.Error())
			}
			return nil
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- ipc.Serve(gctx, h.listener, h.ctrl)
	}()

	body(ctx)

	stopAux()
	err := <-serveErr
	if h.exporter != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = h.exporter.Shutdown(shutdownCtx)
		cancel()
	}
	unsubscribe()
	unsubscribeDump()
	if waitErr := g.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	if err != nil {
		return fmt.Errorf("ipc server failed: %w", err)
	}
	return nil
}

// waitIdle waits for the live conversation to finish, bounded by shutdownTimeout.
func (h *host) waitIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.ctrl.Wait(ctx); err != nil {
		h.env.logger.Warn("conversation did not finish before shutdown", "error", err.Error())
	}
}

func (h *host) close() {
	if h.listener != nil {
		_ = h.listener.Close()
		_ = os.Remove(h.socketPath)
	}
	h.env.close()
}

func writeEventDump(f *os.File, events <-chan eventlog.Event) error {
	w := bufio.NewWriter(f)
	for ev := range events {
		if !ev.NewLine {
			continue
		}
		if _, err := fmt.Fprintln(w, ev.Line()); err != nil {
			return fmt.Errorf("write event dump: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("write event dump: %w", err)
		}
	}
	return w.Flush()
}
