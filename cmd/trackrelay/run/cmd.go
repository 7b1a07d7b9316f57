// Supervisor mode: operator input is relayed to tracker server by worker.
package run

import (
	"context"
	"os"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/trackrelay/cmd/trackrelay/subcmd"
	"github.com/temoto/trackrelay/helpers/cli"
	"github.com/temoto/trackrelay/internal/state"
	"github.com/temoto/trackrelay/internal/worker"
	tracker_config "github.com/temoto/trackrelay/tracker/config"
)

const modName = "run"

var Mod = subcmd.Mod{Name: modName, Usage: "relay operator input and configured source to tracker server", Main: Main}

// inputLoop blocks until operator input is exhausted.
type inputLoop func(exec func(line string), reject func(length int)) error

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	c := &config.Tracker

	w, err := worker.New(worker.Options{
		Config:  *c,
		Log:     g.Log,
		Stat:    g.Stat,
		Command: []string{os.Args[0], "-config", g.ConfigPath, "worker"},
	})
	if err != nil {
		return errors.Annotate(err, modName)
	}
	return serve(ctx, g, c, w, func(exec func(string), reject func(int)) error {
		return cli.MainLoop("trackrelay", c.PayloadLimit, exec, reject)
	})
}

// serve runs w until ctx is done or g.Alive is stopped.
// With memory source, end of input also stops.
func serve(ctx context.Context, g *state.Global, c *tracker_config.Config, w worker.Worker, input inputLoop) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := w.Start(ctx); err != nil {
		return errors.Annotate(err, "worker start")
	}
	g.Log.Infof("relay started mode=%s worker=%s server=%s:%d source=%s", c.Mode, w.ID(), c.Host, c.Port, c.Source)

	// process mode child serves its own metrics
	if c.MetricsListen != "" && c.Mode != tracker_config.ModeProcess && g.Alive.Add(1) {
		go func() {
			defer g.Alive.Done()
			if err := subcmd.ServeMetrics(ctx, c.MetricsListen, g.Stat, c.SourceID); err != nil {
				g.Log.Errorf("%v", err)
			}
		}()
	}
	subcmd.SdNotify(daemon.SdNotifyReady)

	inputDone := make(chan error, 1)
	go func() {
		inputDone <- input(func(line string) {
			if line == "" {
				return
			}
			if err := w.Push([]byte(line)); err != nil {
				g.Log.Errorf("push err=%v", err)
			}
		}, subcmd.RejectLine(g.Log, c.PayloadLimit))
	}()

	select {
	case <-ctx.Done():
	case <-g.Alive.StopChan():
	case err := <-inputDone:
		if err != nil {
			g.Log.Errorf("input err=%v", err)
		}
		if c.Source == tracker_config.SourceMemory || c.Source == "" {
			g.Log.Infof("input closed, stopping")
			break
		}
		g.Log.Infof("input closed, relay continues until interrupted")
		select {
		case <-ctx.Done():
		case <-g.Alive.StopChan():
		}
	}
	subcmd.SdNotify(daemon.SdNotifyStopping)
	g.Log.Debugf("stopping worker=%s stat=%s", w.ID(), g.Stat.String())
	return w.Stop()
}
