// Child side of process mode: reads messages from stdin, one per line,
// and relays them until stdin is closed or signal arrives.
package workercmd

import (
	"context"
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/trackrelay/cmd/trackrelay/subcmd"
	"github.com/temoto/trackrelay/helpers"
	"github.com/temoto/trackrelay/internal/state"
	"github.com/temoto/trackrelay/internal/worker"
	"github.com/temoto/trackrelay/tracker"
	tracker_config "github.com/temoto/trackrelay/tracker/config"
)

const modName = "worker"

var Mod = subcmd.Mod{Name: modName, Usage: "relay loop fed by stdin lines, spawned by run in process mode", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	c := &config.Tracker
	g.Log.Infof("worker pid=%d", os.Getpid())
	return serve(ctx, g, c, os.Stdin, worker.NewLink(c, g.Log, g.Stat))
}

// serve relays input lines and configured source over link until input is closed or ctx is done.
func serve(ctx context.Context, g *state.Global, c *tracker_config.Config, input io.Reader, link tracker.Link) error {
	source, err := worker.OpenSource(c, g.Log)
	if err != nil {
		return errors.Annotate(err, modName)
	}
	defer source.Close()
	relay, err := worker.NewRelay(c, g.Log, g.Stat, link, source)
	if err != nil {
		return errors.Annotate(err, modName)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		err := helpers.ScanLines(input, c.PayloadLimit, func(b []byte) error {
			if err := source.Push(b); err != nil {
				g.Log.Errorf("push err=%v", err)
			}
			return nil
		}, subcmd.RejectLine(g.Log, c.PayloadLimit))
		g.Log.Debugf("stdin closed err=%v", err)
	}()
	if c.MetricsListen != "" && g.Alive.Add(1) {
		go func() {
			defer g.Alive.Done()
			if err := subcmd.ServeMetrics(ctx, c.MetricsListen, g.Stat, c.SourceID); err != nil {
				g.Log.Errorf("%v", err)
			}
		}()
	}

	err = relay.Run(ctx)
	g.Log.Debugf("worker stop stat=%s", g.Stat.String())
	if err == context.Canceled {
		return nil
	}
	return err
}
