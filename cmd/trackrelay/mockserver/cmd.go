// Acknowledging tracker server for manual testing.
package mockserver

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/temoto/trackrelay/cmd/trackrelay/subcmd"
	"github.com/temoto/trackrelay/internal/state"
	"github.com/temoto/trackrelay/tracker/trackertest"
)

const modName = "mock-server"

var Mod = subcmd.Mod{Name: modName, Usage: "listen on tracker.host:port, acknowledge every message", Main: Main}

const pingInterval = 60 * time.Second

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	c := &config.Tracker
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	srv, err := trackertest.Listen(addr, trackertest.ServerOptions{
		Log:          g.Log,
		AutoAck:      true,
		PingInterval: pingInterval,
	})
	if err != nil {
		return err
	}
	g.Log.Infof("mock server listen=%s", srv.Addr())
	subcmd.SdNotify(daemon.SdNotifyReady)
	<-ctx.Done()
	return srv.Close()
}
