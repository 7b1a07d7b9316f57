// Support sub-commands in trackrelay application.
package subcmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/trackrelay/internal/state"
	"github.com/temoto/trackrelay/log2"
	"github.com/temoto/trackrelay/tracker"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(context.Context, *state.Config) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s'", command)
	}
	return found, nil
}

func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}

// ServeMetrics exposes relay stat at /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, stat *tracker.Stat, sourceID int) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(tracker.NewCollector(stat, sourceID)); err != nil {
		return errors.Annotate(err, "metrics register")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Annotatef(err, "metrics listen=%s", addr)
	}
	return nil
}

// RejectLine reports oversized input line as ErrPayloadTooLarge, input goes on.
func RejectLine(log *log2.Log, limit int) func(length int) {
	return func(length int) {
		err := errors.Annotatef(tracker.ErrPayloadTooLarge, "input line length=%d limit=%d", length, limit)
		log.Errorf("push err=%v", err)
	}
}
