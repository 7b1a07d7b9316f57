// Package worker runs relay under selected concurrency strategy.
// Thread runs relay goroutine in supervisor process.
// Process runs isolated child and feeds it over stdin, one message per line.
package worker

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/trackrelay/log2"
	"github.com/temoto/trackrelay/tracker"
	tracker_config "github.com/temoto/trackrelay/tracker/config"
	"github.com/temoto/trackrelay/tracker/mqttsource"
	"github.com/temoto/trackrelay/tracker/spool"
)

type Worker interface {
	Start(ctx context.Context) error
	// Push hands operator message to relay.
	Push(b []byte) error
	// ID is "thread" or "pid=N".
	ID() string
	// Stop blocks until relay is finished.
	Stop() error
}

type Options struct {
	Config tracker_config.Config
	Log    *log2.Log
	Stat   *tracker.Stat

	// Thread: nil means TCPLink per Config.
	Link tracker.Link
	// Thread: nil means Config.Source.
	Source Source

	// Process: child argv, must run `worker` subcommand or compatible line reader.
	Command []string
}

func New(opt Options) (Worker, error) {
	switch opt.Config.Mode {
	case tracker_config.ModeThread, "":
		return NewThread(opt), nil
	case tracker_config.ModeProcess:
		return NewProcess(opt), nil
	}
	return nil, errors.NotSupportedf("worker mode=%s", opt.Config.Mode)
}

// Source is message source which also accepts local pushes.
type Source interface {
	tracker.Source
	Push(b []byte) error
	Close() error
}

type memSource struct{ *tracker.MemQueue }

func (memSource) Close() error { return nil }

func OpenSource(c *tracker_config.Config, log *log2.Log) (Source, error) {
	switch c.Source {
	case tracker_config.SourceMemory, "":
		return memSource{tracker.NewMemQueue(c.PayloadLimit, 0)}, nil

	case tracker_config.SourceSpool:
		s, err := spool.Open(c.SpoolPath, spool.Options{Log: log, Limit: c.PayloadLimit})
		if err != nil {
			return nil, errors.Annotate(err, "source=spool")
		}
		return s, nil

	case tracker_config.SourceMQTT:
		s, err := mqttsource.New(mqttsource.Options{
			Broker:   c.Mqtt.Broker,
			Topic:    c.Mqtt.Topic,
			ClientID: fmt.Sprintf("trackrelay-%d", c.SourceID),
			Limit:    c.PayloadLimit,
			Log:      log,
		})
		if err != nil {
			return nil, errors.Annotate(err, "source=mqtt")
		}
		return s, nil
	}
	return nil, errors.NotSupportedf("source=%s", c.Source)
}

// NewLink makes TCPLink with parameters from config.
func NewLink(c *tracker_config.Config, log *log2.Log, stat *tracker.Stat) *tracker.TCPLink {
	return tracker.NewTCPLink(tracker.LinkOptions{
		Host:           c.Host,
		Port:           c.Port,
		RetryDelay:     c.RetryDelay(),
		NetworkTimeout: c.NetworkTimeout(),
		PollTimeout:    c.PollTimeout(),
		Log:            log,
		Stat:           stat,
	})
}

// NewRelay wires link and source with parameters from config.
func NewRelay(c *tracker_config.Config, log *log2.Log, stat *tracker.Stat, link tracker.Link, source tracker.Source) (*tracker.Relay, error) {
	return tracker.NewRelay(tracker.RelayOptions{
		Link:       link,
		Source:     source,
		Log:        log,
		Stat:       stat,
		TickRate:   c.TickRate,
		ReadLimit:  c.ReadLimit,
		Foreground: c.Foreground || c.LogDebug,
	})
}
