package worker

import (
	"context"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/trackrelay/helpers"
	"github.com/temoto/trackrelay/tracker"
)

// Thread runs relay in goroutine of current process.
// Push is safe from any goroutine, source does its own locking.
type Thread struct {
	alive  *alive.Alive
	cancel context.CancelFunc
	opt    Options
	source Source
	relay  *tracker.Relay
	err    helpers.AtomicError
}

var _ Worker = &Thread{}

func NewThread(opt Options) *Thread {
	if opt.Stat == nil {
		opt.Stat = &tracker.Stat{}
	}
	return &Thread{alive: alive.NewAlive(), opt: opt}
}

func (t *Thread) ID() string { return "thread" }

func (t *Thread) Relay() *tracker.Relay { return t.relay }

func (t *Thread) Start(ctx context.Context) error {
	t.source = t.opt.Source
	if t.source == nil {
		var err error
		if t.source, err = OpenSource(&t.opt.Config, t.opt.Log); err != nil {
			return err
		}
	}
	link := t.opt.Link
	if link == nil {
		link = NewLink(&t.opt.Config, t.opt.Log, t.opt.Stat)
	}
	relay, err := NewRelay(&t.opt.Config, t.opt.Log, t.opt.Stat, link, t.source)
	if err != nil {
		return errors.Annotate(err, "thread")
	}
	t.relay = relay

	if !t.alive.Add(1) {
		return errors.Annotate(tracker.ErrClosed, "thread start")
	}
	ctx, t.cancel = context.WithCancel(ctx)
	go func() {
		defer t.alive.Done()
		defer t.alive.Stop()
		err := t.relay.Run(ctx)
		if err != nil && err != context.Canceled {
			_, _ = t.err.StoreOnce(err)
		}
		t.opt.Log.Debugf("thread relay finished err=%v", err)
	}()
	return nil
}

func (t *Thread) Push(b []byte) error {
	if t.source == nil {
		return errors.Annotate(tracker.ErrClosed, "thread not started")
	}
	return t.source.Push(b)
}

// Stop cancels relay, waits for it and closes source.
func (t *Thread) Stop() error {
	t.alive.Stop()
	if t.cancel != nil {
		t.cancel()
	}
	t.alive.Wait()
	errs := make([]error, 0, 2)
	if err, ok := t.err.Load(); ok {
		errs = append(errs, err)
	}
	if t.source != nil && t.opt.Source == nil {
		errs = append(errs, t.source.Close())
	}
	return helpers.FoldErrors(errs)
}

// Done is closed when relay goroutine exits.
func (t *Thread) Done() <-chan struct{} { return t.alive.StopChan() }
