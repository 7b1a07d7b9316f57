package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/trackrelay/helpers"
	"github.com/temoto/trackrelay/tracker"
)

const DefaultStopGrace = 5 * time.Second

// Process runs relay in child process. Supervisor keeps only PID and stdin pipe.
type Process struct {
	opt       Options
	stopGrace time.Duration
	stdout    io.Writer
	stderr    io.Writer

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	done    chan struct{}
	waitErr error
	stop    sync.Once
}

var _ Worker = &Process{}

func NewProcess(opt Options) *Process {
	if len(opt.Command) == 0 {
		opt.Command = []string{os.Args[0], "worker"}
	}
	return &Process{
		opt:       opt,
		stopGrace: DefaultStopGrace,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
}

func (p *Process) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return "pid=none"
	}
	return fmt.Sprintf("pid=%d", p.cmd.Process.Pid)
}

func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return errors.Errorf("code error process already started")
	}
	cmd := exec.Command(p.opt.Command[0], p.opt.Command[1:]...)
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Annotate(err, "process stdin")
	}
	if err = cmd.Start(); err != nil {
		return errors.Annotatef(err, "process start command=%v", p.opt.Command)
	}
	p.cmd = cmd
	p.stdin = stdin
	p.done = make(chan struct{})
	p.opt.Log.Infof("worker started pid=%d", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		p.opt.Log.Debugf("worker pid=%d exit err=%v", cmd.Process.Pid, err)
		close(p.done)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Stop()
		case <-p.done:
		}
	}()
	return nil
}

// Push writes one line to child stdin.
func (p *Process) Push(b []byte) error {
	if len(b) == 0 {
		return errors.NotValidf("push empty payload")
	}
	if bytes.IndexByte(b, '\n') >= 0 {
		return errors.NotValidf("payload with newline")
	}
	if limit := p.opt.Config.PayloadLimit; limit > 0 && len(b) > limit {
		return errors.Annotatef(tracker.ErrPayloadTooLarge, "length=%d limit=%d", len(b), limit)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return errors.Annotate(tracker.ErrClosed, "process not running")
	}
	line := make([]byte, 0, len(b)+1)
	line = append(append(line, b...), '\n')
	if _, err := helpers.WriteAll(p.stdin, line); err != nil {
		return errors.Annotatef(err, "process pid=%d push", p.cmd.Process.Pid)
	}
	return nil
}

// Done is closed when child exits.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stop closes stdin, then interrupts and finally kills child that does not exit in time.
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd, stdin, done := p.cmd, p.stdin, p.done
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}
	p.stop.Do(func() {
		p.mu.Lock()
		p.stdin = nil
		p.mu.Unlock()
		_ = stdin.Close()
		select {
		case <-done:
			return
		case <-time.After(p.stopGrace):
		}
		p.opt.Log.Errorf("worker pid=%d did not exit on stdin close, interrupt", cmd.Process.Pid)
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-done:
			return
		case <-time.After(p.stopGrace):
		}
		p.opt.Log.Errorf("worker pid=%d kill", cmd.Process.Pid)
		_ = cmd.Process.Kill()
	})
	<-done
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waitErr != nil {
		return errors.Annotatef(p.waitErr, "worker pid=%d", cmd.Process.Pid)
	}
	return nil
}
