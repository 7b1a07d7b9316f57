// Package spool is durable message source backed by spq persistent queue.
// Record stays on disk until relay pulls next message, so messages handed
// to relay but not finished are delivered again after restart.
package spool

import (
	"sync"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/spq"
	"github.com/temoto/trackrelay/log2"
	"github.com/temoto/trackrelay/tracker"
)

// OnlyForTesting opens in-memory queue.
const OnlyForTesting = spq.OnlyForTesting

// denote value type in persistent queue bytes form
const (
	kindPayload uint64 = 1
)

type Options struct {
	Log *log2.Log
	// Limit is max payload length, 0 means tracker.DefaultPayloadLimit
	Limit int
}

type Spool struct {
	alive *alive.Alive
	log   *log2.Log
	limit int
	q     *spq.Queue
	ch    chan record
	next  chan struct{}

	mu          sync.Mutex
	outstanding bool
}

type record struct {
	b   []byte
	err error
}

var _ tracker.Source = &Spool{}

func Open(path string, opt Options) (*Spool, error) {
	if opt.Limit <= 0 {
		opt.Limit = tracker.DefaultPayloadLimit
	}
	q, err := spq.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "spool open path=%s", path)
	}
	s := &Spool{
		alive: alive.NewAlive(),
		log:   opt.Log,
		limit: opt.Limit,
		q:     q,
		ch:    make(chan record),
		next:  make(chan struct{}),
	}
	s.alive.Add(1)
	go s.worker()
	return s, nil
}

func (s *Spool) Close() error {
	s.alive.Stop()
	err := s.q.Close()
	s.alive.Wait()
	return err
}

func (s *Spool) Push(b []byte) error {
	if len(b) == 0 {
		return errors.NotValidf("spool push empty payload")
	}
	if len(b) > s.limit {
		return errors.Annotatef(tracker.ErrPayloadTooLarge, "length=%d limit=%d", len(b), s.limit)
	}
	bs, err := encode(kindPayload, b)
	if err != nil {
		return errors.Annotate(err, "spool encode")
	}
	if err = s.q.Push(bs); err != nil {
		return errors.Annotate(err, "spool push")
	}
	return nil
}

// TryReceive never blocks. Each call confirms previous message is finished.
func (s *Spool) TryReceive() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.IsRunning() {
		return nil, tracker.ErrClosed
	}
	if s.outstanding {
		select {
		case s.next <- struct{}{}:
			s.outstanding = false
		default:
			return nil, tracker.ErrNoMessage
		}
	}
	select {
	case r := <-s.ch:
		if r.err != nil {
			return nil, r.err
		}
		s.outstanding = true
		return r.b, nil
	default:
		return nil, tracker.ErrNoMessage
	}
}

func (s *Spool) worker() {
	defer s.alive.Done()
	stopch := s.alive.StopChan()
	for {
		box, err := s.q.Peek()
		switch err {
		case nil:
		case spq.ErrClosed:
			if s.alive.IsRunning() {
				s.log.Errorf("CRITICAL spool closed unexpectedly")
			}
			return
		default:
			select {
			case s.ch <- record{err: errors.Annotate(err, "spool peek")}:
			case <-stopch:
				return
			}
			continue
		}

		b, err := decode(box.Bytes())
		select {
		case s.ch <- record{b: b, err: err}:
		case <-stopch:
			return
		}
		if err == nil {
			select {
			case <-s.next:
			case <-stopch:
				return
			}
		}
		if err = s.q.Delete(box); err != nil && err != spq.ErrClosed {
			s.log.Errorf("spool Delete err=%v", err)
		}
	}
}

func encode(kind uint64, b []byte) ([]byte, error) {
	buf := proto.NewBuffer(make([]byte, 0, len(b)+8))
	if err := buf.EncodeVarint(kind); err != nil {
		return nil, err
	}
	if err := buf.EncodeRawBytes(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(bs []byte) ([]byte, error) {
	if len(bs) == 0 {
		return nil, errors.NotValidf("spool record empty")
	}
	buf := proto.NewBuffer(bs)
	kind, err := buf.DecodeVarint()
	if err != nil {
		return nil, errors.Annotatef(err, "spool record=%x", bs)
	}
	if kind != kindPayload {
		return nil, errors.NotValidf("spool record kind=%d", kind)
	}
	b, err := buf.DecodeRawBytes(true)
	if err != nil {
		return nil, errors.Annotatef(err, "spool record=%x", bs)
	}
	return b, nil
}
