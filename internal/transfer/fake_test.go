package transfer

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// scriptedStream replays one segment per Read. After the segments it
// returns failErr, blocks until closed when block is set, or reports EOF.
type scriptedStream struct {
	mu       sync.Mutex
	segments [][]byte
	failErr  error
	block    bool

	written bytes.Buffer
	closed  chan struct{}
	closes  atomic.Int32
}

func newScriptedStream(segments ...string) *scriptedStream {
	s := &scriptedStream{closed: make(chan struct{})}
	for _, seg := range segments {
		s.segments = append(s.segments, []byte(seg))
	}
	return s
}

func (s *scriptedStream) Read(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, net.ErrClosed
	default:
	}

	s.mu.Lock()
	if len(s.segments) > 0 {
		seg := s.segments[0]
		n := copy(p, seg)
		if n < len(seg) {
			s.segments[0] = seg[n:]
		} else {
			s.segments = s.segments[1:]
		}
		s.mu.Unlock()
		return n, nil
	}
	failErr, block := s.failErr, s.block
	s.mu.Unlock()

	if failErr != nil {
		return 0, failErr
	}
	if block {
		<-s.closed
		return 0, net.ErrClosed
	}
	return 0, io.EOF
}

func (s *scriptedStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.Write(p)
}

func (s *scriptedStream) Close() error {
	if s.closes.Add(1) == 1 {
		close(s.closed)
	}
	return nil
}

func (s *scriptedStream) request() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

// fakeConnector hands out a single stream and counts Connect calls.
type fakeConnector struct {
	stream io.ReadWriteCloser
	err    error
	calls  atomic.Int32

	lastHost string
	lastPort uint16
}

func (f *fakeConnector) Connect(_ context.Context, host string, port uint16) (io.ReadWriteCloser, error) {
	f.calls.Add(1)
	f.lastHost = host
	f.lastPort = port
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

// recordingSink records every sink call in order.
type recordingSink struct {
	mu     sync.Mutex
	events []ProgressEvent
	onCall func(ProgressEvent)
}

func (r *recordingSink) record(e ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	if r.onCall != nil {
		r.onCall(e)
	}
}

func (r *recordingSink) OnChunk(length int) {
	r.record(ProgressEvent{Kind: EventProgress, ChunkLength: length})
}

func (r *recordingSink) OnFinished() {
	r.record(ProgressEvent{Kind: EventFinished})
}

func (r *recordingSink) chunks() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		if e.Kind == EventProgress {
			out = append(out, e.ChunkLength)
		}
	}
	return out
}

func (r *recordingSink) finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == EventFinished {
			return true
		}
	}
	return false
}
