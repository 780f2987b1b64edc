package download

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
)

// responseStream replays a canned HTTP response split into chunks.
// When gate is non-nil, the first Read waits for it to be closed.
type responseStream struct {
	mu     sync.Mutex
	chunks []string
	gate   <-chan struct{}
	closed chan struct{}
	once   sync.Once
}

func (s *responseStream) Read(p []byte) (int, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.closed:
			return 0, net.ErrClosed
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	if n < len(s.chunks[0]) {
		s.chunks[0] = s.chunks[0][n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *responseStream) Write(p []byte) (int, error) { return len(p), nil }

func (s *responseStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeSite is what one onion host answers.
type fakeSite struct {
	status int
	body   []string
	gate   <-chan struct{}
}

// fakeNetwork routes Connect calls by host.
type fakeNetwork struct {
	sites map[string]fakeSite
}

func (f *fakeNetwork) Connect(_ context.Context, host string, _ uint16) (io.ReadWriteCloser, error) {
	site, ok := f.sites[host]
	if !ok {
		return nil, fmt.Errorf("no route to %s", host)
	}

	total := 0
	for _, b := range site.body {
		total += len(b)
	}
	head := fmt.Sprintf("HTTP/1.1 %d Status\r\nContent-Length: %d\r\n\r\n", site.status, total)

	return &responseStream{
		chunks: append([]string{head}, site.body...),
		gate:   site.gate,
		closed: make(chan struct{}),
	}, nil
}

// eventLog records sink calls.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) OnChunk(length int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, fmt.Sprintf("chunk:%d", length))
}

func (e *eventLog) OnFinished() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "finished")
}

func (e *eventLog) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.events, ",")
}
