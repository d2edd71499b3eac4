package bench

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// creditSink writes download chunks to the task's file and grants read-window
// credit only after each chunk has been written, so credit never runs ahead
// of durable bytes. Chunks may arrive before Begin has returned the transfer
// handle; their credit accumulates and is granted when the handle attaches.
type creditSink struct {
	f *os.File

	mu      sync.Mutex
	tr      Transfer
	pending int64
}

func newCreditSink(key string) (*creditSink, error) {
	if dir := filepath.Dir(key); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating download directory failed: %w", err)
		}
	}
	f, err := os.Create(key)
	if err != nil {
		return nil, fmt.Errorf("creating download file failed: %w", err)
	}
	return &creditSink{f: f}, nil
}

func (s *creditSink) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if n > 0 {
		s.grant(int64(n))
	}
	if err != nil {
		return n, fmt.Errorf("writing download chunk failed: %w", err)
	}
	return n, nil
}

func (s *creditSink) grant(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		s.pending += n
		return
	}
	s.tr.GrantReadWindow(n)
}

// attach hands the sink its transfer handle once Begin has returned, flushing
// credit for any chunks written in the meantime.
func (s *creditSink) attach(tr Transfer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tr = tr
	if s.pending > 0 {
		tr.GrantReadWindow(s.pending)
		s.pending = 0
	}
}

func (s *creditSink) Close() error {
	return s.f.Close()
}
