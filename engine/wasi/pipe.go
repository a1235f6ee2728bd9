package wasi

import (
	"bytes"
	"sync"
)

// Pipe collects guest stderr without ever blocking the writer.
// Drain hands back and clears whatever was written since the last drain.
type Pipe struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Write(b)
}

// Drain returns the buffered text and resets the pipe.
func (p *Pipe) Drain() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.buf.String()
	p.buf.Reset()
	return s
}

// Len reports the number of buffered bytes.
func (p *Pipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}
