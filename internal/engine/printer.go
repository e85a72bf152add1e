package engine

import (
	"fmt"
	"io"
	"sync"
)

// WriterPrinter writes chat output to a plain terminal. Sent lines are not
// echoed since the terminal already shows what was typed.
type WriterPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterPrinter(w io.Writer) *WriterPrinter {
	return &WriterPrinter{w: w}
}

func (p *WriterPrinter) Info(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *WriterPrinter) Warn(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, "Warning: "+line)
}

func (p *WriterPrinter) Echo(string) {}
