// Package telemetry records sampled per-operation traces to files under the
// data directory, off the hot path via an async writer.
package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Step struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration_ms"`
}

type Trace struct {
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	Steps    []Step    `json:"steps"`
	TotalMS  float64   `json:"total_ms"`
	lastMark time.Time
	tel      *Telemetry
}

// Telemetry manages async writing of traces to per-op files.
type Telemetry struct {
	dir      string
	mu       sync.Mutex
	files    map[string]*os.File
	buffers  map[string]*bufio.Writer
	traces   chan *Trace
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	flushInt time.Duration

	sampleRate float64
	slow       time.Duration
}

var tel *Telemetry

// Init initializes the global telemetry instance. A zero sampleRate keeps
// only slow traces.
func Init(dir string, sampleRate float64, slowThreshold time.Duration) {
	tel, _ = New(dir, sampleRate, slowThreshold)
}

// Track starts a new trace using the global telemetry instance. Returns a
// usable no-op trace when telemetry is not initialized.
func Track(name string) *Trace {
	if tel == nil {
		now := time.Now()
		return &Trace{Name: name, Start: now, lastMark: now}
	}
	return tel.Track(name)
}

// Close stops the global telemetry instance.
func Close() {
	if tel != nil {
		tel.Close()
		tel = nil
	}
}

// New creates a telemetry subsystem with an async background writer.
func New(dir string, sampleRate float64, slowThreshold time.Duration) (*Telemetry, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	t := &Telemetry{
		dir:        dir,
		files:      make(map[string]*os.File),
		buffers:    make(map[string]*bufio.Writer),
		traces:     make(chan *Trace, 2048),
		stopCh:     make(chan struct{}),
		flushInt:   2 * time.Second,
		sampleRate: sampleRate,
		slow:       slowThreshold,
	}
	t.wg.Add(1)
	go t.writerLoop()
	return t, nil
}

// Track starts a new trace linked to this telemetry.
func (t *Telemetry) Track(name string) *Trace {
	now := time.Now()
	return &Trace{Name: name, Start: now, lastMark: now, tel: t}
}

// Mark records the elapsed duration since the last mark.
func (tr *Trace) Mark(label string) {
	now := time.Now()
	delta := now.Sub(tr.lastMark).Seconds() * 1000
	tr.Steps = append(tr.Steps, Step{Name: label, Duration: delta})
	tr.lastMark = now
}

// Finish finalizes the trace and enqueues it for background writing when it
// is sampled or slow. Safe to call via defer.
func (tr *Trace) Finish() {
	if tr.tel == nil {
		return
	}
	tr.TotalMS = time.Since(tr.Start).Seconds() * 1000
	keep := tr.TotalMS >= tr.tel.slow.Seconds()*1000
	if !keep && tr.tel.sampleRate > 0 {
		keep = rand.Float64() < tr.tel.sampleRate
	}
	if !keep {
		return
	}
	select {
	case tr.tel.traces <- tr:
	default:
		// drop when the queue is full rather than block an operation
	}
}

func (t *Telemetry) writerLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.flushInt)
	defer ticker.Stop()
	for {
		select {
		case tr := <-t.traces:
			t.write(tr)
		case <-ticker.C:
			t.flushAll()
		case <-t.stopCh:
			for {
				select {
				case tr := <-t.traces:
					t.write(tr)
				default:
					t.flushAll()
					t.closeAll()
					return
				}
			}
		}
	}
}

func (t *Telemetry) write(tr *Trace) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf, ok := t.buffers[tr.Name]
	if !ok {
		path := filepath.Join(t.dir, fmt.Sprintf("%s.jsonl", tr.Name))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return
		}
		t.files[tr.Name] = f
		buf = bufio.NewWriterSize(f, 8192)
		t.buffers[tr.Name] = buf
	}
	b, err := json.Marshal(tr)
	if err != nil {
		return
	}
	buf.Write(b)
	buf.WriteByte('\n')
}

func (t *Telemetry) flushAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, buf := range t.buffers {
		buf.Flush()
	}
}

func (t *Telemetry) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.files {
		f.Close()
	}
}

// Close drains queued traces and closes all trace files.
func (t *Telemetry) Close() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.wg.Wait()
	})
}
