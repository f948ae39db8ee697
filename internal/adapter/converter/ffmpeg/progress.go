package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/bnema/transcoder/internal/port"
)

// progressParser turns the key=value blocks ffmpeg writes with
// "-progress pipe:1" into percentages of the input duration.
type progressParser struct {
	duration float64
	report   port.ProgressFunc
	last     float64
	done     bool
}

func newProgressParser(duration float64, report port.ProgressFunc) *progressParser {
	return &progressParser{duration: duration, report: report, last: -1}
}

func (p *progressParser) consume(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.line(sc.Text())
	}
	// Keep draining so ffmpeg never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

func (p *progressParser) line(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}

	switch key {
	case "out_time_us", "out_time_ms":
		// Both are microseconds in ffmpeg's output.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || p.duration <= 0 {
			return
		}
		p.emit(float64(us) / 1e6 / p.duration * 100)
	case "progress":
		// The final 100 waits for a clean exit; see finish.
		if value == "end" {
			p.done = true
		}
	}
}

func (p *progressParser) emit(percent float64) {
	if p.report == nil || p.done {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent <= p.last {
		return
	}
	p.last = percent
	p.report(percent)
}

// finish reports completion once, after ffmpeg exited successfully.
func (p *progressParser) finish() {
	if p.report != nil && p.last < 100 {
		p.last = 100
		p.report(100)
	}
	p.done = true
}

// tailBuffer keeps the last size bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	size int
	buf  []byte
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.size; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
