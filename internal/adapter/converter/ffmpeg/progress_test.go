package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect() (*[]float64, func(float64)) {
	var got []float64
	return &got, func(p float64) { got = append(got, p) }
}

func TestProgressParser(t *testing.T) {
	got, report := collect()
	p := newProgressParser(10, report)

	p.consume(strings.NewReader(strings.Join([]string{
		"frame=1",
		"out_time_us=2500000",
		"progress=continue",
		"out_time_ms=2500000", // same position, not reported twice
		"out_time_us=N/A",
		"out_time_us=5000000",
		"out_time_us=4000000", // never goes backwards
		"progress=end",
		"out_time_us=9000000", // ignored after end
	}, "\n")))

	assert.Equal(t, []float64{25, 50}, *got)
	p.finish()
	assert.Equal(t, []float64{25, 50, 100}, *got)
}

func TestProgressParser_ClampsAndNeedsDuration(t *testing.T) {
	got, report := collect()
	p := newProgressParser(2, report)
	p.line("out_time_us=3000000")
	assert.Equal(t, []float64{100}, *got)

	got, report = collect()
	p = newProgressParser(0, report)
	p.line("out_time_us=3000000")
	assert.Empty(t, *got)
	p.finish()
	p.finish()
	assert.Equal(t, []float64{100}, *got)
}

func TestProgressParser_NilReporter(t *testing.T) {
	p := newProgressParser(10, nil)
	p.line("out_time_us=1000000")
	p.finish()
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(8)
	_, _ = tb.Write([]byte("hello "))
	_, _ = tb.Write([]byte("world!"))
	assert.Equal(t, "o world!", tb.String())
}
