// Package feedback emits the audible cues that tell a gate operator whether
// a scan was accepted without looking at the screen.
package feedback

import (
	"encoding/binary"
	"io"
	"math"
	"time"
)

// Signaler plays the outcome cue for one completed submission.
type Signaler interface {
	Success()
	Failure()
}

// Silent swallows all cues, for headless runs and tests.
type Silent struct{}

func (Silent) Success() {}
func (Silent) Failure() {}

type tone struct {
	freq float64
	dur  time.Duration
}

// Patterns per outcome: a rising two-tone chime for accepted scans and a
// single low tone for rejections.
var (
	successPattern = []tone{{800, 100 * time.Millisecond}, {1200, 100 * time.Millisecond}}
	failurePattern = []tone{{300, 400 * time.Millisecond}}
)

// Synth renders tone patterns as 16-bit little-endian mono PCM and writes
// the frames to a sink, typically an audio device file.
type Synth struct {
	Out        io.Writer
	SampleRate int
	Volume     float64
}

// NewSynth creates a synth with a 22.05 kHz sample rate.
func NewSynth(out io.Writer) *Synth {
	return &Synth{Out: out, SampleRate: 22050, Volume: 0.3}
}

// Success plays the rising two-tone chime.
func (s *Synth) Success() { s.play(successPattern) }

// Failure plays the single low tone.
func (s *Synth) Failure() { s.play(failurePattern) }

// play writes one pattern; write errors are dropped since feedback is
// best effort and must never disturb the submission path.
func (s *Synth) play(pattern []tone) {
	for _, t := range pattern {
		_, _ = s.Out.Write(s.render(t))
	}
}

func (s *Synth) render(t tone) []byte {
	n := int(float64(s.SampleRate) * t.dur.Seconds())
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := s.Volume * math.Sin(2*math.Pi*t.freq*float64(i)/float64(s.SampleRate))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(v*math.MaxInt16)))
	}
	return buf
}
