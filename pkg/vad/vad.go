// Package vad detects caller speech on the carrier leg from decoded audio.
//
// The detector is energy based and counts frames rather than wall time, so
// the same audio always produces the same transitions.
package vad

import (
	"errors"

	"github.com/teslashibe/go-callbridge/pkg/codec"
)

// State is the detector state.
type State int

const (
	// Quiet means no speech.
	Quiet State = iota
	// Starting means voiced frames seen but not enough to confirm speech.
	Starting
	// Speaking means speech confirmed.
	Speaking
	// Stopping means unvoiced frames seen during speech.
	Stopping
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case Quiet:
		return "quiet"
	case Starting:
		return "starting"
	case Speaking:
		return "speaking"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Transition is what a frame did to the speaking flag.
type Transition int

const (
	// None means the speaking flag did not change.
	None Transition = iota
	// Started means speech was confirmed on this frame.
	Started
	// Stopped means speech ended on this frame.
	Stopped
)

// Params tunes the detector.
type Params struct {
	// Threshold is the normalised RMS (0.0-1.0) above which a frame is voiced.
	Threshold float64

	// StartFrames consecutive voiced frames confirm speech.
	StartFrames int

	// StopFrames consecutive unvoiced frames end speech.
	StopFrames int
}

// DefaultParams suit 20 ms telephony frames: 60 ms to start, 400 ms to stop.
func DefaultParams() Params {
	return Params{
		Threshold:   0.02,
		StartFrames: 3,
		StopFrames:  20,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.Threshold <= 0 || p.Threshold >= 1 {
		return errors.New("vad: threshold must be between 0 and 1")
	}
	if p.StartFrames < 1 || p.StopFrames < 1 {
		return errors.New("vad: start and stop frames must be at least 1")
	}
	return nil
}

// Detector tracks speech across a stream of frames. Not safe for
// concurrent use.
type Detector struct {
	params Params
	state  State
	count  int
	level  float64
}

// New returns a Detector.
func New(params Params) (*Detector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Detector{params: params}, nil
}

// Process feeds one frame of linear samples.
func (d *Detector) Process(samples []int16) Transition {
	d.level = codec.RMS(samples)
	voiced := d.level >= d.params.Threshold

	switch d.state {
	case Quiet:
		if voiced {
			d.state, d.count = Starting, 1
			if d.count >= d.params.StartFrames {
				d.state = Speaking
				return Started
			}
		}
	case Starting:
		if !voiced {
			d.state, d.count = Quiet, 0
			return None
		}
		d.count++
		if d.count >= d.params.StartFrames {
			d.state = Speaking
			return Started
		}
	case Speaking:
		if !voiced {
			d.state, d.count = Stopping, 1
			if d.count >= d.params.StopFrames {
				d.state = Quiet
				return Stopped
			}
		}
	case Stopping:
		if voiced {
			d.state, d.count = Speaking, 0
			return None
		}
		d.count++
		if d.count >= d.params.StopFrames {
			d.state, d.count = Quiet, 0
			return Stopped
		}
	}
	return None
}

// Speaking reports whether speech is currently confirmed.
func (d *Detector) Speaking() bool {
	return d.state == Speaking || d.state == Stopping
}

// State returns the current state.
func (d *Detector) State() State { return d.state }

// Level returns the RMS of the last frame.
func (d *Detector) Level() float64 { return d.level }

// Reset returns the detector to Quiet.
func (d *Detector) Reset() {
	d.state, d.count, d.level = Quiet, 0, 0
}
