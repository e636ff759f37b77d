package codec

// Resampler converts a stream of int16 samples between two rates using the
// exact rational ratio of the rates (8000:24000 is 1:3), interpolating
// linearly between neighbouring input samples.
//
// Output positions are tracked as an integer phase in units of 1/up of an
// input sample, and the phase plus the last input sample carry over between
// calls. Feeding a stream in any split produces the same output as feeding
// it in one piece, so the two sides of a call never drift apart.
//
// A Resampler is not safe for concurrent use.
type Resampler struct {
	fromRate int
	toRate   int
	up       int64
	down     int64

	phase   int64
	prev    int16
	hasPrev bool
}

// NewResampler returns a resampler from fromRate to toRate.
func NewResampler(fromRate, toRate int) *Resampler {
	g := gcd(fromRate, toRate)
	return &Resampler{
		fromRate: fromRate,
		toRate:   toRate,
		up:       int64(toRate / g),
		down:     int64(fromRate / g),
	}
}

// Ratio returns the reduced up:down ratio.
func (r *Resampler) Ratio() (up, down int) {
	return int(r.up), int(r.down)
}

// Process resamples the next block of the stream.
func (r *Resampler) Process(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	if r.up == r.down {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}

	n := int64(len(in))
	// Capacity estimate; exact count depends on the carried phase.
	out := make([]int16, 0, (n*r.up)/r.down+2)

	at := func(i int64) int64 {
		if i < 0 {
			if r.hasPrev {
				return int64(r.prev)
			}
			return int64(in[0])
		}
		return int64(in[i])
	}

	for {
		idx := floorDiv(r.phase, r.up)
		frac := r.phase - idx*r.up
		if idx >= n || (frac != 0 && idx+1 >= n) {
			break
		}

		var v int64
		if frac == 0 {
			v = at(idx)
		} else {
			a, b := at(idx), at(idx+1)
			num := a*(r.up-frac) + b*frac
			v = roundDiv(num, r.up)
		}
		out = append(out, clamp16(v))
		r.phase += r.down
	}

	r.phase -= n * r.up
	r.prev = in[n-1]
	r.hasPrev = true
	return out
}

// Reset drops the carried phase and history.
func (r *Resampler) Reset() {
	r.phase = 0
	r.prev = 0
	r.hasPrev = false
}

// Resample converts a complete buffer in one shot.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		return samples
	}
	return NewResampler(fromRate, toRate).Process(samples)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func roundDiv(num, den int64) int64 {
	if num >= 0 {
		return (num + den/2) / den
	}
	return -((-num + den/2) / den)
}

func clamp16(v int64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
