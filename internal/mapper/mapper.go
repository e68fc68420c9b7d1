// Package mapper implements the Channel Mapper: expanding a
// source frame of S channels onto A analog-output lines.
package mapper

// Policy holds the parameters that affect mapping and gain.
type Policy struct {
	SourceChannels int
	FlipLRStereo   bool
	VolumePct      int
	Muted          bool
}

// gain returns the linear gain for the policy: muted is 0, otherwise
// volume_pct/100, applied with no smoothing.
func (p Policy) gain() float32 {
	if p.Muted {
		return 0
	}
	v := p.VolumePct
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return float32(v) / 100
}

// EffectiveFlip reports whether flip actually applies: flipping is
// disallowed (ignored) for S != 2.
func (p Policy) EffectiveFlip() bool {
	return p.FlipLRStereo && p.SourceChannels == 2
}

// Map expands src (one interleaved source frame of len == SourceChannels)
// into dst (one interleaved AO frame of len == len(dst)), applying the
// wrap/fan-out policy and volume gain. dst's length determines the AO line
// count; Map never allocates.
func Map(src []float32, dst []float32, p Policy) {
	s := p.SourceChannels
	g := p.gain()
	flip := p.EffectiveFlip()

	switch {
	case s == 1:
		v := float32(0)
		if len(src) > 0 {
			v = src[0] * g
		}
		for i := range dst {
			dst[i] = v
		}
	case s == 2:
		left, right := src[0], src[1]
		if flip {
			left, right = right, left
		}
		for i := range dst {
			if i%2 == 0 {
				dst[i] = left * g
			} else {
				dst[i] = right * g
			}
		}
	default: // s >= 3: AO line i receives source channel i mod s
		for i := range dst {
			dst[i] = src[i%s] * g
		}
	}
}
