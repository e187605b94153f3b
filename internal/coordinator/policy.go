package coordinator

// hysteresis arms once a distance below near is seen and fires once a later
// distance reaches far. Readings between the two edges change nothing.
type hysteresis struct {
	near  float64
	far   float64
	armed bool
}

func newHysteresis(near, far float64) hysteresis {
	return hysteresis{near: near, far: far}
}

// observe reports whether d crosses out of the band after having been inside
// it. Firing disarms.
func (h *hysteresis) observe(d float64) bool {
	if d < h.near {
		h.armed = true
		return false
	}
	if h.armed && d >= h.far {
		h.armed = false
		return true
	}
	return false
}

func (h *hysteresis) reset() {
	h.armed = false
}
