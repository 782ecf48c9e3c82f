package stats

// P2Estimator computes a streaming quantile estimate with the P² algorithm
// (Jain & Chlamtac, 1985) using five markers and no sample storage. It backs
// the live p95 in progress snapshots; the final summary uses exact
// percentiles instead.
type P2Estimator struct {
	q    float64    // target quantile in (0, 1)
	n    int        // observations seen
	pos  [5]int     // marker positions (1-based)
	want [5]float64 // desired marker positions
	inc  [5]float64 // desired position increments
	h    [5]float64 // marker heights
	init []float64  // first five observations, sorted lazily
}

// NewP2Estimator creates an estimator for quantile q (e.g. 0.95).
func NewP2Estimator(q float64) *P2Estimator {
	e := &P2Estimator{q: q}
	e.want = [5]float64{1, 1 + 2*q, 1 + 4*q, 3 + 2*q, 5}
	e.inc = [5]float64{0, q / 2, q, (1 + q) / 2, 1}
	return e
}

// Observe feeds one sample.
func (e *P2Estimator) Observe(x float64) {
	e.n++
	if e.n <= 5 {
		e.init = append(e.init, x)
		if e.n == 5 {
			insertionSort(e.init)
			for i := 0; i < 5; i++ {
				e.h[i] = e.init[i]
				e.pos[i] = i + 1
			}
		}
		return
	}

	// Locate the cell containing x and update extreme heights.
	var k int
	switch {
	case x < e.h[0]:
		e.h[0] = x
		k = 0
	case x >= e.h[4]:
		e.h[4] = x
		k = 3
	default:
		for k = 0; k < 4; k++ {
			if x < e.h[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.pos[i]++
	}
	for i := 0; i < 5; i++ {
		e.want[i] += e.inc[i]
	}

	// Adjust interior markers toward their desired positions.
	for i := 1; i <= 3; i++ {
		d := e.want[i] - float64(e.pos[i])
		if (d >= 1 && e.pos[i+1]-e.pos[i] > 1) || (d <= -1 && e.pos[i-1]-e.pos[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			h := e.parabolic(i, sign)
			if e.h[i-1] < h && h < e.h[i+1] {
				e.h[i] = h
			} else {
				e.h[i] = e.linear(i, sign)
			}
			e.pos[i] += sign
		}
	}
}

// Value returns the current quantile estimate, or 0 with no samples.
func (e *P2Estimator) Value() float64 {
	switch {
	case e.n == 0:
		return 0
	case e.n < 5:
		// Too few samples for markers: use the exact order statistic.
		sorted := append([]float64(nil), e.init...)
		insertionSort(sorted)
		idx := int(e.q*float64(len(sorted)+1)) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	default:
		return e.h[2]
	}
}

// Count returns the number of observations so far.
func (e *P2Estimator) Count() int {
	return e.n
}

func (e *P2Estimator) parabolic(i, d int) float64 {
	df := float64(d)
	pi := float64(e.pos[i])
	pm := float64(e.pos[i-1])
	pp := float64(e.pos[i+1])
	return e.h[i] + df/(pp-pm)*((pi-pm+df)*(e.h[i+1]-e.h[i])/(pp-pi)+(pp-pi-df)*(e.h[i]-e.h[i-1])/(pi-pm))
}

func (e *P2Estimator) linear(i, d int) float64 {
	return e.h[i] + float64(d)*(e.h[i+d]-e.h[i])/float64(e.pos[i+d]-e.pos[i])
}

func insertionSort(v []float64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j-1] > v[j]; j-- {
			v[j-1], v[j] = v[j], v[j-1]
		}
	}
}
