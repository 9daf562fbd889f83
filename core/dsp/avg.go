package dsp

import "math"

// NewPeakHold returns a peak hold over the last length rows. If length is zero or negative,
// peaks are held until Reset.
func NewPeakHold(length int) *PeakHold {
	return &PeakHold{length: length}
}

// PeakHold keeps the maximum value per bin across rows.
type PeakHold struct {
	length  int
	buffer  [][]float64
	index   int
	filled  int
	current []float64
}

// Reset drops all held peaks.
func (m *PeakHold) Reset() {
	m.buffer = nil
	m.current = nil
	m.index = 0
	m.filled = 0
}

// Put adds the given row and returns the current peaks. The returned slice is only valid until the next call.
// A row with a different number of bins resets the peak hold.
func (m *PeakHold) Put(row []float64) []float64 {
	if len(row) != len(m.current) {
		m.Reset()
		m.current = make([]float64, len(row))
		for i := range m.current {
			m.current[i] = math.Inf(-1)
		}
	}

	if m.length <= 0 {
		for i, v := range row {
			m.current[i] = math.Max(m.current[i], v)
		}
		return m.current
	}

	if m.buffer == nil {
		m.buffer = make([][]float64, m.length)
	}
	m.buffer[m.index] = append(m.buffer[m.index][:0], row...)
	m.index = (m.index + 1) % m.length
	if m.filled < m.length {
		m.filled++
	}

	for i := range m.current {
		max := math.Inf(-1)
		for j := 0; j < m.filled; j++ {
			max = math.Max(max, m.buffer[j][i])
		}
		m.current[i] = max
	}
	return m.current
}
