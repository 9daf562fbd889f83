package rtlsdr

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ftl/panaweb/core"
)

// SampleFormat of the raw dongle output: interleaved unsigned 8-bit I and Q.
const SampleFormat = "CU8"

// convertIQ8 fills the block with the interleaved unsigned 8-bit I/Q samples from buf.
func convertIQ8(buf []byte, block core.SampleBlock) error {
	if len(buf) != 2*len(block) {
		return errors.Errorf("need %d bytes for %d samples, got %d", 2*len(block), len(block), len(buf))
	}
	for i := 0; i < len(buf); i += 2 {
		iSample := normalizeSampleUint8(buf[i])
		qSample := normalizeSampleUint8(buf[i+1])
		block[i/2] = complex(iSample, qSample)
	}
	return nil
}

func normalizeSampleUint8(s byte) float64 {
	return (float64(s) - float64(math.MaxInt8)) / float64(math.MaxInt8)
}

func nearestGain(gains []int, tenthDB int) int {
	if len(gains) == 0 {
		return tenthDB
	}
	result := gains[0]
	for _, g := range gains {
		if abs(g-tenthDB) < abs(result-tenthDB) {
			result = g
		}
	}
	return result
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

func deviceIndex(params string) (int, error) {
	params = strings.TrimSpace(params)
	if params == "" {
		return 0, nil
	}
	index, err := strconv.Atoi(params)
	if err != nil || index < 0 {
		return 0, errors.Errorf("invalid device index %q", params)
	}
	return index, nil
}
