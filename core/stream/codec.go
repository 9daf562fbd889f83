package stream

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/ftl/panaweb/core"
)

// Layout of a spectrum frame on the wire, all values big-endian:
// five int32 header fields [sample rate, centre frequency, 1000, 2000, N], N float32 magnitudes, N float32 peak hold values.
const (
	headerFields = 5
	headerSize   = headerFields * 4
	startMarker  = 1000
	endMarker    = 2000
)

// ErrInvalidFrame is returned when decoding malformed frames.
var ErrInvalidFrame = errors.New("invalid spectrum frame")

// FrameSize returns the encoded size of a frame with n bins.
func FrameSize(n int) int {
	return headerSize + 2*4*n
}

// EncodeFrame encodes the frame into a new buffer.
func EncodeFrame(frame *core.SpectrumFrame) []byte {
	return AppendFrame(make([]byte, 0, FrameSize(frame.Bins())), frame)
}

// AppendFrame appends the encoded frame to dst. If the frame has no peak hold values for every bin,
// the magnitudes are sent instead.
func AppendFrame(dst []byte, frame *core.SpectrumFrame) []byte {
	n := frame.Bins()
	dst = binary.BigEndian.AppendUint32(dst, uint32(int32(frame.SampleRateHz)))
	dst = binary.BigEndian.AppendUint32(dst, uint32(int32(frame.CentreFreqHz)))
	dst = binary.BigEndian.AppendUint32(dst, startMarker)
	dst = binary.BigEndian.AppendUint32(dst, endMarker)
	dst = binary.BigEndian.AppendUint32(dst, uint32(int32(n)))

	for _, v := range frame.Magnitudes {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(v))
	}
	peaks := frame.PeakHold
	if len(peaks) != n {
		peaks = frame.Magnitudes
	}
	for _, v := range peaks {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

// DecodeFrame decodes an encoded frame. The time window is not part of the encoding.
func DecodeFrame(data []byte) (*core.SpectrumFrame, error) {
	if len(data) < headerSize {
		return nil, errors.Wrapf(ErrInvalidFrame, "%d bytes are too short for the header", len(data))
	}
	header := make([]int32, headerFields)
	for i := range header {
		header[i] = int32(binary.BigEndian.Uint32(data[i*4:]))
	}
	if header[2] != startMarker || header[3] != endMarker {
		return nil, errors.Wrapf(ErrInvalidFrame, "wrong markers %d %d", header[2], header[3])
	}
	n := int(header[4])
	if n < 0 || len(data) != FrameSize(n) {
		return nil, errors.Wrapf(ErrInvalidFrame, "%d bytes do not match %d bins", len(data), n)
	}

	result := &core.SpectrumFrame{
		SampleRateHz: int(header[0]),
		CentreFreqHz: int(header[1]),
		Magnitudes:   make([]float32, n),
		PeakHold:     make([]float32, n),
	}
	values := data[headerSize:]
	for i := 0; i < n; i++ {
		result.Magnitudes[i] = math.Float32frombits(binary.BigEndian.Uint32(values[i*4:]))
		result.PeakHold[i] = math.Float32frombits(binary.BigEndian.Uint32(values[(n+i)*4:]))
	}
	return result, nil
}
