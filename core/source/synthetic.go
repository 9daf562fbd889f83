package source

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ftl/panaweb/core"
)

// IDs of the synthetic sources.
const (
	NoiseID = "noise"
	ToneID  = "tone"
	SweepID = "sweep"
)

// generator fills the given block. rate is the current sample rate.
type generator interface {
	configure(params string, rate int) error
	fill(block core.SampleBlock, rate int, amplitude float64)
}

// synthetic is a device that produces generated samples, paced to the configured sample rate.
type synthetic struct {
	settings
	gen    generator
	open   bool
	nextAt time.Time
}

// NewNoise returns a source that produces white noise.
func NewNoise(p Parameters) Device {
	return &synthetic{
		settings: newSettings(p),
		gen:      &noise{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))},
	}
}

// NewTone returns a source that produces a single carrier. The params give the offset of the carrier
// from the centre frequency in Hz.
func NewTone(p Parameters) Device {
	return &synthetic{
		settings: newSettings(p),
		gen:      new(tone),
	}
}

// NewSweep returns a source that produces a carrier sweeping through the spectrum. The params have
// the form "from:to:step", all offsets from the centre frequency in Hz.
func NewSweep(p Parameters) Device {
	return &synthetic{
		settings: newSettings(p),
		gen:      new(sweep),
	}
}

func (s *synthetic) Open() error {
	if err := s.validate(); err != nil {
		return err
	}
	if err := s.gen.configure(s.params.Params, s.params.SampleRate); err != nil {
		return errors.Wrapf(ErrInvalidConfiguration, "%s: %v", s.params.ID, err)
	}
	s.open = true
	s.connected = true
	s.nextAt = time.Time{}
	return nil
}

func (s *synthetic) Close() error {
	s.open = false
	s.connected = false
	return nil
}

func (s *synthetic) SetSampleRate(sps int) error {
	if err := s.settings.SetSampleRate(sps); err != nil {
		return err
	}
	if !s.open {
		return nil
	}
	if err := s.gen.configure(s.params.Params, sps); err != nil {
		s.problem("%s: %v", s.params.ID, err)
	}
	return nil
}

func (s *synthetic) NextSampleBlock(ctx context.Context, n int) (core.SampleBlock, error) {
	if !s.open {
		return nil, ErrNotOpen
	}
	if n <= 0 {
		return core.SampleBlock{}, nil
	}

	if err := s.pace(ctx, n); err != nil {
		return nil, err
	}

	block := make(core.SampleBlock, n)
	s.gen.fill(block, s.params.SampleRate, s.amplitude())
	return block, nil
}

// pace waits until the block of n samples would have been captured by a real receiver.
func (s *synthetic) pace(ctx context.Context, n int) error {
	now := time.Now()
	blockDuration := time.Duration(float64(n) / float64(s.params.SampleRate) * float64(time.Second))
	if s.nextAt.IsZero() || now.Sub(s.nextAt) > blockDuration {
		s.nextAt = now
	}
	s.nextAt = s.nextAt.Add(blockDuration)

	wait := time.Until(s.nextAt)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *synthetic) amplitude() float64 {
	return math.Pow(10, (s.Gain()-MaxGain)/20)
}

type noise struct {
	rnd *rand.Rand
}

func (g *noise) configure(string, int) error {
	return nil
}

func (g *noise) fill(block core.SampleBlock, _ int, amplitude float64) {
	for i := range block {
		block[i] = complex(amplitude*(g.rnd.Float64()-0.5), amplitude*(g.rnd.Float64()-0.5))
	}
}

// oscillator keeps the phase continuous across blocks.
type oscillator struct {
	phase float64
}

func (o *oscillator) fill(block core.SampleBlock, f float64, rate int, amplitude float64) {
	ω := 2.0 * math.Pi * f / float64(rate)
	for i := range block {
		block[i] = complex(amplitude*math.Cos(o.phase), amplitude*math.Sin(o.phase))
		o.phase = math.Mod(o.phase+ω, 2*math.Pi)
	}
}

type tone struct {
	oscillator
	offset float64
}

func (g *tone) configure(params string, rate int) error {
	offset, err := parseOffset(params, 0)
	if err != nil {
		return err
	}
	if math.Abs(offset) >= float64(rate)/2 {
		return errors.Errorf("tone offset %g outside of the sampled spectrum", offset)
	}
	g.offset = offset
	return nil
}

func (g *tone) fill(block core.SampleBlock, rate int, amplitude float64) {
	g.oscillator.fill(block, g.offset, rate, amplitude)
}

type sweep struct {
	oscillator
	from, to, step float64
	current        float64
}

func (g *sweep) configure(params string, rate int) error {
	half := float64(rate) / 2
	g.from, g.to, g.step = -half, half, float64(rate)/100

	if strings.TrimSpace(params) != "" {
		fields := strings.Split(params, ":")
		if len(fields) != 3 {
			return errors.Errorf("sweep parameters %q must have the form from:to:step", params)
		}
		values := make([]float64, len(fields))
		for i, field := range fields {
			v, err := parseOffset(field, 0)
			if err != nil {
				return err
			}
			values[i] = v
		}
		g.from, g.to, g.step = values[0], values[1], values[2]
	}
	if g.from >= g.to || g.step <= 0 {
		return errors.Errorf("invalid sweep %g:%g:%g", g.from, g.to, g.step)
	}
	g.current = g.from
	return nil
}

func (g *sweep) fill(block core.SampleBlock, rate int, amplitude float64) {
	g.oscillator.fill(block, g.current, rate, amplitude)
	g.current += g.step
	if g.current > g.to {
		g.current = g.from
	}
}

func parseOffset(s string, defaultValue float64) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid offset %q", s)
	}
	return result, nil
}
