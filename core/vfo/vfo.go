// Package vfo follows the frequency of a transceiver through a hamlib network connection (rigctld or rigproxy).
package vfo

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ftl/rigproxy/pkg/protocol"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ftl/panaweb/core"
)

// DefaultAddress of rigctld.
const DefaultAddress = "localhost:4532"

// DefaultPollingInterval is the time between two frequency requests.
const DefaultPollingInterval = 500 * time.Millisecond

// Open a connection to a hamlib VFO at the given network address. If address is empty, DefaultAddress is used.
func Open(address string, logger *zap.Logger) (*VFO, error) {
	if address == "" {
		address = DefaultAddress
	}
	out, err := net.Dial("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open VFO connection")
	}

	trx := protocol.NewTransceiver(out)
	trx.WhenDone(func() {
		out.Close()
	})

	result := newVFO(trx.Send, func() { trx.Close() }, logger)
	result.address = address
	return result, nil
}

type sendFunc func(context.Context, protocol.Request) (protocol.Response, error)

func newVFO(send sendFunc, close func(), logger *zap.Logger) *VFO {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VFO{
		logger:          logger,
		send:            send,
		close:           close,
		pollingInterval: DefaultPollingInterval,
		frequencyLock:   new(sync.RWMutex),
	}
}

// VFO type.
type VFO struct {
	logger                    *zap.Logger
	address                   string
	send                      sendFunc
	close                     func()
	pollingInterval           time.Duration
	currentFrequency          core.Frequency
	frequencyLock             *sync.RWMutex
	frequencyChangedCallbacks []FrequencyChanged
}

// FrequencyChanged is called on frequency changes.
type FrequencyChanged func(f core.Frequency)

// Run the VFO until the context is done.
func (v *VFO) Run(ctx context.Context) error {
	defer v.shutdown()

	ticker := time.NewTicker(v.pollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			v.pollFrequency(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (v *VFO) shutdown() {
	v.close()
	v.logger.Info("VFO shutdown", zap.String("address", v.address))
}

func (v *VFO) pollFrequency(ctx context.Context) {
	requestCtx, cancel := context.WithTimeout(ctx, v.pollingInterval)
	defer cancel()

	request := protocol.Request{Command: protocol.ShortCommand("f")}
	response, err := v.send(requestCtx, request)
	if err != nil {
		v.logger.Debug("polling frequency failed", zap.Error(err))
		return
	}
	if len(response.Data) == 0 {
		v.logger.Debug("empty frequency response")
		return
	}

	f, err := hamlibToF(response.Data[0])
	if err != nil {
		v.logger.Debug("wrong frequency format", zap.String("data", response.Data[0]), zap.Error(err))
		return
	}

	if v.updateCurrentFrequency(f) {
		for _, frequencyChanged := range v.frequencyChangedCallbacks {
			frequencyChanged(f)
		}
	}
}

func (v *VFO) updateCurrentFrequency(f core.Frequency) bool {
	v.frequencyLock.Lock()
	defer v.frequencyLock.Unlock()
	if int(f) == int(v.currentFrequency) {
		return false
	}

	v.currentFrequency = f
	return true
}

// CurrentFrequency returns the current frequency of the VFO.
func (v *VFO) CurrentFrequency() core.Frequency {
	v.frequencyLock.RLock()
	defer v.frequencyLock.RUnlock()
	return v.currentFrequency
}

// OnFrequencyChange registers the given callback to be notified if the current frequency changes.
func (v *VFO) OnFrequencyChange(f FrequencyChanged) {
	v.frequencyChangedCallbacks = append(v.frequencyChangedCallbacks, f)
}

func hamlibToF(s string) (core.Frequency, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid frequency %q", s)
	}
	return core.Frequency(f), nil
}
