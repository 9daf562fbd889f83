//go:build rtlsdr

package cmd

import (
	"go.uber.org/zap"

	"github.com/ftl/panaweb/core/rtlsdr"
	"github.com/ftl/panaweb/core/source"
)

func init() {
	hardware = append(hardware, func(r *source.Registry, logger *zap.Logger) {
		r.Register(rtlsdr.ID, rtlsdr.Constructor(logger.Named("rtlsdr")))
	})
}
