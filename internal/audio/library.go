// SPDX-License-Identifier: MIT
package audio

import (
	"ampsim/internal/config"
	"ampsim/internal/ir"
)

// OpenLibrary scans cfg.Amp.IRDir for cabinet IRs. They are resampled to the
// driver rate, the rate the convolver runs at.
func OpenLibrary(cfg *config.Config) (*ir.Library, error) {
	return ir.NewLibrary(cfg.Amp.IRDir, cfg.Audio.SampleRate, ir.WithMaxDuration(cfg.MaxIRDuration()))
}
