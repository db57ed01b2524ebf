// SPDX-License-Identifier: MIT
//
// Package build exposes the build metadata embedded at link time:
//
//	go build -ldflags "-X ampsim/pkg/build.buildName=ampsim \
//	  -X ampsim/pkg/build.buildVersion=0.3.0 ..."
//
// Development builds carry "dev" values; Initialize reports which flag is
// missing so release pipelines can fail loudly while local runs keep going.
package build

import (
	"errors"
	"fmt"
)

// ErrMissingFlag is returned by Initialize when an ldflag was not provided.
var ErrMissingFlag = errors.New("build flag is required")

const description = "Real-time guitar amplifier and cabinet simulator"

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String renders the flags the way the CLI prints --version.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}

// Package-level variables populated by -ldflags during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:        "ampsim",
		Description: description,
		Time:        "dev",
		Commit:      "dev",
		Version:     "dev",
	}
)

// Initialize copies the ldflags into the build info. Missing values leave the
// development defaults in place and are reported as ErrMissingFlag.
func Initialize() error {
	required := []struct {
		name  string
		value string
	}{
		{"BuildName", buildName},
		{"BuildTime", buildTime},
		{"BuildCommit", buildCommit},
		{"BuildVersion", buildVersion},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s: %w", r.name, ErrMissingFlag)
		}
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
