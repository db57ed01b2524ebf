// SPDX-License-Identifier: MIT
package build

import (
	"errors"
	"os"
	"strings"
	"testing"
)

var (
	origName    string
	origTime    string
	origCommit  string
	origVersion string
	origFlags   ldFlags
)

func TestMain(m *testing.M) {
	origName = buildName
	origTime = buildTime
	origCommit = buildCommit
	origVersion = buildVersion
	origFlags = *buildFlags

	exitCode := m.Run()

	buildName = origName
	buildTime = origTime
	buildCommit = origCommit
	buildVersion = origVersion
	*buildFlags = origFlags

	os.Exit(exitCode)
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name        string
		buildName   string
		buildTime   string
		buildCommit string
		buildVer    string
		wantMissing string
	}{
		{"Missing BuildName", "", "2026-10-18", "abcdef123", "v1.0.0", "BuildName"},
		{"Missing BuildTime", "ampsim", "", "abcdef123", "v1.0.0", "BuildTime"},
		{"Missing BuildCommit", "ampsim", "2026-10-18", "", "v1.0.0", "BuildCommit"},
		{"Missing BuildVersion", "ampsim", "2026-10-18", "abcdef123", "", "BuildVersion"},
		{"Success Case", "ampsim", "2026-10-18", "abcdef123", "v1.0.0", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*buildFlags = origFlags

			buildName = tt.buildName
			buildTime = tt.buildTime
			buildCommit = tt.buildCommit
			buildVersion = tt.buildVer

			err := Initialize()

			if tt.wantMissing != "" {
				if !errors.Is(err, ErrMissingFlag) {
					t.Fatalf("Initialize() error = %v, want ErrMissingFlag", err)
				}
				if !strings.Contains(err.Error(), tt.wantMissing) {
					t.Errorf("Initialize() error = %v, want mention of %s", err, tt.wantMissing)
				}
				if buildFlags.Version != "dev" {
					t.Errorf("failed Initialize() should keep dev defaults, got %q", buildFlags.Version)
				}
				return
			}

			if err != nil {
				t.Fatalf("Initialize() unexpected error: %v", err)
			}
			if buildFlags.Name != tt.buildName || buildFlags.Version != tt.buildVer ||
				buildFlags.Commit != tt.buildCommit || buildFlags.Time != tt.buildTime {
				t.Errorf("buildFlags = %+v, want values from ldflags", buildFlags)
			}
		})
	}
}

func TestGetBuildFlagsString(t *testing.T) {
	*buildFlags = ldFlags{
		Name:    "ampsim",
		Time:    "2026-10-18",
		Commit:  "abcdef123",
		Version: "v1.0.0",
	}

	got := GetBuildFlags().String()
	want := "ampsim v1.0.0 (commit abcdef123, built 2026-10-18)"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
