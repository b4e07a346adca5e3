// pkg/version/version.go
// Package version provides version metadata for the application.
package version

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// These variables are typically injected at build time using -ldflags
var (
	// Version holds the current version of stoq. It must stay a valid
	// semantic version because plugins gate on it.
	Version = "3.0.0"
	// Commit holds the current version commit of stoq.
	Commit = "none"
	// BuildDate holds the build date of stoq.
	BuildDate = "unknown"
	// StartDate holds the start date of stoq.
	StartDate = time.Now()
)

// Struct returns version information in a structured format.
type Struct struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
}

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("stoq %s (commit: %s, date: %s)", Version, Commit, BuildDate)
}

// Get returns version information as a Struct.
func Get() Struct {
	return Struct{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}
}

// Provider exposes the running framework version used for plugin
// compatibility checks.
type Provider interface {
	Semver() (*semver.Version, error)
}

// Static is a Provider backed by a fixed version string.
type Static string

// Semver parses the static version string.
func (s Static) Semver() (*semver.Version, error) {
	return semver.NewVersion(string(s))
}

// Current returns a Provider for the build-time Version.
func Current() Provider {
	return Static(Version)
}

// Semver parses the build-time Version.
func Semver() (*semver.Version, error) {
	return Current().Semver()
}
