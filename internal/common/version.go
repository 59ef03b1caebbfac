// Package common provides shared utilities for Papertrade
package common

// Version is set at build time via ldflags:
//
//	-X github.com/bobmcallan/papertrade/internal/common.Version=v1.2.3
var Version = "dev"

// GetVersion returns the build version string.
func GetVersion() string {
	return Version
}
