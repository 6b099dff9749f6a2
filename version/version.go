// Package version holds the build version of census.
package version

// Version is overridden at build time with
// -ldflags "-X gitlab.com/davidxarnold/census/version.Version=<tag>".
var Version = "dev"
