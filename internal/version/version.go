// Package version carries the release version stamped into run reports,
// completion events and outbound request headers.
package version

// Version is the foldwarden release.
const Version = "0.1.0"
