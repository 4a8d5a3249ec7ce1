// Package version reports what binary is running and builds the default
// User-Agent string sent by fetchkit sessions.
//
// Version, Commit and Date are set at link time; anything left empty is
// filled from the VCS stamp embedded by the Go toolchain.
package version
