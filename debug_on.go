//go:build !cm3release

package cm3

// debugChecks enables assertions. Build with the cm3release tag to compile them out.
const debugChecks = true
