//go:build cm3release

package cm3

const debugChecks = false
