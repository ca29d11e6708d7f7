// Package rbc formats position and route messages as RBC text lines and
// fans them out to UDP and TCP consumers selected by flag masks.
package rbc

// Message flags. A target receives a message when its mask covers every
// bit of the message flag.
const (
	FlagPosition = 1
	FlagWarning  = 2
	FlagRoute    = 0x400
)
