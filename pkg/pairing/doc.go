// Package pairing implements the code-based trust establishment between a
// host and a companion device.
//
// The host issues a 6-digit pairing code and transfers it out of band
// (typically by displaying it). A companion submits the code through the
// relay; the host's Machine evaluates the candidate against the issued code
// and decides accept or reject. Codes are single-use and expire passively
// after a window.
package pairing
