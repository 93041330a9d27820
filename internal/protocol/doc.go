// Package protocol defines the datagram wire format exchanged between a
// peer and a controller: a fixed 4-byte header followed by a bit-packed
// payload. Negotiation messages establish and refresh sessions; sample
// messages carry application readings in both directions.
package protocol
