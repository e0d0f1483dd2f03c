// Package control carries units of work from the parent to child
// processes over a websocket (gorilla/websocket).
//
// The parent runs a Hub and registers one Channel per child under a random
// token. The child learns its URL from APPRUN_CONTROL_URL, dials in and
// answers every work frame with a result frame. Delivery is at most once:
// an envelope is written once and never resent.
package control
