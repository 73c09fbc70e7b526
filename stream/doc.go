// Package stream keeps the bot attached to the panel's real-time auth channel.
//
// A Client owns at most one websocket connection at a time. Run walks the
// connection state machine:
//
//	Disconnected -> Connecting -> Connected -> (transport error) -> Disconnected
//
// and ends in Exhausted once more than MaxRetries consecutive failures have
// been seen. Each failure doubles the wait before the next attempt (base 2s);
// a successful handshake resets both the retry count and the delay.
//
// Frames are JSON objects tagged by a "type" field. They are handled one at a
// time, in order, through a handler table keyed by that tag. Unknown tags are
// logged and skipped. Handler failures are logged and never tear down the
// connection; malformed frames and read errors do.
package stream
