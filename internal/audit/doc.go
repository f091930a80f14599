// Package audit buffers security events and forwards them
// asynchronously to a caller-supplied Sink. It decides nothing about
// which events exist; the Service owns the event vocabulary.
package audit
