// Package events carries installer log lines to the console log file and to
// every connected UI subscriber.
//
// Ownership boundary:
// - numeric log levels shared with the UI
// - the Sink the orchestrator writes to
// - fan-out Hub for pushed messages
package events
