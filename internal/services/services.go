// Package services provides the widget's adapters to the outside world: the backend's HTTP API, its realtime
// channel, and the local BoltDB file that remembers the selected thread.
package services

const errLoggerKey = "err"
