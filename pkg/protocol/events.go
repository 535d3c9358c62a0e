package protocol

// Event names pushed over the stream.
const (
	EventHello    = "hello"
	EventSnapshot = "snapshot"
	EventGate     = "gate"
	EventShutdown = "shutdown"
)
