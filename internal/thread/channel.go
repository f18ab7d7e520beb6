package thread

// Endpoint is one side of a unique, transferable duplex channel pair. It
// models the "sub-channel" of §4.2 and §9's "Worker fabric ownership" note:
// retention of an endpoint must never outlive the worker that holds it, so
// callers should treat a received Endpoint as moved-from once handed off.
type Endpoint struct {
	recv <-chan Envelope
	send chan<- Envelope
}

// NewChannelPair builds two Endpoints wired to each other: sends on one
// side arrive as receives on the other. The buffer size models the bounded
// sub-channel queue of §5 ("Backpressure").
func NewChannelPair(buffer int) (a, b Endpoint) {
	ab := make(chan Envelope, buffer)
	ba := make(chan Envelope, buffer)
	a = Endpoint{recv: ba, send: ab}
	b = Endpoint{recv: ab, send: ba}
	return a, b
}

// Send delivers an envelope to the peer endpoint, blocking (cooperative
// yield) if the bounded queue is saturated.
func (e Endpoint) Send(msg Envelope) {
	e.send <- msg
}

// TrySend attempts a non-blocking send, reporting whether it succeeded.
func (e Endpoint) TrySend(msg Envelope) bool {
	select {
	case e.send <- msg:
		return true
	default:
		return false
	}
}

// Recv exposes the receive side for use in select statements.
func (e Endpoint) Recv() <-chan Envelope {
	return e.recv
}
