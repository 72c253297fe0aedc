package broadcast

// Kind distinguishes application payloads from liveness probes on a subscriber queue.
type Kind int

const (
	KindData Kind = iota
	KindPing
)

// Message is one item on a subscriber queue.
// Transports render KindPing as something clients ignore (an SSE comment, a WebSocket ping frame).
type Message struct {
	Kind Kind
	Data string
}

// Data wraps an application payload.
func Data(payload string) Message {
	return Message{Kind: KindData, Data: payload}
}

// Ping returns the liveness probe sent by the sweep.
func Ping() Message {
	return Message{Kind: KindPing, Data: "ping"}
}

func (m Message) IsPing() bool {
	return m.Kind == KindPing
}
