// Package message defines the channel frame exchanged between the
// supervisor and each worker: a (Signal, payload) pair carried on a
// full-duplex Go channel pair, grounded on the teacher's
// pkg/core/pipeline duplex-Step convention (two channel ends, no shared
// object pointers between the two sides).
package message

// Signal tags a Message's purpose.
type Signal int

const (
	// Initialized is sent once by a worker after setup() succeeds.
	Initialized Signal = iota
	// Stop requests cooperative shutdown; sent supervisor -> worker.
	Stop
	// Error reports a fault; sent worker -> supervisor. Payload is an error.
	Error
	// Config is a config-RPC request or response, in either direction.
	Config
	// Data carries arbitrary telemetry, worker -> supervisor.
	Data
)

func (s Signal) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Stop:
		return "stop"
	case Error:
		return "error"
	case Config:
		return "config"
	case Data:
		return "data"
	default:
		return "unknown"
	}
}

// DeclaredType enumerates the config value types a worker may request.
type DeclaredType int

const (
	TypeInt DeclaredType = iota
	TypeFloat
	TypeBool
	TypeString
)

// ConfigRequest is the payload of a Config-signal message sent by a worker
// asking the supervisor to resolve an option.
type ConfigRequest struct {
	Section      string
	Option       string
	DeclaredType DeclaredType
}

// ConfigResponse is the payload of the supervisor's reply to a ConfigRequest.
// Value is nil if the option was not found in any applicable section.
type ConfigResponse struct {
	Section string
	Option  string
	Value   interface{}
}

// Message is the channel frame. Exactly one of the Payload fields below is
// meaningful, selected by Signal.
type Message struct {
	Signal  Signal
	Err     error
	Request *ConfigRequest
	Reply   *ConfigResponse
	Data    interface{}
}

// New builds a bare Message for signals that carry no payload (Initialized, Stop).
func New(sig Signal) Message { return Message{Signal: sig} }

// NewError builds an Error message.
func NewError(err error) Message { return Message{Signal: Error, Err: err} }

// NewConfigRequest builds a Config-request message.
func NewConfigRequest(section, option string, t DeclaredType) Message {
	return Message{Signal: Config, Request: &ConfigRequest{Section: section, Option: option, DeclaredType: t}}
}

// NewConfigResponse builds a Config-response message.
func NewConfigResponse(section, option string, value interface{}) Message {
	return Message{Signal: Config, Reply: &ConfigResponse{Section: section, Option: option, Value: value}}
}

// NewData builds a Data (telemetry) message.
func NewData(v interface{}) Message { return Message{Signal: Data, Data: v} }

// Channel is a worker's full-duplex endpoint: it receives on In and sends on
// Out. The supervisor holds the mirrored Channel (its Out is the worker's
// In, and vice versa) — see pkg/supervisor.
type Channel struct {
	In  <-chan Message
	Out chan<- Message
}

// NewPair builds two Channels wired to each other's buffers, sized buf.
func NewPair(buf int) (a, b Channel) {
	ab := make(chan Message, buf)
	ba := make(chan Message, buf)
	a = Channel{In: ba, Out: ab}
	b = Channel{In: ab, Out: ba}
	return
}
