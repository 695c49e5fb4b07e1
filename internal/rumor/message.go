package rumor

import (
	"strconv"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var ErrMalformed = errors.New("[rumor] - malformed message")

// Message is a gossiped control message. It is immutable once created and
// travels by value.
type Message struct {
	ID      string
	Header  string
	Created time.Time
	// TTL is the lifetime in seconds the author intended for the message.
	TTL  int
	Body wire.Body
}

// NewMessage authors a message with a fresh id.
func NewMessage(header string, ttl time.Duration, body wire.Body) Message {
	return Message{
		ID:      uuid.NewString(),
		Header:  header,
		Created: time.Now(),
		TTL:     int(ttl / time.Second),
		Body:    body,
	}
}

func (m Message) Validate() error {
	if m.ID == "" {
		return errors.Wrap(ErrMalformed, "id required")
	}
	if m.Header == "" {
		return errors.Wrap(ErrMalformed, "header required")
	}
	if m.Created.IsZero() {
		return errors.Wrap(ErrMalformed, "creation time required")
	}
	return nil
}

// Packet wraps the message in a rumor datagram. The creation time travels as
// decimal unix nanoseconds and the body is typed so that both survive the
// float encoding of numbers.
func (m Message) Packet(from string) wire.Packet {
	return wire.Packet{
		Header: wire.HeaderRumor,
		MsgID:  m.ID,
		PeerID: from,
		Body: wire.Body{
			"header":  m.Header,
			"created": strconv.FormatInt(m.Created.UnixNano(), 10),
			"ttl":     m.TTL,
			"body":    wire.Typed(m.Body),
		},
	}
}

// FromPacket extracts a message from a rumor datagram. Missing fields are
// left zero so that Validate can reject them; a body that was not written by
// Packet is malformed.
func FromPacket(p wire.Packet) (Message, error) {
	m := Message{ID: p.MsgID, Header: p.Body.String("header"), TTL: p.Body.Int("ttl")}
	if nanos, err := strconv.ParseInt(p.Body.String("created"), 10, 64); err == nil && nanos > 0 {
		m.Created = time.Unix(0, nanos)
	}
	body, err := wire.Untyped(p.Body.Body("body"))
	if err != nil {
		return m, errors.Mark(errors.Wrap(err, "[rumor] - bad body"), ErrMalformed)
	}
	m.Body = body
	return m, nil
}

func Encode(m Message, from string) ([]byte, error) { return wire.Encode(m.Packet(from)) }

func Decode(b []byte) (Message, error) {
	p, err := wire.Decode(b)
	if err != nil {
		return Message{}, err
	}
	if p.Header != wire.HeaderRumor {
		return Message{}, errors.Wrapf(ErrMalformed, "unexpected header %s", p.Header)
	}
	m, err := FromPacket(p)
	if err != nil {
		return m, err
	}
	return m, m.Validate()
}
