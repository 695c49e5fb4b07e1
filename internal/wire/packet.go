package wire

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const prefixLen = 4

// MaxFrameSize bounds the payload of a single frame.
const MaxFrameSize = 16 << 20

var ErrMalformed = errors.New("[wire] - malformed packet")

// Packet is a header-tagged record exchanged over datagrams and as the first
// frame of a stream link.
type Packet struct {
	Header    Header
	MsgID     string
	SessionID string
	PeerID    string
	Body      Body
}

func (p Packet) Validate() error {
	if p.Header == "" {
		return errors.Wrap(ErrMalformed, "header required")
	}
	return nil
}

// Reply builds a packet answering p, carrying the same message and session
// ids.
func (p Packet) Reply(header Header, peerID string, body Body) Packet {
	return Packet{Header: header, MsgID: p.MsgID, SessionID: p.SessionID, PeerID: peerID, Body: body}
}

// Encode serializes a packet into a length-prefixed protobuf struct.
func Encode(p Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"header":     string(p.Header),
		"msg_id":     p.MsgID,
		"session_id": p.SessionID,
		"peer_id":    p.PeerID,
	}
	if p.Body != nil {
		fields["body"] = normalize(p.Body)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "unsupported body value: %v", err)
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "[wire] - failed to marshal packet")
	}
	return Frame(b), nil
}

// Decode parses a length-prefixed packet produced by Encode.
func Decode(b []byte) (p Packet, err error) {
	raw, err := Unframe(b)
	if err != nil {
		return p, err
	}
	s := &structpb.Struct{}
	if err := proto.Unmarshal(raw, s); err != nil {
		return p, errors.Wrap(ErrMalformed, err.Error())
	}
	m := s.AsMap()
	header, _ := m["header"].(string)
	p.Header = Header(header)
	p.MsgID, _ = m["msg_id"].(string)
	p.SessionID, _ = m["session_id"].(string)
	p.PeerID, _ = m["peer_id"].(string)
	if body, ok := m["body"].(map[string]interface{}); ok {
		p.Body = body
	}
	return p, p.Validate()
}

// Frame prefixes b with its big-endian length.
func Frame(b []byte) []byte {
	out := make([]byte, prefixLen+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	copy(out[prefixLen:], b)
	return out
}

// Unframe strips and checks the length prefix written by Frame.
func Unframe(b []byte) ([]byte, error) {
	if len(b) < prefixLen {
		return nil, errors.Wrap(ErrMalformed, "frame too short")
	}
	n := binary.BigEndian.Uint32(b)
	if n > MaxFrameSize || int(n) != len(b)-prefixLen {
		return nil, errors.Wrapf(ErrMalformed, "frame length %d does not match payload %d", n, len(b)-prefixLen)
	}
	return b[prefixLen:], nil
}
