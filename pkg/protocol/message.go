package protocol

// MessageFlags are per-message option bits carried inside the logical
// payload, independent of the frame header flags.
type MessageFlags uint8

const (
	// MsgBinary marks the payload as opaque bytes rather than UTF-8 text.
	MsgBinary MessageFlags = 0x01

	// MsgDelta marks the payload as a delta against the previous payload
	// of the same (target, method) stream.
	MsgDelta MessageFlags = 0x02
)

// Has returns true if the flags contain the specified flag.
func (mf MessageFlags) Has(flag MessageFlags) bool {
	return mf&flag != 0
}

// Message is one routed call: a named target, a method on that target, and
// a payload.
type Message struct {
	Target  string
	Method  string
	Flags   MessageFlags
	Payload []byte
}

// TextMessage builds a text message.
func TextMessage(target, method, payload string) Message {
	return Message{Target: target, Method: method, Payload: []byte(payload)}
}

// BinaryMessage builds a binary message.
func BinaryMessage(target, method string, payload []byte) Message {
	return Message{Target: target, Method: method, Flags: MsgBinary, Payload: payload}
}

// IsBinary returns true for opaque byte payloads.
func (m *Message) IsBinary() bool {
	return m.Flags.Has(MsgBinary)
}

// Text returns the payload as a string.
func (m *Message) Text() string {
	return string(m.Payload)
}

// EncodeTo appends the message body to the encoder.
func (m *Message) EncodeTo(e *Encoder) {
	e.WriteString(m.Target)
	e.WriteString(m.Method)
	e.WriteByte(byte(m.Flags))
	e.WriteLenBytes(m.Payload)
}

// DecodeMessageFrom decodes one message body from the decoder.
func DecodeMessageFrom(d *Decoder) (Message, error) {
	var m Message
	var err error

	if m.Target, err = d.ReadString(); err != nil {
		return Message{}, err
	}
	if m.Method, err = d.ReadString(); err != nil {
		return Message{}, err
	}
	flags, err := d.ReadByte()
	if err != nil {
		return Message{}, err
	}
	m.Flags = MessageFlags(flags)
	if m.Payload, err = d.ReadLenBytes(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// EncodeBatch encodes one or more messages into a logical payload:
// a uvarint count followed by the message bodies in order.
func EncodeBatch(msgs []Message) []byte {
	size := 8
	for i := range msgs {
		size += len(msgs[i].Target) + len(msgs[i].Method) + len(msgs[i].Payload) + 8
	}
	e := NewEncoderWithCap(size)
	e.WriteUvarint(uint64(len(msgs)))
	for i := range msgs {
		msgs[i].EncodeTo(e)
	}

	out := make([]byte, e.Len())
	copy(out, e.Bytes())
	return out
}

// DecodeBatch decodes a logical payload into its messages.
func DecodeBatch(payload []byte) ([]Message, error) {
	d := NewDecoder(payload)
	count, err := d.ReadBatchCount()
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, count)
	for i := 0; i < count; i++ {
		m, err := DecodeMessageFrom(d)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
