package wire

import "fmt"

type MessageType uint8

// Reliable channel message types.
const (
	Handshake MessageType = iota
	NewObject
	CameraChange
	RemoveObject
)

func (t MessageType) String() string {
	switch t {
	case Handshake:
		return "HANDSHAKE"
	case NewObject:
		return "NEW_OBJECT"
	case CameraChange:
		return "CAMERA_CHANGE"
	case RemoveObject:
		return "REMOVE_OBJECT"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

type UnknownMessageError struct {
	Type MessageType
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("wire: unknown message type %d", uint8(e.Type))
}

type ObjectID uint16

type TypeID uint16

// Key indices into InputSnapshot.Keys.
const (
	KeyForward = iota
	KeyBack
	KeyLeft
	KeyRight
	KeyJump
	KeyReset
	KeyResetInPlace
	KeySprint
	KeyCount
)

type InputSnapshot struct {
	Keys   [KeyCount]bool
	MouseX int32
	MouseY int32
	Scroll int32
}

func (s InputSnapshot) Pressed(key int) bool {
	return key >= 0 && key < KeyCount && s.Keys[key]
}

type HandshakeMsg struct {
	ProtocolVersion uint16
}

type NewObjectMsg struct {
	TypeID     TypeID
	ObjectID   ObjectID
	Associated bool
}

type CameraChangeMsg struct {
	FOV         float32
	AspectRatio float32
}

type RemoveObjectMsg struct {
	ObjectID ObjectID
}

// InputMsg is the only client to server datagram.
type InputMsg struct {
	Counter     uint8
	FrameMillis uint16
	Input       InputSnapshot
}

// StateHeader precedes the serialized state in a server to client datagram.
type StateHeader struct {
	BufferSlot uint8
	ObjectID   ObjectID
}

// ============================================================
// Encoding
// ============================================================

func EncodeHandshake(version uint16) []byte {
	buf := Append(nil, Handshake)
	return Append(buf, HandshakeMsg{ProtocolVersion: version})
}

func EncodeNewObject(msg NewObjectMsg, params []byte) []byte {
	buf := make([]byte, 0, 1+SizeOf[NewObjectMsg]()+len(params))
	buf = Append(buf, NewObject)
	buf = Append(buf, msg)
	return append(buf, params...)
}

func EncodeCameraChange(fov, aspect float32) []byte {
	buf := Append(nil, CameraChange)
	return Append(buf, CameraChangeMsg{FOV: fov, AspectRatio: aspect})
}

func EncodeRemoveObject(id ObjectID) []byte {
	buf := Append(nil, RemoveObject)
	return Append(buf, RemoveObjectMsg{ObjectID: id})
}

func EncodeInput(msg InputMsg) []byte {
	return Append(make([]byte, 0, SizeOf[InputMsg]()), msg)
}

// EncodeState builds a state datagram. It fails when the result would not fit
// in a single packet.
func EncodeState(hdr StateHeader, state []byte) ([]byte, error) {
	if err := CheckStateSize(len(state)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, SizeOf[StateHeader]()+len(state))
	buf = Append(buf, hdr)
	return append(buf, state...), nil
}

// CheckStateSize reports whether a serialized state of n bytes fits in a datagram.
func CheckStateSize(n int) error {
	if total := SizeOf[StateHeader]() + n; total > MaxPacketSize {
		return fmt.Errorf("wire: state datagram of %d bytes exceeds %d", total, MaxPacketSize)
	}
	return nil
}

// ============================================================
// Parsing
// ============================================================

// Reliable is a decoded reliable channel message. Only the field matching
// Type is set.
type Reliable struct {
	Type      MessageType
	Handshake HandshakeMsg
	NewObject NewObjectMsg
	Params    []byte
	Camera    CameraChangeMsg
	Remove    RemoveObjectMsg
}

func ParseReliable(packet []byte) (Reliable, error) {
	var msg Reliable

	t, err := Extract[MessageType](packet, 0)
	if err != nil {
		return msg, err
	}
	msg.Type = t
	offset := SizeOf[MessageType]()

	switch t {
	case Handshake:
		msg.Handshake, err = Extract[HandshakeMsg](packet, offset)
	case NewObject:
		msg.NewObject, err = Extract[NewObjectMsg](packet, offset)
		if err == nil {
			msg.Params = packet[offset+SizeOf[NewObjectMsg]():]
		}
	case CameraChange:
		msg.Camera, err = Extract[CameraChangeMsg](packet, offset)
	case RemoveObject:
		msg.Remove, err = Extract[RemoveObjectMsg](packet, offset)
	default:
		err = &UnknownMessageError{Type: t}
	}
	return msg, err
}

func ParseInput(packet []byte) (InputMsg, error) {
	return Extract[InputMsg](packet, 0)
}

// ParseState splits a state datagram into its header and the serialized state.
func ParseState(packet []byte) (StateHeader, []byte, error) {
	hdr, err := Extract[StateHeader](packet, 0)
	if err != nil {
		return hdr, nil, err
	}
	return hdr, packet[SizeOf[StateHeader]():], nil
}
