package rtpwire

import "encoding/binary"

// Remote-control sub-commands packed into an RTCP APP packet's 8-byte
// payload when MessageType is AppMessageRemoteControl. Grounded on
// original_source/Client/Camera/win/ScreenCapturerImpl.cpp's
// MakeMouseAction/MakeKeyboardAction, the only call sites that actually
// interpret this payload: byte 0-1 is always the RemoteControlAction
// (big-endian uint16); the remaining 6 bytes are action-specific.

// MouseAction packs a pointer action: bytes 2-3 are the x coordinate,
// bytes 4-5 the y coordinate, both big-endian uint16, used by every
// RemoteControlAction except RemoteControlWheel (WheelAction) and the
// key actions (KeyAction).
type MouseAction struct {
	Action RemoteControlAction
	X, Y   uint16
}

// MarshalPayload packs the action into an 8-byte APP payload.
func (m MouseAction) MarshalPayload() [8]byte {
	var buf [8]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(m.Action))
	binary.BigEndian.PutUint16(buf[2:4], m.X)
	binary.BigEndian.PutUint16(buf[4:6], m.Y)
	return buf
}

// ParseMouseAction unpacks an 8-byte APP payload as a mouse action.
func ParseMouseAction(payload [8]byte) MouseAction {
	return MouseAction{
		Action: RemoteControlAction(binary.BigEndian.Uint16(payload[0:2])),
		X:      binary.BigEndian.Uint16(payload[2:4]),
		Y:      binary.BigEndian.Uint16(payload[4:6]),
	}
}

// WheelAction packs a mouse-wheel action: bytes 4-7 are a big-endian
// int32 scroll delta (the original's mouseData), bytes 2-3 unused.
type WheelAction struct {
	Delta int32
}

// MarshalPayload packs the wheel action into an 8-byte APP payload with
// RemoteControlWheel as the action code.
func (w WheelAction) MarshalPayload() [8]byte {
	var buf [8]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(RemoteControlWheel))
	binary.BigEndian.PutUint32(buf[4:8], uint32(w.Delta))
	return buf
}

// ParseWheelAction unpacks an 8-byte APP payload as a wheel action.
func ParseWheelAction(payload [8]byte) WheelAction {
	return WheelAction{Delta: int32(binary.BigEndian.Uint32(payload[4:8]))}
}

// KeyAction packs a keyboard action: bytes 2-3 are a big-endian int16
// modifier mask, bytes 4-7 a big-endian int32 virtual key code.
type KeyAction struct {
	Down     bool
	Modifier int16
	Key      int32
}

// MarshalPayload packs the key action into an 8-byte APP payload, using
// RemoteControlKeyDown or RemoteControlKeyUp as the action code.
func (k KeyAction) MarshalPayload() [8]byte {
	var buf [8]byte
	action := RemoteControlKeyUp
	if k.Down {
		action = RemoteControlKeyDown
	}
	binary.BigEndian.PutUint16(buf[0:2], uint16(action))
	binary.BigEndian.PutUint16(buf[2:4], uint16(k.Modifier))
	binary.BigEndian.PutUint32(buf[4:8], uint32(k.Key))
	return buf
}

// ParseKeyAction unpacks an 8-byte APP payload as a keyboard action.
func ParseKeyAction(payload [8]byte) KeyAction {
	action := RemoteControlAction(binary.BigEndian.Uint16(payload[0:2]))
	return KeyAction{
		Down:     action == RemoteControlKeyDown,
		Modifier: int16(binary.BigEndian.Uint16(payload[2:4])),
		Key:      int32(binary.BigEndian.Uint32(payload[4:8])),
	}
}

// ActionOf reads the leading RemoteControlAction code out of any
// remote-control APP payload without decoding the rest of it.
func ActionOf(payload [8]byte) RemoteControlAction {
	return RemoteControlAction(binary.BigEndian.Uint16(payload[0:2]))
}
