// SPDX-License-Identifier: GPL-3.0-or-later

package ndt

import (
	"errors"
	"fmt"

	"github.com/measurement-kit/netcore/buffer"
)

// MessageType is the NDT wire-format message type tag.
type MessageType uint8

const (
	CommFailure     MessageType = 0x00
	SrvQueue        MessageType = 0x01
	MsgLogin        MessageType = 0x02
	TestPrepare     MessageType = 0x03
	TestStart       MessageType = 0x04
	TestMsg         MessageType = 0x05
	TestFinalize    MessageType = 0x06
	MsgError        MessageType = 0x07
	MsgResults      MessageType = 0x08
	MsgLogout       MessageType = 0x09
	MsgWaiting      MessageType = 0x0A
	MsgExtendedLogin MessageType = 0x0B
)

// maxPayloadLen is the largest payload a u16 length-prefix can address.
const maxPayloadLen = 65535

// ErrMessageTooLong is returned by [EncodeMessage] when payload exceeds
// 65535 bytes.
var ErrMessageTooLong = errors.New("ndt: message payload exceeds 65535 bytes")

// kickoffPrelude is the exact, non-framed bytes an NDT server sends before
// the real protocol begins.
const kickoffPrelude = "123456 654321"

// Message is a single decoded NDT wire-format frame.
type Message struct {
	Type    MessageType
	Payload []byte
}

// EncodeMessage serialises typ/payload as `u8 type, u16 length_be, payload`.
func EncodeMessage(typ MessageType, payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadLen {
		return nil, ErrMessageTooLong
	}
	var buf buffer.Buffer
	buf.WriteUint8BE(uint8(typ))
	buf.WriteUint16BE(uint16(len(payload)))
	buf.Write(payload)
	return buf.Bytes(), nil
}

// EncodeJSONMessage wraps EncodeMessage for a `{"msg": body}`-shaped
// payload, matching every structured NDT message's minimal JSON body.
func EncodeJSONMessage(typ MessageType, msg string) ([]byte, error) {
	payload := fmt.Sprintf(`{"msg":%q}`, msg)
	return EncodeMessage(typ, []byte(payload))
}
