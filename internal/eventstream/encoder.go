package eventstream

import (
	"encoding/binary"
	"hash/crc32"
)

// EncodeFrame builds one wire message with string headers. The inverse of
// Decoder.Next; used by the fake upstream in tests.
func EncodeFrame(headers map[string]string, payload []byte) []byte {
	var hdr []byte
	for name, value := range headers {
		hdr = append(hdr, byte(len(name)))
		hdr = append(hdr, name...)
		hdr = append(hdr, 7)
		hdr = binary.BigEndian.AppendUint16(hdr, uint16(len(value)))
		hdr = append(hdr, value...)
	}

	totalLen := frameWrap + len(hdr) + len(payload)
	out := make([]byte, 0, totalLen)
	out = binary.BigEndian.AppendUint32(out, uint32(totalLen))
	out = binary.BigEndian.AppendUint32(out, uint32(len(hdr)))
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[:preludeSize]))
	out = append(out, hdr...)
	out = append(out, payload...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out))
	return out
}

// EncodeEvent frames a normal event payload under the given event type.
func EncodeEvent(eventType string, payload []byte) []byte {
	return EncodeFrame(map[string]string{
		headerMessageType: "event",
		headerEventType:   eventType,
	}, payload)
}
