package eventstream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"kiro2api-go/internal/constants"
)

// Wire layout of one message:
//
//	[4] total length (big-endian)
//	[4] headers length (big-endian)
//	[4] prelude CRC32 (IEEE, over the first 8 bytes)
//	[headers length] headers
//	[...] payload
//	[4] message CRC32 (IEEE, over everything before it)
//
// Each header is name_len(1) + name + value_type(1) + value. Only string
// values (type 7, 2-byte big-endian length prefix) matter here; other typed
// values are skipped by their fixed or prefixed size.
const (
	preludeSize = 8
	crcSize     = 4
	frameWrap   = preludeSize + crcSize + crcSize
)

// Decoder reads frames one at a time from an upstream response body.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, constants.StreamInitialBufferSize)}
}

// Next decodes one frame. It returns io.EOF on a clean end of stream and
// io.ErrUnexpectedEOF if the stream stops mid-frame.
func (d *Decoder) Next() (*Frame, error) {
	prelude := make([]byte, preludeSize)
	if _, err := io.ReadFull(d.r, prelude); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}

	totalLen := binary.BigEndian.Uint32(prelude[0:4])
	headersLen := binary.BigEndian.Uint32(prelude[4:8])

	preludeCRC := make([]byte, crcSize)
	if _, err := io.ReadFull(d.r, preludeCRC); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	if got, want := binary.BigEndian.Uint32(preludeCRC), crc32.ChecksumIEEE(prelude); got != want {
		return nil, fmt.Errorf("eventstream: prelude checksum mismatch (got %08x, want %08x)", got, want)
	}

	if totalLen > constants.StreamMaxBufferSize {
		return nil, fmt.Errorf("eventstream: frame of %d bytes exceeds limit", totalLen)
	}
	if int(totalLen) < frameWrap+int(headersLen) {
		return nil, fmt.Errorf("eventstream: inconsistent lengths (total %d, headers %d)", totalLen, headersLen)
	}

	headers := make([]byte, headersLen)
	if _, err := io.ReadFull(d.r, headers); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	payloadLen := int(totalLen) - frameWrap - int(headersLen)
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	messageCRC := make([]byte, crcSize)
	if _, err := io.ReadFull(d.r, messageCRC); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	sum := crc32.NewIEEE()
	sum.Write(prelude)
	sum.Write(preludeCRC)
	sum.Write(headers)
	sum.Write(payload)
	if got, want := binary.BigEndian.Uint32(messageCRC), sum.Sum32(); got != want {
		return nil, fmt.Errorf("eventstream: message checksum mismatch (got %08x, want %08x)", got, want)
	}

	parsed, err := parseHeaders(headers)
	if err != nil {
		return nil, err
	}
	return &Frame{Headers: parsed, Payload: payload}, nil
}

func parseHeaders(b []byte) (map[string]string, error) {
	out := map[string]string{}
	for off := 0; off < len(b); {
		nameLen := int(b[off])
		off++
		if off+nameLen+1 > len(b) {
			return nil, fmt.Errorf("eventstream: truncated header name")
		}
		name := string(b[off : off+nameLen])
		off += nameLen

		valueType := b[off]
		off++

		switch valueType {
		case 0, 1: // bool true / bool false, no value bytes
		case 2: // byte
			off++
		case 3: // int16
			off += 2
		case 4: // int32
			off += 4
		case 5, 8: // int64, timestamp
			off += 8
		case 6, 7: // byte buffer, string
			if off+2 > len(b) {
				return nil, fmt.Errorf("eventstream: truncated header value length")
			}
			valueLen := int(binary.BigEndian.Uint16(b[off : off+2]))
			off += 2
			if off+valueLen > len(b) {
				return nil, fmt.Errorf("eventstream: truncated header value")
			}
			if valueType == 7 {
				out[name] = string(b[off : off+valueLen])
			}
			off += valueLen
		case 9: // uuid
			off += 16
		default:
			return nil, fmt.Errorf("eventstream: unknown header value type %d", valueType)
		}
		if off > len(b) {
			return nil, fmt.Errorf("eventstream: header overruns block")
		}
	}
	return out, nil
}
