package ocd

import (
	"math"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// truncationMark is inserted into warning texts at the point where a
// string had to be cut to fit a fixed-size field.
const truncationMark = "|||"

// textCodec converts between the file's byte strings and Go strings. The
// narrow encoding covers Pascal strings and single-byte C strings; the
// wide encoding covers the two-byte text payload of text objects.
type textCodec struct {
	narrow encoding.Encoding
	wide   encoding.Encoding
}

func newTextCodec(opts Options) textCodec {
	tc := textCodec{
		narrow: charmap.Windows1252,
		wide:   unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	}
	if opts.NarrowEncoding != nil {
		tc.narrow = opts.NarrowEncoding
	}
	if opts.WideEncoding != nil {
		tc.wide = opts.WideEncoding
	}
	return tc
}

func (tc textCodec) decodeNarrow(b []byte) string {
	s, err := tc.narrow.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

func (tc textCodec) encodeNarrow(s string) []byte {
	b, err := encoding.ReplaceUnsupported(tc.narrow.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}

// decodePascal decodes a length-prefixed string: the first byte holds the
// payload length, there is no terminator.
func (tc textCodec) decodePascal(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	n := int(b[0])
	if n > len(b)-1 {
		n = len(b) - 1
	}
	return tc.decodeNarrow(b[1 : 1+n])
}

// encodePascal writes s into the fixed-size field, truncating the encoded
// payload to len(field)-1 bytes. On truncation it returns the text with
// the truncation mark inserted at the cut point, and true.
func (tc textCodec) encodePascal(s string, field []byte) (marked string, truncated bool) {
	data := tc.encodeNarrow(s)
	max := len(field) - 1
	if len(data) > max {
		data = data[:max]
		marked = markTruncation(s, max)
		truncated = true
	}
	field[0] = byte(len(data))
	copy(field[1:], data)
	return marked, truncated
}

// decodeCString decodes a zero-terminated single-byte string, scanning at
// most len(b) bytes. CR LF pairs become plain line feeds. When
// ignoreLeadingNewline is set and the text starts with CR LF, the leading
// pair is dropped entirely.
func (tc textCodec) decodeCString(b []byte, ignoreLeadingNewline bool) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	if ignoreLeadingNewline && len(b) >= 2 && b[0] == '\r' && b[1] == '\n' {
		b = b[2:]
		n -= 2
	}
	if n < 0 {
		n = 0
	}
	return strings.ReplaceAll(tc.decodeNarrow(b[:n]), "\r\n", "\n")
}

// encodeCString writes s plus a zero terminator into field, truncating the
// payload to len(field)-1 bytes.
func (tc textCodec) encodeCString(s string, field []byte) (marked string, truncated bool) {
	data := tc.encodeNarrow(s)
	max := len(field) - 1
	if len(data) > max {
		data = data[:max]
		marked = markTruncation(s, max)
		truncated = true
	}
	copy(field, data)
	field[len(data)] = 0
	return marked, truncated
}

// decodeWideCString decodes a two-byte, zero-terminated string of at most
// maxUnits code units. The leading-newline handling matches decodeCString.
func (tc textCodec) decodeWideCString(b []byte, ignoreLeadingNewline bool) string {
	units := len(b) / 2
	n := 0
	for n < units && (b[2*n] != 0 || b[2*n+1] != 0) {
		n++
	}
	if ignoreLeadingNewline && len(b) >= 4 && b[0] == '\r' && b[1] == 0 && b[2] == '\n' && b[3] == 0 {
		b = b[4:]
		n -= 2
	}
	if n < 0 {
		n = 0
	}
	s, err := tc.wide.NewDecoder().Bytes(b[:2*n])
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(string(s), "\r\n", "\n")
}

// encodeWideCString writes s into field with a two-byte zero terminator,
// applying the legacy text normalization first: a body that begins with a
// line break gets an extra one, and all line breaks become CR LF pairs.
// It returns the number of bytes written including the terminator.
func (tc textCodec) encodeWideCString(s string, field []byte) (n int, marked string, truncated bool) {
	exported := s
	if strings.HasPrefix(exported, "\n") {
		exported = "\n" + exported
	}
	exported = strings.ReplaceAll(exported, "\n", "\r\n")

	data, err := tc.wide.NewEncoder().Bytes([]byte(exported))
	if err != nil {
		data = nil
	}
	max := len(field) - 2
	if len(data) > max {
		data = data[:max&^1]
		marked = markTruncation(exported, max/2)
		truncated = true
	}
	copy(field, data)
	field[len(data)] = 0
	field[len(data)+1] = 0
	return len(data) + 2, marked, truncated
}

func markTruncation(s string, pos int) string {
	r := []rune(s)
	if pos > len(r) {
		pos = len(r)
	}
	return string(r[:pos]) + truncationMark + string(r[pos:])
}

// decodeRotation converts tenths of a degree (counterclockwise) to
// radians, shifted into [0, 2π). Hatch pattern rendering requires a
// non-negative angle, so the shift is a correctness requirement rather
// than a cosmetic one.
func decodeRotation(tenths int) float64 {
	a := (math.Pi / 180) * (0.1 * float64(tenths))
	for a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// encodeRotation converts radians to tenths of a degree.
func encodeRotation(rad float64) int {
	return int(math.Round(10 * (rad * 180 / math.Pi)))
}

// decodeSize converts hundredths of a millimeter to map units (1/1000 mm).
func decodeSize(v int) int64 { return int64(v) * 10 }

// encodeSize converts map units to hundredths of a millimeter.
func encodeSize(v int64) int { return int(v / 10) }
