// Package ocd reads and writes version-8 OCD map files, converting between
// the binary format and the map model in internal/model.
//
// The format is little-endian throughout. A file starts with a fixed
// header, followed by a color block at a fixed position; symbol, object
// and string records are reached through chained index blocks of 256
// entries each.
package ocd

import (
	"fmt"
	"math"

	"golang.org/x/text/encoding"
)

// FormatError is a fatal problem with a map file: the buffer is not an OCD
// file, the version is unsupported, or the document cannot be represented.
type FormatError struct {
	msg string
}

func (e *FormatError) Error() string { return e.msg }

func formatErrorf(format string, args ...interface{}) *FormatError {
	return &FormatError{msg: fmt.Sprintf(format, args...)}
}

// Options configures a single import or export call.
type Options struct {
	// SymbolsOnly skips objects, templates and view data on import.
	SymbolsOnly bool

	// NarrowEncoding overrides the single-byte string encoding
	// (default Windows-1252).
	NarrowEncoding encoding.Encoding
	// WideEncoding overrides the two-byte string encoding
	// (default UTF-16 little-endian).
	WideEncoding encoding.Encoding
}

// Detect reports whether buf starts with the OCD magic bytes.
func Detect(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == magic0 && buf[1] == magic1
}

// File header, 48 bytes at offset 0.
const (
	magic0 = 0xAD
	magic1 = 0x0C

	fileTypeNormal = 2

	offMagic            = 0x00 // u16, 0x0CAD
	offFileType         = 0x02 // u16
	offVersionMajor     = 0x04 // u16
	offVersionMinor     = 0x06 // u16
	offFirstSymBlock    = 0x08 // u32
	offFirstObjBlock    = 0x0C // u32
	offSetupPos         = 0x10 // u32
	offSetupSize        = 0x14 // u32
	offInfoPos          = 0x18 // u32
	offInfoSize         = 0x1C // u32
	offFirstStringBlock = 0x20 // u32

	headerSize = 0x30
)

// Color block, fixed position right after the header.
const (
	colorBlockPos   = headerSize
	maxColors       = 256
	colorRecordSize = 72 // s16 number, s16 reserved, 4×u8 CMYK, name[32], spot[32]
	colorBlockSize  = 24 + maxColors*colorRecordSize
)

// Setup record.
const (
	setupCenter = 0x00 // packed point, 8 bytes
	setupScale  = 0x08 // f64
	setupZoom   = 0x10 // f64

	setupSize = 24
)

// Index blocks: u32 offset of the next block, then 256 entries.
const (
	indexBlockEntries = 256

	symIndexEntrySize = 4 // u32 record offset
	objIndexEntrySize = 24
	strIndexEntrySize = 16

	// Object index entry fields.
	objEntryLowerLeft  = 0x00 // packed point
	objEntryUpperRight = 0x08 // packed point
	objEntryPos        = 0x10 // u32
	objEntryLen        = 0x14 // u16
	objEntrySymbol     = 0x16 // s16

	// String index entry fields.
	strEntryPos    = 0x00 // u32
	strEntryLen    = 0x04 // u32
	strEntryType   = 0x08 // s32
	strEntryObject = 0x0C // s32
)

// String record types. Only templates are consumed.
const stringTypeTemplate = 8

// Symbol kinds.
const (
	symKindPoint     = 1
	symKindLine      = 2
	symKindArea      = 3
	symKindText      = 4
	symKindRectangle = 5
)

// Object type tags.
const (
	objTypePoint      = 1
	objTypeLine       = 2
	objTypeArea       = 3
	objTypeText       = 4 // single anchor
	objTypeFormatText = 5 // box
)

// Symbol status bits.
const (
	statusProtected = 1
	statusHidden    = 2
)

// Base flag bits.
const baseFlagRotatable = 1

// Common symbol record prefix, 344 bytes.
const (
	symSize      = 0x00 // s16, total record size in bytes
	symNumber    = 0x02 // s16
	symKind      = 0x04 // s16
	symSubtype   = 0x06 // u8
	symBaseFlags = 0x07 // u8
	symExtent    = 0x08 // s16
	symSelected  = 0x0A // u8
	symStatus    = 0x0B // u8
	symTool      = 0x0C // s16
	symReserved  = 0x0E // s16
	symColors    = 0x10 // 32-byte color-use bit set
	symName      = 0x30 // Pascal string, 32 bytes
	symIcon      = 0x50 // 22×22 4-bit icon, 264 bytes

	symBaseSize = 0x158
)

// Point symbol record: base, group size, then the pattern.
const (
	ptNumGroups      = symBaseSize     // s16, pattern length in point slots
	pointSymHeaderSize = symBaseSize + 4 // 2 reserved bytes after the count
)

// Line symbol record fields.
const (
	lsColor = symBaseSize + 2*iota // s16 main color
	lsWidth                        // s16 main width
	lsEnds                         // u16 cap/join code
	lsBDist                        // s16 pointed-cap length at the start
	lsEDist                        // s16 pointed-cap length at the end
	lsLen                          // s16 main dash or segment length
	lsELen                         // s16 end dash or end segment length
	lsGap                          // s16 main gap
	lsGap2                         // s16 secondary gap
	lsEGap                         // s16 end gap
	lsSMin                         // s16 minimum mid-symbol count
	lsSNum                         // s16 mid symbols per spot
	lsSDist                        // s16 mid-symbol distance
	lsDMode                        // u16 double-line mode
	lsDFlags                       // u16 double-line flags
	lsDColor                       // s16 double-line fill color
	lsLColor                       // s16 left border color
	lsRColor                       // s16 right border color
	lsDWidth                       // s16 double-line fill width
	lsLWidth                       // s16 left border width
	lsRWidth                       // s16 right border width
	lsDLen                         // s16 border dash length
	lsDGap                         // s16 border gap
)

const (
	lsTMode   = lsDGap + 8 // u16, taper mode; 6 reserved bytes before it
	lsTLast   = lsTMode + 2
	lsFColor  = lsTLast + 4 // s16 framing color; 2 reserved bytes before it
	lsFWidth  = lsFColor + 2
	lsFStyle  = lsFWidth + 2
	lsMainPts   = lsFStyle + 2 // s16, mid-symbol pattern length
	lsSecPts    = lsMainPts + 2
	lsCornerPts = lsSecPts + 2
	lsStartPts  = lsCornerPts + 2
	lsEndPts    = lsStartPts + 2

	lineSymHeaderSize = lsEndPts + 4 // 2 reserved bytes at the end
)

// Area symbol record fields.
const (
	asFlags = symBaseSize + 2*iota // u16
	asFill                         // u16, solid fill on/off
	asColor                        // s16
	asHatchMode                    // s16, 0/1/2 hatch angles
	asHatchColor                   // s16
	asHatchWidth                   // s16
	asHatchDist                    // s16
	asHatchAngle1                  // s16, tenths of a degree
	asHatchAngle2                  // s16
	asHatchReserved                // s16
	asPatMode                      // s16, 0 none, 1 aligned, 2 staggered rows
	asPatWidth                     // s16
	asPatHeight                    // s16
	asPatAngle                     // s16
	asPatReserved                  // s16
	asNumPts                       // s16, pattern length in point slots

	areaSymHeaderSize = asNumPts + 2
)

// Text symbol record fields.
const (
	tsFont = symBaseSize // Pascal string, 32 bytes

	tsColor    = tsFont + 32 // s16
	tsFontSize = tsColor + 2 // s16, decipoints
	tsWeight   = tsFontSize + 2
	tsItalic   = tsWeight + 2 // u8
	tsCharset  = tsItalic + 1 // u8
	tsCSpace   = tsCharset + 1
	tsWSpace   = tsCSpace + 2
	tsHAlign   = tsWSpace + 2
	tsLSpace   = tsHAlign + 2 // s16, percent of the font size
	tsPSpace   = tsLSpace + 2
	tsIndent1  = tsPSpace + 2
	tsIndent2  = tsIndent1 + 2
	tsNumTabs  = tsIndent2 + 2
	tsTabs     = tsNumTabs + 2 // 32 × s32

	tsFrMode   = tsTabs + 128 // s16
	tsFrColor  = tsFrMode + 2
	tsFrSize   = tsFrColor + 2 // s16, framing line half width
	tsFrOfsX   = tsFrSize + 2  // s16, shadow offset
	tsFrOfsY   = tsFrOfsX + 2
	tsUnder    = tsFrOfsY + 2 // u8, line below on/off
	tsUnderRes = tsUnder + 1  // u8
	tsUColor   = tsUnderRes + 1
	tsUWidth   = tsUColor + 2
	tsUDist    = tsUWidth + 2

	textSymSize = tsUDist + 4 // 2 reserved bytes at the end
)

// Rectangle symbol record fields.
const (
	rsColor  = symBaseSize + 2*iota // s16
	rsWidth                         // s16
	rsCorner                        // s16, corner radius
	rsFlags                         // u16: 1 grid, 2 number from bottom
	rsCellWidth                     // s16
	rsCellHeight                    // s16
	rsUnnumCells                    // s16
)

const (
	rsUnnumText = rsUnnumCells + 2 // Pascal string, 4 bytes

	rectSymSize = rsUnnumText + 6 // 2 reserved bytes at the end
)

const (
	rectFlagGrid             = 1
	rectFlagNumberFromBottom = 2
)

// Pattern element header, two point slots (16 bytes).
const (
	eltKind     = 0x00 // s16
	eltFlags    = 0x02 // u16
	eltColor    = 0x04 // s16
	eltWidth    = 0x06 // s16
	eltDiameter = 0x08 // s16
	eltNumPts   = 0x0A // s16
	// 4 reserved bytes

	eltHeaderPoints = 2
)

// Pattern element kinds.
const (
	eltKindLine   = 1
	eltKindArea   = 2
	eltKindCircle = 3
	eltKindDot    = 4
)

// Element flag bits (line elements).
const (
	eltFlagRoundCap  = 1
	eltFlagMiterJoin = 4
)

// Object record header, 32 bytes, followed by the points and the text
// payload.
const (
	objSymbol   = 0x00 // s16
	objType     = 0x02 // u8
	objUnicode  = 0x03 // u8
	objNumPts   = 0x04 // s16
	objNumText  = 0x06 // s16
	objAngle    = 0x08 // s16, tenths of a degree

	objHeaderSize = 0x20
)

// maxObjectPoints bounds npts+ntext of a single object record.
const maxObjectPoints = 32768

// pointSize is the byte size of one packed point.
const pointSize = 8

// Point flag bits, stored in the low byte of the packed x and y values.
const (
	pxCtl1 = 1 // first curve control point
	pxCtl2 = 2 // second curve control point

	pyCorner = 1
	pyHole   = 2
	pyDash   = 8
)

// reader provides bounds-checked little-endian access to a file buffer.
// The first out-of-range access latches err; subsequent reads return zero.
type reader struct {
	buf []byte
	err error
}

func (r *reader) ok(off, n int) bool {
	if r.err != nil {
		return false
	}
	if off < 0 || n < 0 || off+n > len(r.buf) {
		r.err = formatErrorf("truncated file: access at %#x+%d beyond %d bytes", off, n, len(r.buf))
		return false
	}
	return true
}

func (r *reader) u8(off int) int {
	if !r.ok(off, 1) {
		return 0
	}
	return int(r.buf[off])
}

func (r *reader) u16(off int) int {
	if !r.ok(off, 2) {
		return 0
	}
	return int(r.buf[off]) | int(r.buf[off+1])<<8
}

func (r *reader) s16(off int) int {
	return int(int16(r.u16(off)))
}

func (r *reader) u32(off int) int {
	if !r.ok(off, 4) {
		return 0
	}
	return int(uint32(r.buf[off]) | uint32(r.buf[off+1])<<8 | uint32(r.buf[off+2])<<16 | uint32(r.buf[off+3])<<24)
}

func (r *reader) s32(off int) int32 {
	return int32(uint32(r.u32(off)))
}

func (r *reader) f64(off int) float64 {
	if !r.ok(off, 8) {
		return 0
	}
	var bits uint64
	for i := 7; i >= 0; i-- {
		bits = bits<<8 | uint64(r.buf[off+i])
	}
	return math.Float64frombits(bits)
}

func (r *reader) bytes(off, n int) []byte {
	if !r.ok(off, n) {
		return nil
	}
	return r.buf[off : off+n]
}

// builder is a growing output buffer with random-access patching, used to
// assemble an export file with its chained index blocks.
type builder struct {
	buf []byte
}

func (b *builder) size() int { return len(b.buf) }

// alloc appends n zero bytes and returns their offset.
func (b *builder) alloc(n int) int {
	off := len(b.buf)
	b.buf = append(b.buf, make([]byte, n)...)
	return off
}

func (b *builder) putU8(off, v int) {
	b.buf[off] = byte(v)
}

func (b *builder) putU16(off, v int) {
	b.buf[off] = byte(v)
	b.buf[off+1] = byte(v >> 8)
}

func (b *builder) putS16(off, v int) { b.putU16(off, int(uint16(int16(v)))) }

func (b *builder) putU32(off, v int) {
	b.buf[off] = byte(v)
	b.buf[off+1] = byte(v >> 8)
	b.buf[off+2] = byte(v >> 16)
	b.buf[off+3] = byte(v >> 24)
}

func (b *builder) putS32(off int, v int32) { b.putU32(off, int(uint32(v))) }

func (b *builder) putF64(off int, v float64) {
	bits := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		b.buf[off+i] = byte(bits >> (8 * i))
	}
}

func (b *builder) copyBytes(off int, src []byte) {
	copy(b.buf[off:], src)
}

// indexChain tracks one chain of index blocks while exporting.
type indexChain struct {
	headOff   int // header field holding the first-block offset
	entrySize int
	blockOff  int
	used      int
}

// addEntry allocates the next entry of the chain, appending and linking a
// new block when the current one is full, and returns the entry's offset.
func (b *builder) addEntry(c *indexChain) int {
	if c.blockOff == 0 || c.used == indexBlockEntries {
		blockSize := 4 + indexBlockEntries*c.entrySize
		next := b.alloc(blockSize)
		if c.blockOff == 0 {
			b.putU32(c.headOff, next)
		} else {
			b.putU32(c.blockOff, next)
		}
		c.blockOff = next
		c.used = 0
	}
	off := c.blockOff + 4 + c.used*c.entrySize
	c.used++
	return off
}
