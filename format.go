package retrofitgki

import "bytes"

// Format identifies what a kernel or ramdisk payload is compressed with.
// The engine never decodes payloads; this exists for inspection output.
type Format int

const (
	FmtRaw Format = iota
	FmtGzip
	FmtXz
	FmtLzma
	FmtBzip2
	FmtLz4
	FmtLz4Legacy
	FmtLzop
	FmtDtb
)

const (
	GZIP1_MAGIC   = "\x1f\x8b"
	GZIP2_MAGIC   = "\x1f\x9e"
	LZOP_MAGIC    = "\x89LZO"
	XZ_MAGIC      = "\xfd7zXZ"
	BZIP_MAGIC    = "BZh"
	LZ4_LEG_MAGIC = "\x02\x21\x4c\x18"
	LZ41_MAGIC    = "\x03\x21\x4c\x18"
	LZ42_MAGIC    = "\x04\x22\x4d\x18"
	DTB_MAGIC     = "\xd0\x0d\xfe\xed"
)

// SniffFormat reports the compression format of a payload by magic bytes.
func SniffFormat(buf []byte) Format {
	match := func(p string) bool {
		return len(buf) >= len(p) && bytes.Equal([]byte(p), buf[:len(p)])
	}

	switch {
	case match(GZIP1_MAGIC), match(GZIP2_MAGIC):
		return FmtGzip
	case match(LZOP_MAGIC):
		return FmtLzop
	case match(XZ_MAGIC):
		return FmtXz
	case len(buf) >= 13 && bytes.Equal([]byte("\x5d\x00\x00"), buf[:3]) &&
		(buf[12] == '\xff' || buf[12] == '\x00'):
		return FmtLzma
	case match(BZIP_MAGIC):
		return FmtBzip2
	case match(LZ41_MAGIC), match(LZ42_MAGIC):
		return FmtLz4
	case match(LZ4_LEG_MAGIC):
		return FmtLz4Legacy
	case match(DTB_MAGIC):
		return FmtDtb
	default:
		return FmtRaw
	}
}

func (f Format) String() string {
	switch f {
	case FmtGzip:
		return "gzip"
	case FmtXz:
		return "xz"
	case FmtLzma:
		return "lzma"
	case FmtBzip2:
		return "bzip2"
	case FmtLz4:
		return "lz4"
	case FmtLz4Legacy:
		return "lz4_legacy"
	case FmtLzop:
		return "lzop"
	case FmtDtb:
		return "dtb"
	default:
		return "raw"
	}
}
