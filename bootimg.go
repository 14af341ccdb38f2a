package retrofitgki

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const BOOT_MAGIC_SIZE = 8
const BOOT_NAME_SIZE = 16
const BOOT_ID_SIZE = 32
const BOOT_ARGS_SIZE = 512
const BOOT_EXTRA_ARGS_SIZE = 1024
const VENDOR_BOOT_ARGS_SIZE = 2048

const (
	BOOT_MAGIC        = "ANDROID!"
	VENDOR_BOOT_MAGIC = "VNDRBOOT"
)

// Fixed header sizes recorded in the header_size field of each version.
const (
	BOOT_IMAGE_HEADER_V0_SIZE = 1632
	BOOT_IMAGE_HEADER_V1_SIZE = 1648
	BOOT_IMAGE_HEADER_V2_SIZE = 1660
	BOOT_IMAGE_HEADER_V3_SIZE = 1580
	BOOT_IMAGE_HEADER_V4_SIZE = 1584

	VENDOR_BOOT_IMAGE_HEADER_V3_SIZE = 2112
	VENDOR_BOOT_IMAGE_HEADER_V4_SIZE = 2128
)

// Page size is fixed at 4096 bytes for boot image header versions 3 and 4.
const BOOT_IMAGE_HEADER_V3_PAGESIZE = 4096

// The header version discriminant sits at byte offset 40 in both the
// v0-v2 and the v3/v4 boot header layouts.
const bootHeaderVersionOffset = 40

/*
 * When the boot image header has a version of 0 - 2, the structure of the
 * boot image is as follows:
 *
 * +-----------------+
 * | boot header     | 1 page
 * +-----------------+
 * | kernel          | n pages
 * +-----------------+
 * | ramdisk         | m pages
 * +-----------------+
 * | second stage    | o pages
 * +-----------------+
 * | recovery dtbo   | p pages  (v1+)
 * +-----------------+
 * | dtb             | q pages  (v2)
 * +-----------------+
 *
 * All entries are aligned to the page size declared in the header.
 */

type BootImgHdrV0 struct {
	Magic         [BOOT_MAGIC_SIZE]byte
	KernelSize    uint32 // size in bytes
	KernelAddr    uint32 // physical load addr
	RamdiskSize   uint32 // size in bytes
	RamdiskAddr   uint32 // physical load addr
	SecondSize    uint32 // size in bytes
	SecondAddr    uint32 // physical load addr
	TagsAddr      uint32
	PageSize      uint32
	HeaderVersion uint32
	OsVersion     uint32
	Name          [BOOT_NAME_SIZE]byte
	Cmdline       [BOOT_ARGS_SIZE]byte
	Id            [BOOT_ID_SIZE]byte
	ExtraCmdline  [BOOT_EXTRA_ARGS_SIZE]byte
} // 1632 bytes

type BootImgHdrV1 struct {
	BootImgHdrV0
	RecoveryDtboSize   uint32
	RecoveryDtboOffset uint64
	HeaderSize         uint32
} // 1648 bytes

type BootImgHdrV2 struct {
	BootImgHdrV1
	DtbSize uint32
	DtbAddr uint64
} // 1660 bytes

/*
 * When the boot image header has a version of 3 - 4, the structure of the
 * boot image is as follows:
 *
 * +---------------------+
 * | boot header         | 4096 bytes
 * +---------------------+
 * | kernel              | m pages
 * +---------------------+
 * | ramdisk             | n pages
 * +---------------------+
 * | boot signature      |
 * +---------------------+
 *
 * Page size is fixed at 4096 bytes. Only v4 records the signature size in
 * the header; a v3 image carries the signature as a fixed 16K trailer.
 */

type BootImgHdrV3 struct {
	Magic         [BOOT_MAGIC_SIZE]byte
	KernelSize    uint32
	RamdiskSize   uint32
	OsVersion     uint32
	HeaderSize    uint32
	Reserved      [4]uint32
	HeaderVersion uint32
	Cmdline       [BOOT_ARGS_SIZE + BOOT_EXTRA_ARGS_SIZE]byte
} // 1580 bytes

type BootImgHdrV4 struct {
	BootImgHdrV3
	SignatureSize uint32
} // 1584 bytes

/*
 * The structure of the vendor boot image:
 *
 * +------------------------+
 * | vendor boot header     | o pages
 * +------------------------+
 * | vendor ramdisk section | p pages
 * +------------------------+
 * | dtb                    | q pages
 * +------------------------+
 * | vendor ramdisk table   | r pages  (v4)
 * +------------------------+
 * | bootconfig             | s pages  (v4)
 * +------------------------+
 */

type BootImgHdrVndV3 struct {
	Magic         [BOOT_MAGIC_SIZE]byte
	HeaderVersion uint32
	PageSize      uint32
	KernelAddr    uint32
	RamdiskAddr   uint32
	RamdiskSize   uint32
	Cmdline       [VENDOR_BOOT_ARGS_SIZE]byte
	TagsAddr      uint32
	Name          [BOOT_NAME_SIZE]byte
	HeaderSize    uint32
	DtbSize       uint32
	DtbAddr       uint64
} // 2112 bytes

type BootImgHdrVndV4 struct {
	BootImgHdrVndV3
	VendorRamdiskTableSize      uint32
	VendorRamdiskTableEntryNum  uint32
	VendorRamdiskTableEntrySize uint32
	BootconfigSize              uint32
} // 2128 bytes

// BootHeader is the decoded form of a boot image header. It is a tagged
// variant: exactly one of the two raw payloads is populated, selected by
// Version. Versions 0-2 share the V2 superset layout (fields a lower
// version lacks stay zero), versions 3-4 share the V4 superset.
type BootHeader struct {
	Version uint32
	V2      *BootImgHdrV2
	V4      *BootImgHdrV4
}

func (h *BootHeader) PageSize() uint32 {
	if h.Version >= 3 {
		return BOOT_IMAGE_HEADER_V3_PAGESIZE
	}
	return h.V2.PageSize
}

func (h *BootHeader) KernelSize() uint32 {
	if h.Version >= 3 {
		return h.V4.KernelSize
	}
	return h.V2.KernelSize
}

func (h *BootHeader) RamdiskSize() uint32 {
	if h.Version >= 3 {
		return h.V4.RamdiskSize
	}
	return h.V2.RamdiskSize
}

func (h *BootHeader) SecondSize() uint32 {
	if h.Version >= 3 {
		return 0
	}
	return h.V2.SecondSize
}

func (h *BootHeader) RecoveryDtboSize() uint32 {
	if h.Version < 1 || h.Version >= 3 {
		return 0
	}
	return h.V2.RecoveryDtboSize
}

func (h *BootHeader) DtbSize() uint32 {
	if h.Version != 2 {
		return 0
	}
	return h.V2.DtbSize
}

func (h *BootHeader) SignatureSize() uint32 {
	if h.Version != 4 {
		return 0
	}
	return h.V4.SignatureSize
}

func (h *BootHeader) OsVersion() uint32 {
	if h.Version >= 3 {
		return h.V4.OsVersion
	}
	return h.V2.OsVersion
}

// Cmdline returns the full kernel command line. For versions 0-2 this is
// the 512-byte cmdline followed by the 1024-byte extra cmdline.
func (h *BootHeader) Cmdline() []byte {
	if h.Version >= 3 {
		return h.V4.Cmdline[:]
	}
	out := make([]byte, 0, BOOT_ARGS_SIZE+BOOT_EXTRA_ARGS_SIZE)
	out = append(out, h.V2.Cmdline[:]...)
	out = append(out, h.V2.ExtraCmdline[:]...)
	return out
}

func bootHeaderSize(version uint32) int {
	switch version {
	case 0:
		return BOOT_IMAGE_HEADER_V0_SIZE
	case 1:
		return BOOT_IMAGE_HEADER_V1_SIZE
	case 2:
		return BOOT_IMAGE_HEADER_V2_SIZE
	case 3:
		return BOOT_IMAGE_HEADER_V3_SIZE
	case 4:
		return BOOT_IMAGE_HEADER_V4_SIZE
	}
	return 0
}

// declaredHeaderSize returns the header_size field, or 0 for v0 which
// predates the field.
func (h *BootHeader) declaredHeaderSize() uint32 {
	switch h.Version {
	case 0:
		return 0
	case 1, 2:
		return h.V2.HeaderSize
	default:
		return h.V4.HeaderSize
	}
}

// DecodeBootHeader parses a boot image header of any supported version
// (0-4). name identifies the source file in errors.
func DecodeBootHeader(name string, data []byte) (*BootHeader, error) {
	if len(data) < BOOT_MAGIC_SIZE {
		return nil, &FormatError{File: name, Err: ErrTruncatedHeader}
	}
	if !bytes.Equal(data[:BOOT_MAGIC_SIZE], []byte(BOOT_MAGIC)) {
		return nil, &FormatError{File: name, Err: ErrInvalidMagic}
	}
	if len(data) < bootHeaderVersionOffset+4 {
		return nil, &FormatError{File: name, Offset: int64(len(data)), Err: ErrTruncatedHeader}
	}
	version := binary.LittleEndian.Uint32(data[bootHeaderVersionOffset:])
	if version > 4 {
		return nil, &FormatError{
			File:   name,
			Offset: bootHeaderVersionOffset,
			Err:    fmt.Errorf("%w: %d", ErrUnsupportedVersion, version),
		}
	}

	need := bootHeaderSize(version)
	if len(data) < need {
		return nil, &FormatError{File: name, Offset: int64(len(data)), Err: ErrTruncatedHeader}
	}

	hdr := &BootHeader{Version: version}
	r := bytes.NewReader(data)
	var err error
	switch version {
	case 0:
		hdr.V2 = new(BootImgHdrV2)
		err = binary.Read(r, binary.LittleEndian, &hdr.V2.BootImgHdrV0)
	case 1:
		hdr.V2 = new(BootImgHdrV2)
		err = binary.Read(r, binary.LittleEndian, &hdr.V2.BootImgHdrV1)
	case 2:
		hdr.V2 = new(BootImgHdrV2)
		err = binary.Read(r, binary.LittleEndian, hdr.V2)
	case 3:
		hdr.V4 = new(BootImgHdrV4)
		err = binary.Read(r, binary.LittleEndian, &hdr.V4.BootImgHdrV3)
	case 4:
		hdr.V4 = new(BootImgHdrV4)
		err = binary.Read(r, binary.LittleEndian, hdr.V4)
	}
	if err != nil {
		return nil, &FormatError{File: name, Err: ErrTruncatedHeader}
	}

	if declared := hdr.declaredHeaderSize(); declared != 0 && declared != uint32(need) {
		return nil, &FormatError{
			File: name,
			Err:  fmt.Errorf("header_size %d does not match the v%d layout size %d", declared, version, need),
		}
	}
	if version < 3 {
		if ps := hdr.V2.PageSize; ps == 0 || ps&(ps-1) != 0 {
			return nil, &FormatError{
				File: name,
				Err:  fmt.Errorf("page size %d is not a power of two", ps),
			}
		}
	}
	return hdr, nil
}

// Encode serializes the header into a full header page, zero padded up to
// the image page size. Reserved fields are always written as zero.
func (h *BootHeader) Encode() ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch h.Version {
	case 0:
		err = binary.Write(&buf, binary.LittleEndian, h.V2.BootImgHdrV0)
	case 1:
		err = binary.Write(&buf, binary.LittleEndian, h.V2.BootImgHdrV1)
	case 2:
		err = binary.Write(&buf, binary.LittleEndian, h.V2)
	case 3:
		err = binary.Write(&buf, binary.LittleEndian, h.V4.BootImgHdrV3)
	case 4:
		err = binary.Write(&buf, binary.LittleEndian, h.V4)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if err != nil {
		return nil, err
	}
	buf.Write(Padding(uint64(buf.Len()), uint64(h.PageSize())))
	return buf.Bytes(), nil
}

// VendorBootHeader is the decoded form of a vendor boot image header
// (versions 3 and 4). The v4-only fields stay zero for v3.
type VendorBootHeader struct {
	Version uint32
	Vnd     BootImgHdrVndV4
}

func (h *VendorBootHeader) PageSize() uint32    { return h.Vnd.PageSize }
func (h *VendorBootHeader) RamdiskSize() uint32 { return h.Vnd.RamdiskSize }
func (h *VendorBootHeader) DtbSize() uint32     { return h.Vnd.DtbSize }

func (h *VendorBootHeader) HeaderSize() uint32 {
	if h.Version >= 4 {
		return VENDOR_BOOT_IMAGE_HEADER_V4_SIZE
	}
	return VENDOR_BOOT_IMAGE_HEADER_V3_SIZE
}

// DecodeVendorBootHeader parses a vendor boot image header (v3 or v4).
func DecodeVendorBootHeader(name string, data []byte) (*VendorBootHeader, error) {
	if len(data) < BOOT_MAGIC_SIZE {
		return nil, &FormatError{File: name, Err: ErrTruncatedHeader}
	}
	if !bytes.Equal(data[:BOOT_MAGIC_SIZE], []byte(VENDOR_BOOT_MAGIC)) {
		return nil, &FormatError{File: name, Err: ErrInvalidMagic}
	}
	if len(data) < BOOT_MAGIC_SIZE+4 {
		return nil, &FormatError{File: name, Offset: int64(len(data)), Err: ErrTruncatedHeader}
	}
	version := binary.LittleEndian.Uint32(data[BOOT_MAGIC_SIZE:])
	if version < 3 || version > 4 {
		return nil, &FormatError{
			File:   name,
			Offset: BOOT_MAGIC_SIZE,
			Err:    fmt.Errorf("%w: vendor boot %d", ErrUnsupportedVersion, version),
		}
	}

	need := VENDOR_BOOT_IMAGE_HEADER_V3_SIZE
	if version == 4 {
		need = VENDOR_BOOT_IMAGE_HEADER_V4_SIZE
	}
	if len(data) < need {
		return nil, &FormatError{File: name, Offset: int64(len(data)), Err: ErrTruncatedHeader}
	}

	hdr := &VendorBootHeader{Version: version}
	r := bytes.NewReader(data)
	var err error
	if version == 4 {
		err = binary.Read(r, binary.LittleEndian, &hdr.Vnd)
	} else {
		err = binary.Read(r, binary.LittleEndian, &hdr.Vnd.BootImgHdrVndV3)
	}
	if err != nil {
		return nil, &FormatError{File: name, Err: ErrTruncatedHeader}
	}

	if declared := hdr.Vnd.HeaderSize; declared != uint32(need) {
		return nil, &FormatError{
			File: name,
			Err:  fmt.Errorf("header_size %d does not match the vendor v%d layout size %d", declared, version, need),
		}
	}
	if ps := hdr.Vnd.PageSize; ps == 0 || ps&(ps-1) != 0 {
		return nil, &FormatError{
			File: name,
			Err:  fmt.Errorf("page size %d is not a power of two", ps),
		}
	}
	return hdr, nil
}

// Encode serializes the vendor header, zero padded up to a whole number of
// pages.
func (h *VendorBootHeader) Encode() ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if h.Version >= 4 {
		err = binary.Write(&buf, binary.LittleEndian, h.Vnd)
	} else {
		err = binary.Write(&buf, binary.LittleEndian, h.Vnd.BootImgHdrVndV3)
	}
	if err != nil {
		return nil, err
	}
	buf.Write(Padding(uint64(buf.Len()), uint64(h.PageSize())))
	return buf.Bytes(), nil
}
