package retrofitgki

import "fmt"

// SegmentKind tags a page-aligned byte range inside a boot image.
type SegmentKind int

const (
	SegKernel SegmentKind = iota
	SegRamdisk
	SegSecond
	SegRecoveryDtbo
	SegDtb
	SegBootSignature
	SegVendorRamdiskTable
	SegBootconfig
)

func (k SegmentKind) String() string {
	switch k {
	case SegKernel:
		return "kernel"
	case SegRamdisk:
		return "ramdisk"
	case SegSecond:
		return "second"
	case SegRecoveryDtbo:
		return "recovery_dtbo"
	case SegDtb:
		return "dtb"
	case SegBootSignature:
		return "boot_signature"
	case SegVendorRamdiskTable:
		return "vendor_ramdisk_table"
	case SegBootconfig:
		return "bootconfig"
	}
	return "unknown"
}

// Segment is a borrowed view into a source image, trimmed to the logical
// (unpadded) length declared in the header. It is never mutated.
type Segment struct {
	Kind   SegmentKind
	Offset int64
	Data   []byte
}

// segmentWalker slices declared segments out of an image, advancing by the
// page-aligned occupied length of each.
type segmentWalker struct {
	name     string
	data     []byte
	off      uint64
	pageSize uint64
}

func (w *segmentWalker) next(kind SegmentKind, size uint32) (Segment, error) {
	// The declared bytes must be present in full; the trailing page
	// padding may be absent when this is the last segment of the file
	// (a v4 boot signature is written unpadded).
	if w.off+uint64(size) > uint64(len(w.data)) {
		return Segment{}, &FormatError{
			File:   w.name,
			Offset: int64(w.off),
			Err:    fmt.Errorf("%w: %s (%d bytes declared)", ErrTruncatedSegment, kind, size),
		}
	}
	seg := Segment{
		Kind:   kind,
		Offset: int64(w.off),
		Data:   w.data[w.off : w.off+uint64(size)],
	}
	w.off += AlignTo(uint64(size), w.pageSize)
	return seg, nil
}

// BootImage is a decoded boot.img or init_boot.img: the header plus the
// ordered segments it declares. Segment fields alias raw, which the caller
// must keep alive for the duration of one composition.
type BootImage struct {
	Name     string
	Header   *BootHeader
	Segments []Segment

	Kernel       []byte
	Ramdisk      []byte
	Second       []byte
	RecoveryDtbo []byte
	Dtb          []byte
	Signature    []byte
}

// ParseBootImage decodes the header of a boot image and slices out every
// declared segment with bounds checking.
func ParseBootImage(name string, raw []byte) (*BootImage, error) {
	hdr, err := DecodeBootHeader(name, raw)
	if err != nil {
		return nil, err
	}

	img := &BootImage{Name: name, Header: hdr}
	w := &segmentWalker{
		name:     name,
		data:     raw,
		off:      uint64(hdr.PageSize()), // the header occupies one page
		pageSize: uint64(hdr.PageSize()),
	}

	walk := func(dst *[]byte, kind SegmentKind, size uint32) error {
		seg, err := w.next(kind, size)
		if err != nil {
			return err
		}
		*dst = seg.Data
		img.Segments = append(img.Segments, seg)
		return nil
	}

	if err := walk(&img.Kernel, SegKernel, hdr.KernelSize()); err != nil {
		return nil, err
	}
	if err := walk(&img.Ramdisk, SegRamdisk, hdr.RamdiskSize()); err != nil {
		return nil, err
	}
	if err := walk(&img.Second, SegSecond, hdr.SecondSize()); err != nil {
		return nil, err
	}
	if err := walk(&img.RecoveryDtbo, SegRecoveryDtbo, hdr.RecoveryDtboSize()); err != nil {
		return nil, err
	}
	if err := walk(&img.Dtb, SegDtb, hdr.DtbSize()); err != nil {
		return nil, err
	}
	if err := walk(&img.Signature, SegBootSignature, hdr.SignatureSize()); err != nil {
		return nil, err
	}
	return img, nil
}

// VendorBootImage is a decoded vendor_boot.img.
type VendorBootImage struct {
	Name     string
	Header   *VendorBootHeader
	Segments []Segment

	Ramdisk      []byte
	Dtb          []byte
	RamdiskTable []byte
	Bootconfig   []byte
}

// ParseVendorBootImage decodes a vendor boot image (v3 or v4) and slices
// out the vendor ramdisk section, the dtb, and for v4 the ramdisk table
// and bootconfig.
func ParseVendorBootImage(name string, raw []byte) (*VendorBootImage, error) {
	hdr, err := DecodeVendorBootHeader(name, raw)
	if err != nil {
		return nil, err
	}

	img := &VendorBootImage{Name: name, Header: hdr}
	w := &segmentWalker{
		name:     name,
		data:     raw,
		off:      AlignTo(uint64(hdr.HeaderSize()), uint64(hdr.PageSize())),
		pageSize: uint64(hdr.PageSize()),
	}

	walk := func(dst *[]byte, kind SegmentKind, size uint32) error {
		seg, err := w.next(kind, size)
		if err != nil {
			return err
		}
		*dst = seg.Data
		img.Segments = append(img.Segments, seg)
		return nil
	}

	if err := walk(&img.Ramdisk, SegRamdisk, hdr.RamdiskSize()); err != nil {
		return nil, err
	}
	if err := walk(&img.Dtb, SegDtb, hdr.DtbSize()); err != nil {
		return nil, err
	}
	if hdr.Version >= 4 {
		if err := walk(&img.RamdiskTable, SegVendorRamdiskTable, hdr.Vnd.VendorRamdiskTableSize); err != nil {
			return nil, err
		}
		if err := walk(&img.Bootconfig, SegBootconfig, hdr.Vnd.BootconfigSize); err != nil {
			return nil, err
		}
	}
	return img, nil
}
