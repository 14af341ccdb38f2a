package retrofitgki

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
)

// BOOT_SIGNATURE_SIZE is the fixed size of the boot signature region
// appended to v2 and v3 destination images. It is independent of the
// header page size.
const BOOT_SIGNATURE_SIZE = 16 * 1024

// RetrofitRequest names the source images and the destination header
// version. VendorBoot is required iff Version is 2 and must be absent
// otherwise.
type RetrofitRequest struct {
	Boot       []byte
	InitBoot   []byte
	VendorBoot []byte
	Version    uint32
}

// LayoutEntry records where one segment landed in the composed image.
// Size is the logical length recorded in the header; PaddedSize is the
// space the segment occupies in the byte stream.
type LayoutEntry struct {
	Name       string `json:"name"`
	Offset     uint64 `json:"offset"`
	Size       uint64 `json:"size"`
	PaddedSize uint64 `json:"padded_size"`
}

// RetrofitResult is the composed destination image. It is immutable once
// returned; Data is ready to be written out as-is.
type RetrofitResult struct {
	Version  uint32 `json:"header_version"`
	PageSize uint32 `json:"page_size"`

	Layout []LayoutEntry `json:"layout"`
	Data   []byte        `json:"-"`
}

// imageLayout accumulates segments in destination order. Planning
// (offsets, logical and padded sizes) is separate from serialization so
// the arithmetic can be tested against the layout constants directly.
type imageLayout struct {
	entries []LayoutEntry
	blobs   [][]byte
	off     uint64
}

// add places data at the current offset, occupying paddedSize bytes.
// paddedSize must be >= len(data); the gap is zero filled on serialize.
func (l *imageLayout) add(name string, data []byte, paddedSize uint64) {
	l.entries = append(l.entries, LayoutEntry{
		Name:       name,
		Offset:     l.off,
		Size:       uint64(len(data)),
		PaddedSize: paddedSize,
	})
	l.blobs = append(l.blobs, data)
	l.off += paddedSize
}

// addAligned places data padded up to the next pageSize boundary.
func (l *imageLayout) addAligned(name string, data []byte, pageSize uint32) {
	l.add(name, data, AlignTo(uint64(len(data)), uint64(pageSize)))
}

func (l *imageLayout) serialize() []byte {
	buf := make([]byte, 0, l.off)
	for i, e := range l.entries {
		buf = append(buf, l.blobs[i]...)
		buf = append(buf, make([]byte, e.PaddedSize-e.Size)...)
	}
	return buf
}

// Retrofit composes a single legacy boot image of the requested header
// version from GKI-era sources. It is a pure batch transform: no state is
// retained across calls and no output is produced on any failure path.
func Retrofit(req RetrofitRequest) (*RetrofitResult, error) {
	switch req.Version {
	case 2, 3, 4:
	default:
		return nil, &SpecViolation{
			Rule: fmt.Sprintf("destination header version %d is not one of 2, 3, 4", req.Version),
		}
	}
	if len(req.Boot) == 0 {
		return nil, &SpecViolation{Rule: "boot.img is required"}
	}
	if len(req.InitBoot) == 0 {
		return nil, &SpecViolation{Rule: "init_boot.img is required"}
	}
	if req.Version == 2 && len(req.VendorBoot) == 0 {
		return nil, &SpecViolation{Rule: "vendor_boot.img is required for a v2 destination"}
	}
	if req.Version != 2 && len(req.VendorBoot) != 0 {
		return nil, &SpecViolation{
			Rule: fmt.Sprintf("vendor_boot.img must be absent for a v%d destination", req.Version),
		}
	}

	boot, err := ParseBootImage("boot.img", req.Boot)
	if err != nil {
		return nil, err
	}
	initBoot, err := ParseBootImage("init_boot.img", req.InitBoot)
	if err != nil {
		return nil, err
	}
	var vendor *VendorBootImage
	if req.Version == 2 {
		if vendor, err = ParseVendorBootImage("vendor_boot.img", req.VendorBoot); err != nil {
			return nil, err
		}
	}

	if err := validateRequest(req.Version, boot, initBoot, vendor); err != nil {
		return nil, err
	}

	if req.Version == 2 {
		return composeV2(boot, initBoot, vendor)
	}
	return composeV34(req.Version, boot, initBoot)
}

// combinedSignature concatenates the pre-existing boot signature blobs,
// boot.img's first. The blobs are copied verbatim, never recomputed.
func combinedSignature(boot, initBoot *BootImage) []byte {
	sig := make([]byte, 0, len(boot.Signature)+len(initBoot.Signature))
	sig = append(sig, boot.Signature...)
	sig = append(sig, initBoot.Signature...)
	return sig
}

// composeV34 lays out a v3 or v4 destination: fixed 4096-byte header page,
// kernel, ramdisk, boot signature. A v3 destination pads the signature
// region to exactly BOOT_SIGNATURE_SIZE; a v4 destination records the
// logical signature size in the header and appends it unpadded.
func composeV34(version uint32, boot, initBoot *BootImage) (*RetrofitResult, error) {
	sig := combinedSignature(boot, initBoot)

	raw := new(BootImgHdrV4)
	copy(raw.Magic[:], BOOT_MAGIC)
	raw.KernelSize = uint32(len(boot.Kernel))
	raw.RamdiskSize = uint32(len(initBoot.Ramdisk))
	raw.OsVersion = boot.Header.OsVersion()
	raw.HeaderVersion = version
	copy(raw.Cmdline[:], boot.Header.Cmdline())
	if version == 4 {
		// Two sources may disagree on the patch level; only the chained
		// verified-boot metadata is authoritative, so the SPL subfield is
		// always written as zero.
		raw.OsVersion &^= (1 << 11) - 1
		raw.HeaderSize = BOOT_IMAGE_HEADER_V4_SIZE
		raw.SignatureSize = uint32(len(sig))
	} else {
		raw.HeaderSize = BOOT_IMAGE_HEADER_V3_SIZE
	}

	hdr := &BootHeader{Version: version, V4: raw}
	hdrPage, err := hdr.Encode()
	if err != nil {
		return nil, err
	}

	l := &imageLayout{}
	l.add("header", hdrPage, uint64(len(hdrPage)))
	l.addAligned("kernel", boot.Kernel, BOOT_IMAGE_HEADER_V3_PAGESIZE)
	l.addAligned("ramdisk", initBoot.Ramdisk, BOOT_IMAGE_HEADER_V3_PAGESIZE)
	if version == 3 {
		l.add("boot_signature", sig, BOOT_SIGNATURE_SIZE)
	} else {
		l.add("boot_signature", sig, uint64(len(sig)))
	}

	return &RetrofitResult{
		Version:  version,
		PageSize: BOOT_IMAGE_HEADER_V3_PAGESIZE,
		Layout:   l.entries,
		Data:     l.serialize(),
	}, nil
}

// composeV2 lays out a v2 destination at the vendor_boot page size: header
// page, kernel, vendor+generic ramdisk, (empty) second stage, zero-size
// recovery dtbo, vendor dtb, 16K boot signature region.
func composeV2(boot, initBoot *BootImage, vendor *VendorBootImage) (*RetrofitResult, error) {
	pageSize := vendor.Header.PageSize()

	// The destination ramdisk is the vendor ramdisk followed by the
	// generic one; the bootloader unpacks them as one stream.
	ramdisk := make([]byte, 0, len(vendor.Ramdisk)+len(initBoot.Ramdisk))
	ramdisk = append(ramdisk, vendor.Ramdisk...)
	ramdisk = append(ramdisk, initBoot.Ramdisk...)

	sig := combinedSignature(boot, initBoot)

	raw := new(BootImgHdrV2)
	copy(raw.Magic[:], BOOT_MAGIC)
	raw.KernelSize = uint32(len(boot.Kernel))
	raw.KernelAddr = vendor.Header.Vnd.KernelAddr
	raw.RamdiskSize = uint32(len(ramdisk))
	raw.RamdiskAddr = vendor.Header.Vnd.RamdiskAddr
	raw.TagsAddr = vendor.Header.Vnd.TagsAddr
	raw.PageSize = pageSize
	raw.HeaderVersion = 2
	raw.OsVersion = boot.Header.OsVersion()
	raw.Name = vendor.Header.Vnd.Name
	// The 1536-byte GKI cmdline splits across the v2 cmdline fields.
	cmdline := boot.Header.Cmdline()
	copy(raw.Cmdline[:], cmdline[:BOOT_ARGS_SIZE])
	copy(raw.ExtraCmdline[:], cmdline[BOOT_ARGS_SIZE:])
	raw.HeaderSize = BOOT_IMAGE_HEADER_V2_SIZE
	raw.DtbSize = uint32(len(vendor.Dtb))
	raw.DtbAddr = vendor.Header.Vnd.DtbAddr
	raw.Id = bootImageId(boot.Kernel, ramdisk, nil, nil, vendor.Dtb)

	hdr := &BootHeader{Version: 2, V2: raw}
	hdrPage, err := hdr.Encode()
	if err != nil {
		return nil, err
	}

	l := &imageLayout{}
	l.add("header", hdrPage, uint64(len(hdrPage)))
	l.addAligned("kernel", boot.Kernel, pageSize)
	l.addAligned("ramdisk", ramdisk, pageSize)
	l.addAligned("second", nil, pageSize)
	l.addAligned("recovery_dtbo", nil, pageSize)
	l.addAligned("dtb", vendor.Dtb, pageSize)
	l.add("boot_signature", sig, BOOT_SIGNATURE_SIZE)

	return &RetrofitResult{
		Version:  2,
		PageSize: pageSize,
		Layout:   l.entries,
		Data:     l.serialize(),
	}, nil
}

// bootImageId reproduces the v0-v2 header id: a SHA-1 over each payload
// followed by its little-endian u32 length, in kernel, ramdisk, second,
// recovery_dtbo, dtb order.
func bootImageId(segments ...[]byte) [BOOT_ID_SIZE]byte {
	h := sha1.New()
	var le [4]byte
	for _, seg := range segments {
		h.Write(seg)
		binary.LittleEndian.PutUint32(le[:], uint32(len(seg)))
		h.Write(le[:])
	}
	var id [BOOT_ID_SIZE]byte
	copy(id[:], h.Sum(nil)) // SHA-1 fills 20 of the 32 bytes
	return id
}
