package retrofitgki_test

import (
	"bytes"
	"errors"
	"testing"

	"retrofitgki"
)

// makeGkiBoot builds a v3/v4 source image at the fixed 4096-byte page
// size. A v3 source cannot declare a signature; pass nil.
func makeGkiBoot(t *testing.T, version uint32, kernel, ramdisk, sig []byte, osVersion uint32) []byte {
	t.Helper()
	raw := &retrofitgki.BootImgHdrV4{}
	copy(raw.Magic[:], retrofitgki.BOOT_MAGIC)
	raw.KernelSize = uint32(len(kernel))
	raw.RamdiskSize = uint32(len(ramdisk))
	raw.OsVersion = osVersion
	raw.HeaderVersion = version
	copy(raw.Cmdline[:], "console=ttyMSM0 androidboot.hardware=qcom")
	if version == 4 {
		raw.HeaderSize = retrofitgki.BOOT_IMAGE_HEADER_V4_SIZE
		raw.SignatureSize = uint32(len(sig))
	} else {
		raw.HeaderSize = retrofitgki.BOOT_IMAGE_HEADER_V3_SIZE
		if len(sig) > 0 {
			t.Fatal("a v3 source header cannot declare a signature")
		}
	}

	hdr := &retrofitgki.BootHeader{Version: version, V4: raw}
	out, err := hdr.Encode()
	if err != nil {
		t.Fatal(err)
	}
	for _, seg := range [][]byte{kernel, ramdisk, sig} {
		out = append(out, seg...)
		out = append(out, retrofitgki.Padding(uint64(len(seg)), retrofitgki.BOOT_IMAGE_HEADER_V3_PAGESIZE)...)
	}
	return out
}

func makeVendorBoot(t *testing.T, version uint32, pageSize uint32, ramdisk, dtb []byte) []byte {
	t.Helper()
	vnd := retrofitgki.BootImgHdrVndV4{}
	copy(vnd.Magic[:], retrofitgki.VENDOR_BOOT_MAGIC)
	vnd.HeaderVersion = version
	vnd.PageSize = pageSize
	vnd.KernelAddr = 0x10008000
	vnd.RamdiskAddr = 0x11000000
	vnd.RamdiskSize = uint32(len(ramdisk))
	copy(vnd.Cmdline[:], "androidboot.console=ttyMSM0")
	vnd.TagsAddr = 0x10000100
	copy(vnd.Name[:], "sm8250")
	vnd.DtbSize = uint32(len(dtb))
	vnd.DtbAddr = 0x11f00000
	if version == 4 {
		vnd.HeaderSize = retrofitgki.VENDOR_BOOT_IMAGE_HEADER_V4_SIZE
	} else {
		vnd.HeaderSize = retrofitgki.VENDOR_BOOT_IMAGE_HEADER_V3_SIZE
	}

	hdr := &retrofitgki.VendorBootHeader{Version: version, Vnd: vnd}
	out, err := hdr.Encode()
	if err != nil {
		t.Fatal(err)
	}
	for _, seg := range [][]byte{ramdisk, dtb} {
		out = append(out, seg...)
		out = append(out, retrofitgki.Padding(uint64(len(seg)), uint64(pageSize))...)
	}
	return out
}

// makeLegacyBoot builds a pre-GKI v2 boot image, used to check source
// version enforcement.
func makeLegacyBoot(t *testing.T) []byte {
	t.Helper()
	hdr := legacyHeader(t, 2)
	out, err := hdr.Encode()
	if err != nil {
		t.Fatal(err)
	}
	for _, size := range []uint32{hdr.KernelSize(), hdr.RamdiskSize(), hdr.DtbSize()} {
		out = append(out, make([]byte, retrofitgki.AlignTo(uint64(size), uint64(hdr.PageSize())))...)
	}
	return out
}

const osVersionQ = uint32(12<<14<<11) | 0x2c4 // os version 12.0.0, some patch level

func TestRetrofitV4(t *testing.T) {
	kernel := bytes.Repeat([]byte{0xAB}, 8192)
	bootSig := bytes.Repeat([]byte{0xB5}, 512)
	ramdisk := bytes.Repeat([]byte{0xCD}, 4096)
	initSig := bytes.Repeat([]byte{0xD5}, 512)

	res, err := retrofitgki.Retrofit(retrofitgki.RetrofitRequest{
		Boot:     makeGkiBoot(t, 4, kernel, nil, bootSig, osVersionQ),
		InitBoot: makeGkiBoot(t, 4, nil, ramdisk, initSig, osVersionQ),
		Version:  4,
	})
	if err != nil {
		t.Fatal(err)
	}

	// header page + 2 kernel pages + 1 ramdisk page + 1024 signature
	// bytes, written unpadded.
	if want := 4096 + 8192 + 4096 + 1024; len(res.Data) != want {
		t.Fatalf("composed size: want %d, got %d", want, len(res.Data))
	}

	out, err := retrofitgki.ParseBootImage("retrofitted", res.Data)
	if err != nil {
		t.Fatal(err)
	}
	if out.Header.Version != 4 {
		t.Fatalf("destination version: %d", out.Header.Version)
	}
	if !bytes.Equal(out.Kernel, kernel) {
		t.Fatal("kernel does not match boot.img's kernel")
	}
	if !bytes.Equal(out.Ramdisk, ramdisk) {
		t.Fatal("ramdisk does not match init_boot.img's ramdisk")
	}
	wantSig := append(append([]byte{}, bootSig...), initSig...)
	if !bytes.Equal(out.Signature, wantSig) {
		t.Fatal("signature is not boot.img's followed by init_boot.img's")
	}
	if got := out.Header.V4.SignatureSize; got != 1024 {
		t.Fatalf("signature_size: want 1024, got %d", got)
	}
	// The SPL subfield must be zero regardless of the source values.
	if got := out.Header.OsVersion(); got != uint32(12<<14<<11) {
		t.Fatalf("os_version: want SPL bits cleared, got %#x", got)
	}
}

func TestRetrofitV3(t *testing.T) {
	kernel := bytes.Repeat([]byte{0xAB}, 8192)
	bootSig := bytes.Repeat([]byte{0xB5}, 512)
	ramdisk := bytes.Repeat([]byte{0xCD}, 4096)
	initSig := bytes.Repeat([]byte{0xD5}, 512)

	res, err := retrofitgki.Retrofit(retrofitgki.RetrofitRequest{
		Boot:     makeGkiBoot(t, 4, kernel, nil, bootSig, osVersionQ),
		InitBoot: makeGkiBoot(t, 4, nil, ramdisk, initSig, osVersionQ),
		Version:  3,
	})
	if err != nil {
		t.Fatal(err)
	}

	if want := 4096 + 8192 + 4096 + retrofitgki.BOOT_SIGNATURE_SIZE; len(res.Data) != want {
		t.Fatalf("composed size: want %d, got %d", want, len(res.Data))
	}

	out, err := retrofitgki.ParseBootImage("retrofitted", res.Data)
	if err != nil {
		t.Fatal(err)
	}
	if out.Header.Version != 3 {
		t.Fatalf("destination version: %d", out.Header.Version)
	}
	// v3 keeps the source os_version including the patch level.
	if got := out.Header.OsVersion(); got != osVersionQ {
		t.Fatalf("os_version: want %#x, got %#x", osVersionQ, got)
	}

	// The signature region is the two blobs zero padded to exactly 16K.
	region := res.Data[len(res.Data)-retrofitgki.BOOT_SIGNATURE_SIZE:]
	wantSig := append(append([]byte{}, bootSig...), initSig...)
	if !bytes.Equal(region[:1024], wantSig) {
		t.Fatal("signature region does not start with the concatenated blobs")
	}
	if !bytes.Equal(region[1024:], make([]byte, retrofitgki.BOOT_SIGNATURE_SIZE-1024)) {
		t.Fatal("signature region is not zero padded")
	}

	last := res.Layout[len(res.Layout)-1]
	if last.Name != "boot_signature" || last.Size != 1024 ||
		last.PaddedSize != retrofitgki.BOOT_SIGNATURE_SIZE ||
		last.Offset != 4096+8192+4096 {
		t.Fatalf("signature layout entry: %+v", last)
	}
}

func TestRetrofitV3SignatureCapacity(t *testing.T) {
	bootSig := bytes.Repeat([]byte{0xB5}, 9000)
	initSig := bytes.Repeat([]byte{0xD5}, 9000)

	_, err := retrofitgki.Retrofit(retrofitgki.RetrofitRequest{
		Boot:     makeGkiBoot(t, 4, bytes.Repeat([]byte{0xAB}, 4096), nil, bootSig, 0),
		InitBoot: makeGkiBoot(t, 4, nil, bytes.Repeat([]byte{0xCD}, 4096), initSig, 0),
		Version:  3,
	})
	var cerr *retrofitgki.CapacityError
	if !errors.As(err, &cerr) {
		t.Fatalf("want *CapacityError, got %v", err)
	}
	if cerr.Size != 18000 || cerr.Limit != retrofitgki.BOOT_SIGNATURE_SIZE {
		t.Fatalf("capacity error detail: %+v", cerr)
	}
}

func TestRetrofitV2(t *testing.T) {
	kernel := bytes.Repeat([]byte{0xAB}, 5000)
	bootSig := bytes.Repeat([]byte{0xB5}, 512)
	generic := bytes.Repeat([]byte{0xCD}, 2000)
	initSig := bytes.Repeat([]byte{0xD5}, 512)
	vendorRamdisk := bytes.Repeat([]byte{0xEF}, 3000)
	dtb := bytes.Repeat([]byte{0xDB}, 1500)

	res, err := retrofitgki.Retrofit(retrofitgki.RetrofitRequest{
		Boot:       makeGkiBoot(t, 4, kernel, nil, bootSig, osVersionQ),
		InitBoot:   makeGkiBoot(t, 4, nil, generic, initSig, osVersionQ),
		VendorBoot: makeVendorBoot(t, 3, 2048, vendorRamdisk, dtb),
		Version:    2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.PageSize != 2048 {
		t.Fatalf("destination page size: want vendor_boot's 2048, got %d", res.PageSize)
	}

	out, err := retrofitgki.ParseBootImage("retrofitted", res.Data)
	if err != nil {
		t.Fatal(err)
	}
	if out.Header.Version != 2 {
		t.Fatalf("destination version: %d", out.Header.Version)
	}
	if !bytes.Equal(out.Kernel, kernel) {
		t.Fatal("kernel does not match boot.img's kernel")
	}

	wantRamdisk := append(append([]byte{}, vendorRamdisk...), generic...)
	if !bytes.Equal(out.Ramdisk, wantRamdisk) {
		t.Fatal("ramdisk is not vendor ramdisk followed by generic ramdisk")
	}
	if got := out.Header.RecoveryDtboSize(); got != 0 {
		t.Fatalf("recovery_dtbo size: want 0, got %d", got)
	}
	if !bytes.Equal(out.Dtb, dtb) {
		t.Fatal("dtb does not match vendor_boot's dtb")
	}
	if got := out.Header.V2.Name; !bytes.HasPrefix(got[:], []byte("sm8250")) {
		t.Fatalf("board name not carried from vendor_boot: %q", got[:])
	}
	if out.Header.V2.Id == [retrofitgki.BOOT_ID_SIZE]byte{} {
		t.Fatal("image id not computed")
	}

	region := res.Data[len(res.Data)-retrofitgki.BOOT_SIGNATURE_SIZE:]
	wantSig := append(append([]byte{}, bootSig...), initSig...)
	if !bytes.Equal(region[:1024], wantSig) {
		t.Fatal("trailing signature region does not hold the concatenated blobs")
	}
}

func TestRetrofitV2RequiresVendorBoot(t *testing.T) {
	_, err := retrofitgki.Retrofit(retrofitgki.RetrofitRequest{
		Boot:     makeGkiBoot(t, 4, bytes.Repeat([]byte{0xAB}, 4096), nil, nil, 0),
		InitBoot: makeGkiBoot(t, 4, nil, bytes.Repeat([]byte{0xCD}, 4096), nil, 0),
		Version:  2,
	})
	var verr *retrofitgki.SpecViolation
	if !errors.As(err, &verr) {
		t.Fatalf("want *SpecViolation, got %v", err)
	}
}

func TestRetrofitV34RejectsVendorBoot(t *testing.T) {
	_, err := retrofitgki.Retrofit(retrofitgki.RetrofitRequest{
		Boot:       makeGkiBoot(t, 4, bytes.Repeat([]byte{0xAB}, 4096), nil, nil, 0),
		InitBoot:   makeGkiBoot(t, 4, nil, bytes.Repeat([]byte{0xCD}, 4096), nil, 0),
		VendorBoot: makeVendorBoot(t, 3, 2048, bytes.Repeat([]byte{0xEF}, 2048), bytes.Repeat([]byte{0xDB}, 1024)),
		Version:    4,
	})
	var verr *retrofitgki.SpecViolation
	if !errors.As(err, &verr) {
		t.Fatalf("want *SpecViolation, got %v", err)
	}
}

func TestRetrofitRejectsLegacySource(t *testing.T) {
	_, err := retrofitgki.Retrofit(retrofitgki.RetrofitRequest{
		Boot:     makeLegacyBoot(t),
		InitBoot: makeGkiBoot(t, 4, nil, bytes.Repeat([]byte{0xCD}, 4096), nil, 0),
		Version:  4,
	})
	var verr *retrofitgki.SpecViolation
	if !errors.As(err, &verr) {
		t.Fatalf("want *SpecViolation, got %v", err)
	}
}

func TestRetrofitRequiresKernelAndRamdisk(t *testing.T) {
	noKernel := makeGkiBoot(t, 4, nil, nil, nil, 0)
	withKernel := makeGkiBoot(t, 4, bytes.Repeat([]byte{0xAB}, 4096), nil, nil, 0)
	noRamdisk := makeGkiBoot(t, 4, nil, nil, nil, 0)
	withRamdisk := makeGkiBoot(t, 4, nil, bytes.Repeat([]byte{0xCD}, 4096), nil, 0)

	var verr *retrofitgki.SpecViolation
	if _, err := retrofitgki.Retrofit(retrofitgki.RetrofitRequest{
		Boot: noKernel, InitBoot: withRamdisk, Version: 4,
	}); !errors.As(err, &verr) {
		t.Fatalf("missing kernel: want *SpecViolation, got %v", err)
	}
	if _, err := retrofitgki.Retrofit(retrofitgki.RetrofitRequest{
		Boot: withKernel, InitBoot: noRamdisk, Version: 4,
	}); !errors.As(err, &verr) {
		t.Fatalf("missing ramdisk: want *SpecViolation, got %v", err)
	}
}

func TestRetrofitUnsupportedDestination(t *testing.T) {
	for _, version := range []uint32{0, 1, 5} {
		_, err := retrofitgki.Retrofit(retrofitgki.RetrofitRequest{
			Boot:     makeGkiBoot(t, 4, bytes.Repeat([]byte{0xAB}, 4096), nil, nil, 0),
			InitBoot: makeGkiBoot(t, 4, nil, bytes.Repeat([]byte{0xCD}, 4096), nil, 0),
			Version:  version,
		})
		var verr *retrofitgki.SpecViolation
		if !errors.As(err, &verr) {
			t.Fatalf("destination v%d: want *SpecViolation, got %v", version, err)
		}
	}
}

func TestRetrofitIsPure(t *testing.T) {
	req := retrofitgki.RetrofitRequest{
		Boot:     makeGkiBoot(t, 4, bytes.Repeat([]byte{0xAB}, 8192), nil, bytes.Repeat([]byte{0xB5}, 512), osVersionQ),
		InitBoot: makeGkiBoot(t, 4, nil, bytes.Repeat([]byte{0xCD}, 4096), bytes.Repeat([]byte{0xD5}, 512), osVersionQ),
		Version:  4,
	}

	first, err := retrofitgki.Retrofit(req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := retrofitgki.Retrofit(req)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Fatal("two compositions of identical inputs differ")
	}
}

func TestRetrofitV3FromV3Sources(t *testing.T) {
	kernel := bytes.Repeat([]byte{0xAB}, 4096)
	ramdisk := bytes.Repeat([]byte{0xCD}, 4096)

	res, err := retrofitgki.Retrofit(retrofitgki.RetrofitRequest{
		Boot:     makeGkiBoot(t, 3, kernel, nil, nil, osVersionQ),
		InitBoot: makeGkiBoot(t, 3, nil, ramdisk, nil, osVersionQ),
		Version:  3,
	})
	if err != nil {
		t.Fatal(err)
	}
	// v3 sources declare no signatures; the region is all padding.
	region := res.Data[len(res.Data)-retrofitgki.BOOT_SIGNATURE_SIZE:]
	if !bytes.Equal(region, make([]byte, retrofitgki.BOOT_SIGNATURE_SIZE)) {
		t.Fatal("signature region should be empty for v3 sources")
	}
}
