package retrofitgki

import (
	"fmt"
	"math"
)

// Retrofit sources must come from the GKI era: a certified boot.img and a
// generic init_boot.img, both header version 3 or 4.
func isGkiVersion(v uint32) bool {
	return v == 3 || v == 4
}

// validateRequest enforces the per-destination-version rule set before any
// output byte is produced. vendor is nil unless the destination is v2.
func validateRequest(version uint32, boot, initBoot *BootImage, vendor *VendorBootImage) error {
	if !isGkiVersion(boot.Header.Version) {
		return &SpecViolation{
			Rule: fmt.Sprintf("boot.img header version %d is not a GKI version (3 or 4)", boot.Header.Version),
		}
	}
	if len(boot.Kernel) == 0 {
		return &SpecViolation{Rule: "boot.img carries no kernel"}
	}
	if !isGkiVersion(initBoot.Header.Version) {
		return &SpecViolation{
			Rule: fmt.Sprintf("init_boot.img header version %d is not a GKI version (3 or 4)", initBoot.Header.Version),
		}
	}
	if len(initBoot.Ramdisk) == 0 {
		return &SpecViolation{Rule: "init_boot.img carries no ramdisk"}
	}

	sigSize := uint64(len(boot.Signature)) + uint64(len(initBoot.Signature))
	switch version {
	case 2, 3:
		// The destination carries both signatures in a fixed 16K region.
		if sigSize > BOOT_SIGNATURE_SIZE {
			return &CapacityError{Segment: "boot_signature", Size: sigSize, Limit: BOOT_SIGNATURE_SIZE}
		}
	case 4:
		if sigSize > math.MaxUint32 {
			return &CapacityError{Segment: "boot_signature", Size: sigSize, Limit: math.MaxUint32}
		}
	}

	if version == 2 {
		ramdiskSize := uint64(len(vendor.Ramdisk)) + uint64(len(initBoot.Ramdisk))
		if ramdiskSize > math.MaxUint32 {
			return &CapacityError{Segment: "ramdisk", Size: ramdiskSize, Limit: math.MaxUint32}
		}
		// The destination dtb comes from vendor_boot alone and must exist.
		if len(vendor.Dtb) == 0 {
			return &SpecViolation{Rule: "vendor_boot.img carries no dtb"}
		}
	}
	return nil
}
