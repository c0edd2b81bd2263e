// Package gpuname resolves PCI vendor and device ids reported by the
// adapter enumerator into human-readable names using the PCI ID
// database. Systems without a pci.ids file fall back to a short table of
// well-known GPU vendors.
package gpuname

import (
	"fmt"
	"sync"

	"github.com/jaypipes/pcidb"
)

var (
	pciOnce sync.Once
	pciDB   *pcidb.PCIDB
	pciErr  error
)

var wellKnownVendors = map[uint32]string{
	0x1002: "AMD",
	0x10de: "NVIDIA",
	0x8086: "Intel",
	0x1414: "Microsoft",
}

// VendorName returns the vendor name for a numeric PCI vendor id.
func VendorName(vendorID uint32) string {
	if db := loadPCIDatabase(); db != nil {
		if vendor, ok := db.Vendors[formatPCIID(vendorID)]; ok && vendor != nil && vendor.Name != "" {
			return vendor.Name
		}
	}
	if name, ok := wellKnownVendors[vendorID]; ok {
		return name
	}
	return fmt.Sprintf("vendor %04x", vendorID)
}

// ProductName returns the product name for a vendor/device id pair, or
// "" when the pair is not in the database.
func ProductName(vendorID, deviceID uint32) string {
	db := loadPCIDatabase()
	if db == nil {
		return ""
	}
	product, ok := db.Products[formatPCIID(vendorID)+formatPCIID(deviceID)]
	if !ok || product == nil {
		return ""
	}
	return product.Name
}

func loadPCIDatabase() *pcidb.PCIDB {
	pciOnce.Do(func() {
		pciDB, pciErr = pcidb.New()
	})
	if pciErr != nil || pciDB == nil {
		return nil
	}
	return pciDB
}

func formatPCIID(id uint32) string {
	return fmt.Sprintf("%04x", id&0xffff)
}
