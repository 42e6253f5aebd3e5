// Package fingerprint derives a stable machine identity from the
// hardware attributes an EA instance reports with each validation
// call. The derivation is a pure function: no network, no secrets.
package fingerprint

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const encodedLength = 32

// HardwareInfo carries the raw identifiers reported by the client.
// Any subset may be empty.
type HardwareInfo struct {
	CPUID         string `json:"cpu_id"`
	MotherboardID string `json:"motherboard_id"`
	DiskSerial    string `json:"disk_serial"`
	MACAddress    string `json:"mac_address"`
	SystemUUID    string `json:"system_uuid"`
}

// Empty reports whether no identifier was supplied at all. Such
// fingerprints are still valid but low-entropy; operators should flag
// them in monitoring.
func (h HardwareInfo) Empty() bool {
	return h.CPUID == "" && h.MotherboardID == "" && h.DiskSerial == "" &&
		h.MACAddress == "" && h.SystemUUID == ""
}

// Generate produces a deterministic fixed-length identity string.
// Components are concatenated in a fixed order, empty ones skipped,
// then hashed and truncated. The same inputs always yield the same
// output regardless of how the caller assembled them.
func Generate(h HardwareInfo) string {
	components := make([]string, 0, 5)
	for _, c := range []string{h.CPUID, h.MotherboardID, h.DiskSerial, h.MACAddress, h.SystemUUID} {
		if c != "" {
			components = append(components, c)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	encoded := base64.RawURLEncoding.EncodeToString(sum[:])
	return encoded[:encodedLength]
}
