package servicedata

import (
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// FromAdvertisement parses the first stone service data entry of adv.
// It returns nil when adv carries none.
func FromAdvertisement(adv transport.RawAdvertisement) *ServiceData {
	for _, id := range transport.ServiceDataUUIDs {
		if raw, ok := adv.ServiceData[id]; ok {
			return Parse(id, raw)
		}
	}
	return nil
}

// ModeOf derives the operation mode without decrypting: an advertised DFU
// service means DFU, a setup layout means setup, any other valid service
// data means operation.
func ModeOf(adv transport.RawAdvertisement, sd *ServiceData) session.OperationMode {
	if adv.HasService(transport.DFUService) || adv.HasService(transport.LegacyDFUService) {
		return session.ModeDFU
	}
	if sd == nil || !sd.Valid {
		return session.ModeUnknown
	}
	if sd.Opcode.IsSetup() {
		return session.ModeSetup
	}
	return session.ModeOperation
}
