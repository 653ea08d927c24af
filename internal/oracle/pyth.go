package oracle

import (
	"encoding/binary"
	"fmt"
)

// Legacy Pyth price account layout (version 2).
const (
	legacyPythMagic            = 0xa1b2c3d4
	legacyPythVersion2         = 2
	legacyPythAccountTypePrice = 3
	legacyPythStatusTrading    = 1

	legacyPythOffsetMagic       = 0
	legacyPythOffsetVersion     = 4
	legacyPythOffsetAccountType = 8
	legacyPythOffsetExpo        = 20
	legacyPythOffsetTimestamp   = 96
	legacyPythOffsetAggPrice    = 208
	legacyPythOffsetAggConf     = 216
	legacyPythOffsetAggStatus   = 224
	legacyPythOffsetAggPubSlot  = 232
	legacyPythMinLen            = 240
)

// pythPrice is the parsed aggregate of a legacy Pyth price account.
type pythPrice struct {
	price     int64
	conf      uint64
	expo      int32
	status    uint32
	pubSlot   uint64
	timestamp int64
}

// parseLegacyPythPrice validates the account header and extracts the
// aggregate price. Returns ErrInvalidAccount on any layout mismatch.
func parseLegacyPythPrice(data []byte) (*pythPrice, error) {
	if len(data) < legacyPythMinLen {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrInvalidAccount, len(data), legacyPythMinLen)
	}

	if binary.LittleEndian.Uint32(data[legacyPythOffsetMagic:]) != legacyPythMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidAccount)
	}
	if binary.LittleEndian.Uint32(data[legacyPythOffsetVersion:]) != legacyPythVersion2 {
		return nil, fmt.Errorf("%w: unsupported version", ErrInvalidAccount)
	}
	if binary.LittleEndian.Uint32(data[legacyPythOffsetAccountType:]) != legacyPythAccountTypePrice {
		return nil, fmt.Errorf("%w: not a price account", ErrInvalidAccount)
	}

	p := &pythPrice{
		price:     int64(binary.LittleEndian.Uint64(data[legacyPythOffsetAggPrice:])),
		conf:      binary.LittleEndian.Uint64(data[legacyPythOffsetAggConf:]),
		expo:      int32(binary.LittleEndian.Uint32(data[legacyPythOffsetExpo:])),
		status:    binary.LittleEndian.Uint32(data[legacyPythOffsetAggStatus:]),
		pubSlot:   binary.LittleEndian.Uint64(data[legacyPythOffsetAggPubSlot:]),
		timestamp: int64(binary.LittleEndian.Uint64(data[legacyPythOffsetTimestamp:])),
	}

	if p.status != legacyPythStatusTrading {
		return nil, fmt.Errorf("%w: status %d is not trading", ErrInvalidAccount, p.status)
	}
	return p, nil
}
