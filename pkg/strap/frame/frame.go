package frame

import "encoding/binary"

// Frame layout on the wire (before byte stuffing):
//
//	Flag(1) | version(1) | flags(1) | profile(2, LE) | payload(N) | crc8(1) | Flag(1)
//
// The crc8 covers version through payload. The two delimiting Flag bytes are
// the only bytes never escaped.

// Sizes and version bounds.
const (
	HeaderLen   = 4
	ChecksumLen = 1
	// MinLen is the minimum decoded frame length (header + checksum).
	MinLen = HeaderLen + ChecksumLen

	// Version is the protocol version emitted on requests.
	Version byte = 1
	// MinSupportedVersion..MaxSupportedVersion bound accepted responses.
	MinSupportedVersion byte = 1
	MaxSupportedVersion byte = 1
)

// Header flag bits.
const (
	FlagIsRead byte = 1 << iota
	FlagIsMaster
	FlagIsNotify

	flagsReservedMask = ^byte(FlagIsRead | FlagIsMaster | FlagIsNotify)
)

// Header is the decoded 4-byte frame header.
type Header struct {
	Version byte
	Flags   byte
	Profile uint16
}

// RequestHeader builds the header for a host-initiated frame.
func RequestHeader(profile uint16, isRead bool) Header {
	flags := FlagIsMaster
	if isRead {
		flags |= FlagIsRead
	}
	return Header{Version: Version, Flags: flags, Profile: profile}
}

// Encode lays the header out in wire order.
func (h Header) Encode() [HeaderLen]byte {
	var b [HeaderLen]byte
	b[0] = h.Version
	b[1] = h.Flags
	binary.LittleEndian.PutUint16(b[2:], h.Profile)
	return b
}

// ParseHeader decodes the first HeaderLen bytes of b.
func ParseHeader(b []byte) Header {
	return Header{
		Version: b[0],
		Flags:   b[1],
		Profile: binary.LittleEndian.Uint16(b[2:]),
	}
}

// IsRead reports the read flag.
func (h Header) IsRead() bool { return h.Flags&FlagIsRead != 0 }

// IsMaster reports the master flag.
func (h Header) IsMaster() bool { return h.Flags&FlagIsMaster != 0 }

// IsNotify reports the notify flag.
func (h Header) IsNotify() bool { return h.Flags&FlagIsNotify != 0 }

// VersionSupported reports whether the version is within the accepted range.
func (h Header) VersionSupported() bool {
	return h.Version >= MinSupportedVersion && h.Version <= MaxSupportedVersion
}

// ValidResponse checks a decoded header against the outstanding request:
// supported version, read/master bits clear, no reserved bits, and either a
// notification or a profile match.
func (h Header) ValidResponse(profile uint16, expectNotify bool) bool {
	if !h.VersionSupported() {
		return false
	}
	if h.IsRead() || h.IsMaster() || h.Flags&flagsReservedMask != 0 {
		return false
	}
	if expectNotify {
		return h.IsNotify()
	}
	return !h.IsNotify() && h.Profile == profile
}
