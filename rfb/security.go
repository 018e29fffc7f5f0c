package rfb

import (
	"fmt"
	"slices"
)

// SecurityType identifies an authentication scheme.
type SecurityType uint8

// Security types
const (
	SecurityInvalid SecurityType = 0
	SecurityNone    SecurityType = 1
	SecurityVNCAuth SecurityType = 2
)

// Security result codes
const (
	SecurityResultOK     uint32 = 0
	SecurityResultFailed uint32 = 1
)

// String returns the security type name
func (t SecurityType) String() string {
	switch t {
	case SecurityInvalid:
		return "Invalid"
	case SecurityNone:
		return "None"
	case SecurityVNCAuth:
		return "VNC"
	default:
		return fmt.Sprintf("SecurityType(%d)", uint8(t))
	}
}

// securityPreference ranks the types this engine knows about. Unknown types
// sort after these, in ascending numeric order.
var securityPreference = []SecurityType{SecurityNone, SecurityVNCAuth}

func securityRank(t SecurityType) int {
	if i := slices.Index(securityPreference, t); i >= 0 {
		return i
	}
	return len(securityPreference) + int(t)
}

// Offer returns the server's security list: every supported type except
// Invalid, deduplicated, in the fixed preference order. An empty result means
// the connection must be refused.
func Offer(supported []SecurityType) []SecurityType {
	offer := make([]SecurityType, 0, len(supported))
	for _, t := range supported {
		if t == SecurityInvalid || slices.Contains(offer, t) {
			continue
		}
		offer = append(offer, t)
	}
	slices.SortFunc(offer, func(a, b SecurityType) int {
		return securityRank(a) - securityRank(b)
	})
	if len(offer) > 255 {
		offer = offer[:255]
	}
	return offer
}

// Select picks the first type in the client's preference order that the
// server offered. Failing here is local: nothing has been written yet.
func Select(offer, supported []SecurityType) (SecurityType, error) {
	for _, t := range supported {
		if t != SecurityInvalid && slices.Contains(offer, t) {
			return t, nil
		}
	}
	return SecurityInvalid, &Error{
		Kind: KindNoCommonSecurityType,
		Op:   "select security type",
		Err:  fmt.Errorf("server offered %v, client supports %v", offer, supported),
	}
}

// ValidateResult turns a security result into an error. The reason must
// already have been consumed from the wire (ReadSecurityResult does this).
func ValidateResult(code uint32, reason string) error {
	if code == SecurityResultOK {
		return nil
	}
	return &Error{
		Kind:   KindSecurityResultFailure,
		Op:     "security result",
		Reason: reason,
		Err:    fmt.Errorf("result code %d", code),
	}
}
