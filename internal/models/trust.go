// Package models holds the value types stored by the crypto store.
//
// They carry no persistence logic; encodings live in the repositories.
package models

// TrustLevel records how a device or cross-signing key was verified.
// A nil *TrustLevel means the trust is unknown, which is not the same as
// untrusted.
type TrustLevel struct {
	CrossSigningVerified bool `json:"cross_signing_verified"`
	LocallyVerified      bool `json:"locally_verified"`
}

func NewTrustLevel(crossSigned, locally bool) *TrustLevel {
	return &TrustLevel{CrossSigningVerified: crossSigned, LocallyVerified: locally}
}

// IsVerified is true if either verification path succeeded.
func (t *TrustLevel) IsVerified() bool {
	return t != nil && (t.CrossSigningVerified || t.LocallyVerified)
}

func (t *TrustLevel) IsCrossSigningVerified() bool {
	return t != nil && t.CrossSigningVerified
}

func (t *TrustLevel) IsLocallyVerified() bool {
	return t != nil && t.LocallyVerified
}

// Clone returns an independent copy, nil for nil.
func (t *TrustLevel) Clone() *TrustLevel {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
