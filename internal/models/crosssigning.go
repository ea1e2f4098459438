package models

// Cross-signing key usages.
const (
	KeyUsageMaster      = "master"
	KeyUsageSelfSigning = "self_signing"
	KeyUsageUserSigning = "user_signing"
)

// CrossSigningKey is one of a user's cross-signing public keys. Two keys are
// the same key when their PublicKey values are equal.
type CrossSigningKey struct {
	UserID     string                       `json:"user_id"`
	Usages     []string                     `json:"usage"`
	PublicKey  string                       `json:"public_key"` // unpadded base64
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
	TrustLevel *TrustLevel                  `json:"trust_level,omitempty"`
}

func (k *CrossSigningKey) HasUsage(usage string) bool {
	if k == nil {
		return false
	}
	for _, u := range k.Usages {
		if u == usage {
			return true
		}
	}
	return false
}

// Slot is the usage the key is filed under: master wins over the others.
func (k *CrossSigningKey) Slot() string {
	for _, usage := range []string{KeyUsageMaster, KeyUsageSelfSigning, KeyUsageUserSigning} {
		if k.HasUsage(usage) {
			return usage
		}
	}
	return ""
}

func (k *CrossSigningKey) KeyID() string {
	return KeyID(KeyEd25519, k.PublicKey)
}

func (k *CrossSigningKey) IsVerified() bool {
	return k != nil && k.TrustLevel.IsVerified()
}

// CrossSigningInfo is a user's set of cross-signing keys. The user-signing
// key is only known for the local user.
type CrossSigningInfo struct {
	UserID string             `json:"user_id"`
	Keys   []*CrossSigningKey `json:"keys"`
}

func NewCrossSigningInfo(userID string, keys ...*CrossSigningKey) *CrossSigningInfo {
	info := &CrossSigningInfo{UserID: userID}
	for _, k := range keys {
		if k != nil {
			info.Keys = append(info.Keys, k)
		}
	}
	return info
}

func (c *CrossSigningInfo) key(usage string) *CrossSigningKey {
	if c == nil {
		return nil
	}
	for _, k := range c.Keys {
		if k.HasUsage(usage) {
			return k
		}
	}
	return nil
}

func (c *CrossSigningInfo) MasterKey() *CrossSigningKey      { return c.key(KeyUsageMaster) }
func (c *CrossSigningInfo) SelfSigningKey() *CrossSigningKey { return c.key(KeyUsageSelfSigning) }
func (c *CrossSigningInfo) UserSigningKey() *CrossSigningKey { return c.key(KeyUsageUserSigning) }

// IsTrusted requires master and self-signing keys and every present key to
// be verified.
func (c *CrossSigningInfo) IsTrusted() bool {
	if c.MasterKey() == nil || c.SelfSigningKey() == nil {
		return false
	}
	for _, k := range c.Keys {
		if !k.IsVerified() {
			return false
		}
	}
	return true
}

// PrivateKeysInfo holds the local user's private cross-signing keys, each
// base64 encoded. Empty means unknown.
type PrivateKeysInfo struct {
	Master      string `json:"master,omitempty"`
	SelfSigned  string `json:"self_signed,omitempty"`
	UserSigning string `json:"user_signing,omitempty"`
}

func (p PrivateKeysInfo) IsEmpty() bool {
	return p.Master == "" && p.SelfSigned == "" && p.UserSigning == ""
}
