package types

import "time"

// Provider identifies a third-party fitness platform.
type Provider string

const (
	ProviderStrava Provider = "strava"
	ProviderHuawei Provider = "huawei"
	ProviderPolar  Provider = "polar"
)

func (p Provider) String() string {
	return string(p)
}

// CredentialRecord is the stored OAuth grant for one (user, provider) pair.
// An empty RefreshToken means the provider has no refresh capability.
// A nil ExpiresAt means the access token is treated as non-expiring.
type CredentialRecord struct {
	UserID            string     `json:"user_id"`
	Provider          Provider   `json:"provider"`
	AccessToken       string     `json:"access_token"`
	RefreshToken      string     `json:"refresh_token,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	ExternalAccountID string     `json:"external_account_id,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (r *CredentialRecord) Clone() *CredentialRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}
