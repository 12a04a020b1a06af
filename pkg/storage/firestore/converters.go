package firestore

import (
	"time"

	"github.com/fitglue/workoutsync/pkg/types"
)

// Helper to safely get string from map
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Helper to safely get time from map (handles time.Time from Firestore)
func getTime(m map[string]interface{}, key string) *time.Time {
	if v, ok := m[key]; ok {
		if t, ok := v.(time.Time); ok {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// --- CredentialRecord Converters ---

// CredentialToFirestore writes refresh_token and expires_at as given (null clears them).
// external_account_id is only written when set so a merge never erases a known id.
func CredentialToFirestore(c *types.CredentialRecord) map[string]interface{} {
	m := map[string]interface{}{
		"user_id":       c.UserID,
		"provider":      c.Provider.String(),
		"access_token":  c.AccessToken,
		"refresh_token": nil,
		"expires_at":    nil,
		"updated_at":    c.UpdatedAt,
	}
	if c.RefreshToken != "" {
		m["refresh_token"] = c.RefreshToken
	}
	if c.ExpiresAt != nil {
		m["expires_at"] = c.ExpiresAt.UTC()
	}
	if c.ExternalAccountID != "" {
		m["external_account_id"] = c.ExternalAccountID
	}
	return m
}

func FirestoreToCredential(m map[string]interface{}) *types.CredentialRecord {
	c := &types.CredentialRecord{
		UserID:            getString(m, "user_id"),
		Provider:          types.Provider(getString(m, "provider")),
		AccessToken:       getString(m, "access_token"),
		RefreshToken:      getString(m, "refresh_token"),
		ExpiresAt:         getTime(m, "expires_at"),
		ExternalAccountID: getString(m, "external_account_id"),
	}
	if t := getTime(m, "updated_at"); t != nil {
		c.UpdatedAt = *t
	}
	return c
}
