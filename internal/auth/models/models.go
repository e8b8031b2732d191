package models

import (
	"fmt"
	"slices"
	"time"
)

// Identity is a caller verified by the identity provider
type Identity struct {
	Login         string   `json:"login"`
	ID            int64    `json:"id"`
	Organizations []string `json:"organizations"`
}

// String keeps identities readable in logs.
func (i *Identity) String() string {
	if i == nil {
		return "<anonymous>"
	}
	return fmt.Sprintf("Identity{Login:%q, ID:%d}", i.Login, i.ID)
}

// AccessList returns the namespaces the identity acts for: its own login
// followed by its organizations. A nil identity has no access.
func (i *Identity) AccessList() []string {
	if i == nil {
		return nil
	}
	list := make([]string, 0, len(i.Organizations)+1)
	list = append(list, i.Login)
	return append(list, i.Organizations...)
}

// CanActFor reports whether namespace is the identity's login or one of its
// organizations.
func (i *Identity) CanActFor(namespace string) bool {
	if i == nil {
		return false
	}
	return i.Login == namespace || slices.Contains(i.Organizations, namespace)
}

// ExchangeRecord is what a local exchange code redeems to
type ExchangeRecord struct {
	Token             string `json:"token"`
	ClientRedirectURI string `json:"client_redirect_uri,omitempty"`
}

// DeveloperKey is a long-lived bearer credential scoped to a namespace.
type DeveloperKey struct {
	Key       string    `json:"key"`
	Namespace string    `json:"namespace"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the key's bookkeeping expiry has passed.
func (k DeveloperKey) Expired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// Masked hides all but the last five characters of the key.
func (k DeveloperKey) Masked() DeveloperKey {
	const visible = 5
	if len(k.Key) > visible {
		k.Key = "*****" + k.Key[len(k.Key)-visible:]
	}
	return k
}
