package tenantclient

import (
	"errors"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// CredentialSource looks up the bearer token attached to outgoing requests.
// It must be a synchronous, side-effect-free read; ok=false means "no credentials"
// and the request proceeds unauthenticated.
type CredentialSource interface {
	Token() (token string, ok bool)
}

// TenantSource looks up the tenant identifier sent in the X-Tenant-ID header.
// ok=false means the request proceeds without a tenant scope.
type TenantSource interface {
	TenantID() (tenantID string, ok bool)
}

// CredentialFunc adapts a function to CredentialSource.
type CredentialFunc func() (string, bool)

// Token implements CredentialSource.
func (f CredentialFunc) Token() (string, bool) {
	return f()
}

// TenantFunc adapts a function to TenantSource.
type TenantFunc func() (string, bool)

// TenantID implements TenantSource.
func (f TenantFunc) TenantID() (string, bool) {
	return f()
}

// StaticCredentials is a fixed bearer token. The empty string means no credentials.
type StaticCredentials string

// Token implements CredentialSource.
func (s StaticCredentials) Token() (string, bool) {
	return string(s), s != ""
}

// StaticTenant is a fixed tenant identifier. The empty string means no tenant.
type StaticTenant string

// TenantID implements TenantSource.
func (s StaticTenant) TenantID() (string, bool) {
	return string(s), s != ""
}

// Keyring entry names used by KeyringStore.
const (
	KeyringTokenKey  = "access_token"
	KeyringTenantKey = "tenant_id"
)

// KeyringStore reads the token and tenant from the operating system keyring
// (macOS Keychain, Secret Service on Linux, Windows Credential Manager).
// It implements both CredentialSource and TenantSource.
type KeyringStore struct {
	service string
	logger  *slog.Logger
}

// NewKeyringStore creates a store reading entries of the given keyring service.
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service, logger: slog.Default()}
}

// WithLogger returns a copy of the store logging lookup failures to logger.
func (k *KeyringStore) WithLogger(logger *slog.Logger) *KeyringStore {
	cp := *k
	cp.logger = logger
	return &cp
}

// Token implements CredentialSource.
func (k *KeyringStore) Token() (string, bool) {
	return k.get(KeyringTokenKey)
}

// TenantID implements TenantSource.
func (k *KeyringStore) TenantID() (string, bool) {
	return k.get(KeyringTenantKey)
}

// SetToken stores the bearer token.
func (k *KeyringStore) SetToken(token string) error {
	return keyring.Set(k.service, KeyringTokenKey, token)
}

// SetTenantID stores the tenant identifier.
func (k *KeyringStore) SetTenantID(tenantID string) error {
	return keyring.Set(k.service, KeyringTenantKey, tenantID)
}

// Clear removes both entries. Missing entries are not an error.
func (k *KeyringStore) Clear() error {
	for _, key := range []string{KeyringTokenKey, KeyringTenantKey} {
		if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return err
		}
	}
	return nil
}

// get treats a missing entry and an unavailable keyring alike: the value is absent.
// Only the latter is logged, since absence is an expected condition.
func (k *KeyringStore) get(key string) (string, bool) {
	value, err := keyring.Get(k.service, key)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			k.logger.Warn("keyring lookup failed, continuing without value",
				"service", k.service,
				"key", key,
				"error", err)
		}
		return "", false
	}
	return value, value != ""
}
