package vault

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
)

// CredentialStore is the slice of the persistence port the vault needs.
// Defined here, implemented by internal/persistence, to keep vault free of
// a dependency on the concrete storage adapter.
type CredentialStore interface {
	GetCredential(ctx context.Context, id string) (*domain.APICredential, error)
	PutCredential(ctx context.Context, cred *domain.APICredential) error
}

// VerifyProbe performs a cheap, read-only call against the service the
// credential belongs to (e.g. "get account balances") to confirm the
// decrypted secret is still accepted upstream.
type VerifyProbe func(ctx context.Context, key, secret, extras []byte) error

// Service is the C1 credential vault: encrypted storage plus scoped access.
type Service struct {
	vault *Vault
	store CredentialStore
	log   zerolog.Logger
}

// NewService builds the vault service.
func NewService(v *Vault, store CredentialStore, log zerolog.Logger) *Service {
	return &Service{vault: v, store: store, log: log.With().Str("module", "vault_service").Logger()}
}

// Put encrypts and persists a new credential, returning its assigned id.
func (s *Service) Put(ctx context.Context, userID, serviceID, label string, key, secret, extras []byte, permissionTags []string) (*domain.APICredential, error) {
	encKey, err := s.vault.Encrypt(key)
	if err != nil {
		return nil, err
	}
	encSecret, err := s.vault.Encrypt(secret)
	if err != nil {
		return nil, err
	}
	var encExtras []byte
	if len(extras) > 0 {
		encExtras, err = s.vault.Encrypt(extras)
		if err != nil {
			return nil, err
		}
	}

	cred := &domain.APICredential{
		ID:              uuid.NewString(),
		UserID:          userID,
		ServiceID:       serviceID,
		Label:           label,
		EncryptedKey:    encKey,
		EncryptedSecret: encSecret,
		EncryptedExtras: encExtras,
		Status:          domain.CredentialActive,
		PermissionTags:  permissionTags,
	}
	if err := s.store.PutCredential(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Get decrypts a credential into a scoped handle. The caller must Close it.
func (s *Service) Get(ctx context.Context, id string) (*PlaintextHandle, error) {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	if cred.Status == domain.CredentialRevoked {
		return nil, errs.New(errs.PreconditionFailed, "credential has been revoked")
	}

	key, err := s.vault.Decrypt(cred.EncryptedKey)
	if err != nil {
		return nil, err
	}
	secret, err := s.vault.Decrypt(cred.EncryptedSecret)
	if err != nil {
		return nil, err
	}
	var extras []byte
	if len(cred.EncryptedExtras) > 0 {
		extras, err = s.vault.Decrypt(cred.EncryptedExtras)
		if err != nil {
			return nil, err
		}
	}

	cred.UsageCount++
	if err := s.store.PutCredential(ctx, cred); err != nil {
		s.log.Warn().Err(err).Str("credential_id", id).Msg("failed to persist usage count increment")
	}

	return &PlaintextHandle{key: key, secret: secret, extras: extras}, nil
}

// Verify decrypts the credential and runs probe against it, recording the
// outcome. A probe failing with errs.Unauthorized marks the credential
// verification_failed rather than revoking it outright; any other probe
// error (rate limiting, an outage) leaves its status unchanged.
func (s *Service) Verify(ctx context.Context, id string, probe VerifyProbe) error {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return err
	}

	handle, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	defer handle.Close()

	probeErr := probe(ctx, handle.Key(), handle.Secret(), handle.Extras())

	now := time.Now().Unix()
	if probeErr != nil {
		if errs.Is(probeErr, errs.Unauthorized) {
			cred.Status = domain.CredentialVerificationFailed
		}
		if err := s.store.PutCredential(ctx, cred); err != nil {
			s.log.Warn().Err(err).Msg("failed to persist credential status after failed verification")
		}
		return probeErr
	}

	cred.Status = domain.CredentialActive
	cred.LastVerifiedAt = &now
	return s.store.PutCredential(ctx, cred)
}

// Revoke marks a credential unusable without deleting its encrypted bytes.
func (s *Service) Revoke(ctx context.Context, id string) error {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return err
	}
	cred.Status = domain.CredentialRevoked
	return s.store.PutCredential(ctx, cred)
}
