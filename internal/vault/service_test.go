package vault

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
)

type fakeCredentialStore struct {
	creds map[string]*domain.APICredential
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{creds: make(map[string]*domain.APICredential)}
}

func (f *fakeCredentialStore) GetCredential(ctx context.Context, id string) (*domain.APICredential, error) {
	c, ok := f.creds[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "credential not found")
	}
	return c, nil
}

func (f *fakeCredentialStore) PutCredential(ctx context.Context, cred *domain.APICredential) error {
	f.creds[cred.ID] = cred
	return nil
}

func newTestVaultService(t *testing.T) (*Service, *fakeCredentialStore) {
	t.Helper()
	v, err := New(testKey(), zerolog.Nop())
	require.NoError(t, err)
	store := newFakeCredentialStore()
	return NewService(v, store, zerolog.Nop()), store
}

func TestService_PutThenGetRoundTrips(t *testing.T) {
	svc, _ := newTestVaultService(t)

	cred, err := svc.Put(context.Background(), "user-1", "tradernet", "main",
		[]byte("api-key"), []byte("api-secret"), []byte("passphrase"), []string{"trade"})
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialActive, cred.Status)
	assert.NotEmpty(t, cred.ID)

	handle, err := svc.Get(context.Background(), cred.ID)
	require.NoError(t, err)
	defer handle.Close()

	assert.Equal(t, []byte("api-key"), handle.Key())
	assert.Equal(t, []byte("api-secret"), handle.Secret())
	assert.Equal(t, []byte("passphrase"), handle.Extras())
}

func TestService_PutWithoutExtrasLeavesExtrasNil(t *testing.T) {
	svc, _ := newTestVaultService(t)

	cred, err := svc.Put(context.Background(), "user-1", "tradernet", "main",
		[]byte("api-key"), []byte("api-secret"), nil, nil)
	require.NoError(t, err)

	handle, err := svc.Get(context.Background(), cred.ID)
	require.NoError(t, err)
	defer handle.Close()
	assert.Empty(t, handle.Extras())
}

func TestService_GetIncrementsUsageCount(t *testing.T) {
	svc, store := newTestVaultService(t)
	cred, err := svc.Put(context.Background(), "user-1", "tradernet", "main", []byte("k"), []byte("s"), nil, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h, err := svc.Get(context.Background(), cred.ID)
		require.NoError(t, err)
		h.Close()
	}

	assert.EqualValues(t, 3, store.creds[cred.ID].UsageCount)
}

func TestService_GetRejectsRevokedCredential(t *testing.T) {
	svc, store := newTestVaultService(t)
	cred, err := svc.Put(context.Background(), "user-1", "tradernet", "main", []byte("k"), []byte("s"), nil, nil)
	require.NoError(t, err)

	store.creds[cred.ID].Status = domain.CredentialRevoked

	_, err = svc.Get(context.Background(), cred.ID)
	require.Error(t, err)
	assert.Equal(t, errs.PreconditionFailed, errs.KindOf(err))
}

func TestService_VerifySuccessMarksActiveAndStampsTimestamp(t *testing.T) {
	svc, store := newTestVaultService(t)
	cred, err := svc.Put(context.Background(), "user-1", "tradernet", "main", []byte("k"), []byte("s"), nil, nil)
	require.NoError(t, err)
	store.creds[cred.ID].Status = domain.CredentialVerificationPending

	probeCalls := 0
	err = svc.Verify(context.Background(), cred.ID, func(ctx context.Context, key, secret, extras []byte) error {
		probeCalls++
		assert.Equal(t, []byte("k"), key)
		assert.Equal(t, []byte("s"), secret)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, probeCalls)
	assert.Equal(t, domain.CredentialActive, store.creds[cred.ID].Status)
	require.NotNil(t, store.creds[cred.ID].LastVerifiedAt)
}

func TestService_VerifyFailureMarksVerificationFailedOnUnauthorized(t *testing.T) {
	svc, store := newTestVaultService(t)
	cred, err := svc.Put(context.Background(), "user-1", "tradernet", "main", []byte("k"), []byte("s"), nil, nil)
	require.NoError(t, err)

	probeErr := errs.New(errs.Unauthorized, "signature rejected")
	err = svc.Verify(context.Background(), cred.ID, func(ctx context.Context, key, secret, extras []byte) error {
		return probeErr
	})
	require.Error(t, err)
	assert.Equal(t, domain.CredentialVerificationFailed, store.creds[cred.ID].Status)
}

func TestService_VerifyFailureDoesNotChangeStatusOnNonAuthError(t *testing.T) {
	svc, store := newTestVaultService(t)
	cred, err := svc.Put(context.Background(), "user-1", "tradernet", "main", []byte("k"), []byte("s"), nil, nil)
	require.NoError(t, err)
	store.creds[cred.ID].Status = domain.CredentialActive

	probeErr := errs.New(errs.UpstreamUnavailable, "upstream timed out")
	err = svc.Verify(context.Background(), cred.ID, func(ctx context.Context, key, secret, extras []byte) error {
		return probeErr
	})
	require.Error(t, err)
	assert.Equal(t, domain.CredentialActive, store.creds[cred.ID].Status, "rate-limit-like failures must not be mistaken for a bad credential")
}

func TestService_RevokeSetsStatus(t *testing.T) {
	svc, store := newTestVaultService(t)
	cred, err := svc.Put(context.Background(), "user-1", "tradernet", "main", []byte("k"), []byte("s"), nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), cred.ID))
	assert.Equal(t, domain.CredentialRevoked, store.creds[cred.ID].Status)
}
