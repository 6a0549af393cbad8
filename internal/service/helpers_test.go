package service

import (
	"context"
	"errors"
	"testing"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/keycodec"
	"github.com/keygate/keygate/internal/model"
)

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestKeyService(t *testing.T) (*KeyService, *config.Store) {
	t.Helper()
	store := newTestStore(t)
	codec, err := keycodec.New(keycodec.DefaultConfig())
	if err != nil {
		t.Fatalf("keycodec.New: %v", err)
	}
	return NewKeyService(store, codec, nil, nil), store
}

func issue(t *testing.T, svc *KeyService, name string) *IssuedKey {
	t.Helper()
	k, err := svc.Issue(context.Background(), IssueRequest{DisplayName: name})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return k
}

// brokenStore fails every call with a storage error.
type brokenStore struct{}

var errBroken = &config.UnavailableError{Op: "test", Err: errors.New("connection reset")}

func (brokenStore) CreateAPIKey(context.Context, *model.APIKey, *model.Metadata) error {
	return errBroken
}
func (brokenStore) GetAPIKeyByHash(context.Context, string) (*model.APIKey, error) {
	return nil, errBroken
}
func (brokenStore) GetAPIKeyByID(context.Context, string) (*model.APIKey, error) {
	return nil, errBroken
}
func (brokenStore) ListAPIKeys(context.Context, bool) ([]model.APIKey, error) {
	return nil, errBroken
}
func (brokenStore) RevokeAPIKey(context.Context, string) (bool, error) {
	return false, errBroken
}
func (brokenStore) UpsertMetadata(context.Context, *model.Metadata) error {
	return errBroken
}
func (brokenStore) GetMetadata(context.Context, string) (*model.Metadata, error) {
	return nil, errBroken
}

// countingLookup records whether the store was consulted.
type countingLookup struct {
	inner KeyLookup
	calls int
}

func (c *countingLookup) GetAPIKeyByHash(ctx context.Context, h string) (*model.APIKey, error) {
	c.calls++
	return c.inner.GetAPIKeyByHash(ctx, h)
}
