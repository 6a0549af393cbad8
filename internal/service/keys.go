package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/keycodec"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
)

// Input limits.
const (
	MaxDisplayNameLen    = 256
	MaxMetadataKindLen   = 64
	MaxMetadataAttrs     = 64
	MaxAttributeNameLen  = 128
	MaxAttributeValueLen = 2048
)

// KeyStore is the persistence the key service needs. *config.Store
// implements it.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey, meta *model.Metadata) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
	GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context, includeRevoked bool) ([]model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) (bool, error)
	UpsertMetadata(ctx context.Context, meta *model.Metadata) error
	GetMetadata(ctx context.Context, apiKeyID string) (*model.Metadata, error)
}

// MetadataInput is caller-supplied metadata before it is bound to a key.
type MetadataInput struct {
	Kind       string            `json:"kind"`
	Attributes map[string]string `json:"attributes"`
}

// IssueRequest asks for a new key.
type IssueRequest struct {
	DisplayName string
	Metadata    *MetadataInput
}

// IssuedKey is the result of issuance. Plaintext is the only copy of the
// credential that will ever exist outside the caller.
type IssuedKey struct {
	Key       *model.APIKey
	Plaintext string

	// MetadataErr is set when the key was stored but its metadata was not.
	MetadataErr error
}

// KeyService issues, lists and revokes API keys.
type KeyService struct {
	store   KeyStore
	codec   *keycodec.Codec
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewKeyService(store KeyStore, codec *keycodec.Codec, m *metrics.Metrics, logger *slog.Logger) *KeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyService{store: store, codec: codec, metrics: m, logger: logger}
}

// Issue generates a credential, stores its digest and returns the plaintext
// once. An entropy failure aborts before anything is written.
func (s *KeyService) Issue(ctx context.Context, req IssueRequest) (*IssuedKey, error) {
	name := strings.TrimSpace(req.DisplayName)
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return nil, invalid("display_name", fmt.Sprintf("must be at most %d characters", MaxDisplayNameLen))
	}

	var meta *model.Metadata
	if req.Metadata != nil {
		if err := ValidateMetadata(req.Metadata); err != nil {
			return nil, err
		}
		meta = &model.Metadata{Kind: strings.TrimSpace(req.Metadata.Kind), Attributes: req.Metadata.Attributes}
	}

	gen, err := s.codec.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	key := &model.APIKey{
		Name:    name,
		KeyHash: gen.Hash,
		Last4:   gen.Last4,
	}

	issued := &IssuedKey{Key: key, Plaintext: gen.Plaintext}
	if err := s.store.CreateAPIKey(ctx, key, meta); err != nil {
		var metaErr *config.MetadataError
		if !errors.As(err, &metaErr) {
			return nil, fmt.Errorf("store key: %w", err)
		}
		s.logger.Warn("api key issued without metadata", "key_id", key.ID, "error", metaErr.Err)
		s.metrics.RecordMetadataError()
		issued.MetadataErr = metaErr
	}

	s.metrics.RecordKeyIssued()
	s.logger.Info("api key issued", "key_id", key.ID, "last4", key.Last4)
	return issued, nil
}

// List returns keys newest first, excluding revoked keys unless asked.
func (s *KeyService) List(ctx context.Context, includeRevoked bool) ([]model.APIKey, error) {
	return s.store.ListAPIKeys(ctx, includeRevoked)
}

// Get returns one key by id.
func (s *KeyService) Get(ctx context.Context, id string) (*model.APIKey, error) {
	if err := ValidateKeyID(id); err != nil {
		return nil, err
	}
	return s.store.GetAPIKeyByID(ctx, id)
}

// Revoke marks a key revoked. It reports false for a missing or already
// revoked key.
func (s *KeyService) Revoke(ctx context.Context, id string) (bool, error) {
	if err := ValidateKeyID(id); err != nil {
		return false, err
	}
	ok, err := s.store.RevokeAPIKey(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.metrics.RecordKeyRevoked()
		s.logger.Info("api key revoked", "key_id", id)
	}
	return ok, nil
}

// SetMetadata attaches or replaces the metadata of an existing key.
func (s *KeyService) SetMetadata(ctx context.Context, id string, in MetadataInput) (*model.Metadata, error) {
	if err := ValidateKeyID(id); err != nil {
		return nil, err
	}
	if err := ValidateMetadata(&in); err != nil {
		return nil, err
	}
	meta := &model.Metadata{
		APIKeyID:   id,
		Kind:       strings.TrimSpace(in.Kind),
		Attributes: in.Attributes,
	}
	if err := s.store.UpsertMetadata(ctx, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// GetMetadata returns the metadata attached to a key.
func (s *KeyService) GetMetadata(ctx context.Context, id string) (*model.Metadata, error) {
	if err := ValidateKeyID(id); err != nil {
		return nil, err
	}
	return s.store.GetMetadata(ctx, id)
}

// ValidateKeyID checks that id has the shape of an issued key id.
func ValidateKeyID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return invalid("id", "must be a valid key id")
	}
	return nil
}

// ValidateMetadata checks kind and attribute limits. Attribute names are not
// interpreted.
func ValidateMetadata(in *MetadataInput) error {
	kind := strings.TrimSpace(in.Kind)
	if kind == "" {
		return invalid("metadata.kind", "is required")
	}
	if len(kind) > MaxMetadataKindLen {
		return invalid("metadata.kind", fmt.Sprintf("must be at most %d characters", MaxMetadataKindLen))
	}
	if len(in.Attributes) > MaxMetadataAttrs {
		return invalid("metadata.attributes", fmt.Sprintf("must have at most %d entries", MaxMetadataAttrs))
	}
	for k, v := range in.Attributes {
		if k == "" || len(k) > MaxAttributeNameLen {
			return invalid("metadata.attributes", fmt.Sprintf("attribute names must be 1 to %d characters", MaxAttributeNameLen))
		}
		if len(v) > MaxAttributeValueLen {
			return invalid("metadata.attributes."+k, fmt.Sprintf("must be at most %d characters", MaxAttributeValueLen))
		}
	}
	return nil
}
