package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/keycodec"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
)

// MaxPresentedKeyLen bounds what is worth hashing. Anything longer cannot be
// a key this service issued.
const MaxPresentedKeyLen = 256

// Reason explains why a presented key was not accepted.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonNotFound Reason = "not_found"
	ReasonRevoked  Reason = "revoked"
)

// Verification is the outcome of checking a presented credential. An invalid
// key is a result, not an error.
type Verification struct {
	Valid    bool
	KeyID    string
	Key      *model.APIKey
	Metadata *model.Metadata
	Reason   Reason
}

// KeyLookup resolves a digest to a stored key.
type KeyLookup interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
}

// Verifier resolves presented credentials. Every call reads the store; there
// is no result cache, so revocation takes effect on the next request.
type Verifier struct {
	store   KeyLookup
	metrics *metrics.Metrics
}

func NewVerifier(store KeyLookup, m *metrics.Metrics) *Verifier {
	return &Verifier{store: store, metrics: m}
}

// Verify hashes presented and looks it up. Malformed input is reported as
// not found without touching the store. Storage failures are returned as
// errors matching ErrUnavailable.
func (v *Verifier) Verify(ctx context.Context, presented string) (Verification, error) {
	start := time.Now()

	if !wellFormed(presented) {
		v.metrics.RecordVerification(string(ReasonNotFound), time.Since(start))
		return Verification{Reason: ReasonNotFound}, nil
	}

	key, err := v.store.GetAPIKeyByHash(ctx, keycodec.Hash(presented))
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			v.metrics.RecordVerification(string(ReasonNotFound), time.Since(start))
			return Verification{Reason: ReasonNotFound}, nil
		}
		v.metrics.RecordVerification("error", time.Since(start))
		return Verification{}, fmt.Errorf("%w: look up key: %w", ErrUnavailable, err)
	}

	if key.Revoked {
		v.metrics.RecordVerification(string(ReasonRevoked), time.Since(start))
		return Verification{KeyID: key.ID, Reason: ReasonRevoked}, nil
	}

	v.metrics.RecordVerification("valid", time.Since(start))
	return Verification{
		Valid:    true,
		KeyID:    key.ID,
		Key:      key,
		Metadata: key.Metadata,
	}, nil
}

// wellFormed reports whether s could be a credential: non-empty, bounded,
// printable ASCII with no whitespace.
func wellFormed(s string) bool {
	if s == "" || len(s) > MaxPresentedKeyLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}
