package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_MatchesItsKind(t *testing.T) {
	assert.ErrorIs(t, ErrSessionNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrSessionClosed, ErrInvalidState)
	assert.ErrorIs(t, ErrStaleResponse, ErrStale)
	assert.ErrorIs(t, ErrAuthNotReady, ErrUnauthorized)

	// Each sentinel matches exactly one kind.
	assert.NotErrorIs(t, ErrSessionNotFound, ErrInvalidState)
	assert.NotErrorIs(t, ErrSessionClosed, ErrNotFound)
	assert.NotErrorIs(t, ErrStaleResponse, ErrUnauthorized)
}

func TestDomainError_WrappedErrorStaysVisible(t *testing.T) {
	cause := errors.New("connection reset")
	err := &DomainError{Domain: "lms", Op: "FetchProgress", Kind: ErrNotFound, Message: "fetch failed", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Equal(t, "lms.FetchProgress: fetch failed: connection reset", err.Error())
}

func TestDomainError_SurvivesFmtWrapping(t *testing.T) {
	wrapped := fmt.Errorf("open session: %w", ErrSessionNotFound)
	assert.ErrorIs(t, wrapped, ErrNotFound)

	var domainErr *DomainError
	assert.ErrorAs(t, wrapped, &domainErr)
	assert.Equal(t, "session", domainErr.Domain)
}
