package authn

import (
	"context"
	"errors"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
)

// FirstSuccessful consults credential sources in registration order and
// accepts the first one that verifies the token. Later sources are not
// invoked once one succeeds, so cheap sources belong at the front.
type FirstSuccessful struct {
	sources []gw.CredentialSource
}

var _ gw.Authenticator = (*FirstSuccessful)(nil)

// NewFirstSuccessful creates a strategy over sources. The list is copied and
// never changes afterwards.
func NewFirstSuccessful(sources ...gw.CredentialSource) *FirstSuccessful {
	return &FirstSuccessful{sources: append([]gw.CredentialSource(nil), sources...)}
}

// SourceNames returns the registered source names in consultation order.
func (s *FirstSuccessful) SourceNames() []string {
	names := make([]string, len(s.sources))
	for i, src := range s.sources {
		names[i] = src.Name()
	}
	return names
}

// Authenticate resolves token to a principal.
//
// It returns domain.ErrUnsupportedCredential when no source supports the
// token kind, and a *domain.AllSourcesFailedError listing every supporting
// source's reason when none of them verifies it.
func (s *FirstSuccessful) Authenticate(ctx context.Context, token domain.AuthenticationToken) (domain.Principal, error) {
	if token == nil {
		token = domain.NoCredential{}
	}

	var failures []domain.SourceFailure
	for _, src := range s.sources {
		if !src.Supports(token) {
			continue
		}
		p, err := src.Authenticate(ctx, token)
		if err == nil {
			if p.Source == "" {
				p.Source = src.Name()
			}
			return p, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return domain.Principal{}, err
		}
		failures = append(failures, domain.SourceFailure{Source: src.Name(), Err: err})
	}

	if len(failures) == 0 {
		return domain.Principal{}, domain.ErrUnsupportedCredential
	}
	return domain.Principal{}, &domain.AllSourcesFailedError{Failures: failures}
}
