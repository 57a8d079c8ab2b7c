package oauth

import (
	"fmt"

	"github.com/apitest-cli/apitest/pkg/auth"
)

// CacheKey computes the deterministic identifier under which tokens for a
// spec are cached. Two specs that differ only in secret or username/password
// share the same key: a token endpoint issuing a token for a given
// (grant_type, url, client_id, scope) is assumed to be independent of the
// secret used to authenticate that fetch. The key shape must stay stable
// across releases, since it names entries in the OS credential store.
func CacheKey(spec *auth.OAuth2Spec) string {
	return fmt.Sprintf("oauth2:%s:%s:%s:%s", spec.GrantType, spec.TokenURL, spec.ClientID, spec.Scope)
}
