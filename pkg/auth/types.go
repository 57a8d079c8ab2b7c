// Package auth implements the authentication orchestration engine: the typed
// model for candidate credentials and the fallback chain tried against a
// target API.
package auth

import (
	"fmt"
	"strings"

	"github.com/apitest-cli/apitest/pkg/environment"
	"github.com/apitest-cli/apitest/pkg/errors"
	"github.com/apitest-cli/apitest/pkg/logger"
)

// expand resolves environment references in a declaration field, warning
// about any that stay unresolved so a typo'd variable name is visible
// before the credential is tried against the target.
func expand(field, raw string) string {
	expanded, unresolved := environment.ExpandWithUnresolved(raw)
	for _, name := range unresolved {
		logger.Warnw("unresolved environment variable in auth declaration",
			"variable", name, "field", field)
	}
	return expanded
}

// Kind identifies one of the supported authentication methods.
type Kind string

const (
	// KindBearer is a static bearer token.
	KindBearer Kind = "bearer"

	// KindAPIKey is an API key sent as a header or query parameter.
	KindAPIKey Kind = "apikey"

	// KindHeader is an arbitrary custom header.
	KindHeader Kind = "header"

	// KindOAuth2 is an OAuth2 grant resolved through the token manager.
	KindOAuth2 Kind = "oauth2"
)

// KeyLocation says where an API key is placed on the request.
type KeyLocation string

const (
	// LocationHeader places the API key in a request header.
	LocationHeader KeyLocation = "header"

	// LocationQuery places the API key in a query parameter.
	LocationQuery KeyLocation = "query"
)

// GrantType is the OAuth2 mechanism used to obtain a token.
type GrantType string

const (
	// GrantClientCredentials is the client_credentials grant.
	GrantClientCredentials GrantType = "client_credentials"

	// GrantPassword is the resource owner password grant.
	GrantPassword GrantType = "password"
)

// OAuth2Spec holds the fields needed to obtain a token from an OAuth2 token
// endpoint. Username and Password are only set for the password grant.
type OAuth2Spec struct {
	GrantType    GrantType
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scope        string
}

// Spec is one candidate authentication method. It is a tagged union: Kind
// selects the variant and only that variant's fields are meaningful. The two
// consumers (decoration building and cache-key computation) switch
// exhaustively on Kind.
type Spec struct {
	Kind Kind

	// Bearer
	Token string

	// API key
	KeyName     string
	KeyValue    string
	KeyLocation KeyLocation

	// Custom header
	HeaderName  string
	HeaderValue string

	// OAuth2
	OAuth *OAuth2Spec
}

// String returns a short description of the spec with no secret material.
func (s Spec) String() string {
	switch s.Kind {
	case KindBearer:
		return "bearer"
	case KindAPIKey:
		return fmt.Sprintf("apikey(%s,%s)", s.KeyName, s.KeyLocation)
	case KindHeader:
		return fmt.Sprintf("header(%s)", s.HeaderName)
	case KindOAuth2:
		return fmt.Sprintf("oauth2(%s,%s)", s.OAuth.GrantType, s.OAuth.TokenURL)
	default:
		return string(s.Kind)
	}
}

// Chain is an ordered, non-empty sequence of candidate auth specs. Insertion
// order is the fallback priority and is preserved exactly as declared.
type Chain struct {
	specs []Spec
}

// NewChain creates a chain from specs, preserving order.
func NewChain(specs []Spec) (Chain, error) {
	if len(specs) == 0 {
		return Chain{}, errors.NewConfigurationError("auth chain cannot be empty", nil)
	}
	copied := make([]Spec, len(specs))
	copy(copied, specs)
	return Chain{specs: copied}, nil
}

// Len returns the number of candidates in the chain.
func (c Chain) Len() int {
	return len(c.specs)
}

// At returns the candidate at position i.
func (c Chain) At(i int) Spec {
	return c.specs[i]
}

// Decl is one raw auth declaration handed over by the profile loader: either
// a shorthand string ("bearer=...", "apikey=...", "header=...") or a
// structured OAuth2 object.
type Decl struct {
	Shorthand string
	OAuth2    *OAuth2Decl
}

// OAuth2Decl is the structured form of an OAuth2 declaration as it appears
// in a profile file.
type OAuth2Decl struct {
	Type         string `yaml:"type" json:"type"`
	GrantType    string `yaml:"grant_type" json:"grant_type"`
	TokenURL     string `yaml:"token_url" json:"token_url"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	Username     string `yaml:"username,omitempty" json:"username,omitempty"`
	Password     string `yaml:"password,omitempty" json:"password,omitempty"`
	Scope        string `yaml:"scope,omitempty" json:"scope,omitempty"`
}

// ParseDecl validates and normalizes one raw declaration into a Spec,
// expanding environment variable references in every value field. It is a
// pure transformation: no network activity, no stored state.
func ParseDecl(decl Decl) (Spec, error) {
	if decl.OAuth2 != nil {
		return parseOAuth2Decl(decl.OAuth2)
	}
	return ParseShorthand(decl.Shorthand)
}

// ParseShorthand parses a shorthand auth string. Supported formats:
//
//	bearer=TOKEN
//	apikey=NAME:VALUE
//	apikey=NAME:VALUE:query
//	header=NAME:VALUE
func ParseShorthand(raw string) (Spec, error) {
	expanded := expand("auth", raw)

	kind, value, found := strings.Cut(expanded, "=")
	if !found {
		return Spec{}, errors.NewConfigurationError(
			fmt.Sprintf("invalid auth format: %q, use 'bearer=TOKEN', 'apikey=NAME:VALUE' or 'header=NAME:VALUE'", raw), nil)
	}

	switch Kind(strings.ToLower(kind)) {
	case KindBearer:
		if value == "" {
			return Spec{}, errors.NewConfigurationError("bearer token cannot be empty", nil)
		}
		return Spec{Kind: KindBearer, Token: value}, nil

	case KindAPIKey:
		parts := strings.Split(value, ":")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return Spec{}, errors.NewConfigurationError("API key format: apikey=NAME:VALUE[:header|query]", nil)
		}
		location := LocationHeader
		if len(parts) > 2 {
			switch KeyLocation(strings.ToLower(parts[2])) {
			case LocationHeader:
				location = LocationHeader
			case LocationQuery:
				location = LocationQuery
			default:
				return Spec{}, errors.NewConfigurationError(
					fmt.Sprintf("invalid API key location %q, use 'header' or 'query'", parts[2]), nil)
			}
		}
		return Spec{Kind: KindAPIKey, KeyName: parts[0], KeyValue: parts[1], KeyLocation: location}, nil

	case KindHeader:
		name, headerValue, ok := strings.Cut(value, ":")
		if !ok || name == "" {
			return Spec{}, errors.NewConfigurationError("header format: header=NAME:VALUE", nil)
		}
		return Spec{Kind: KindHeader, HeaderName: name, HeaderValue: headerValue}, nil

	default:
		return Spec{}, errors.NewConfigurationError(
			fmt.Sprintf("unsupported auth type: %q, use 'bearer', 'apikey' or 'header'", kind), nil)
	}
}

func parseOAuth2Decl(decl *OAuth2Decl) (Spec, error) {
	if decl.Type != "" && decl.Type != string(KindOAuth2) {
		return Spec{}, errors.NewConfigurationError(
			fmt.Sprintf("expected 'type: oauth2' for structured auth configuration, got %q", decl.Type), nil)
	}

	grantType := GrantType(decl.GrantType)
	switch grantType {
	case GrantClientCredentials, GrantPassword:
	case "":
		return Spec{}, errors.NewConfigurationError("missing 'grant_type' in oauth2 configuration", nil)
	default:
		return Spec{}, errors.NewConfigurationError(
			fmt.Sprintf("unsupported grant_type %q, use 'client_credentials' or 'password'", decl.GrantType), nil)
	}

	if decl.TokenURL == "" {
		return Spec{}, errors.NewConfigurationError("missing 'token_url' in oauth2 configuration", nil)
	}
	if decl.ClientID == "" {
		return Spec{}, errors.NewConfigurationError("missing 'client_id' in oauth2 configuration", nil)
	}
	if decl.ClientSecret == "" {
		return Spec{}, errors.NewConfigurationError("missing 'client_secret' in oauth2 configuration", nil)
	}

	spec := &OAuth2Spec{
		GrantType:    grantType,
		TokenURL:     expand("token_url", decl.TokenURL),
		ClientID:     expand("client_id", decl.ClientID),
		ClientSecret: expand("client_secret", decl.ClientSecret),
		Scope:        expand("scope", decl.Scope),
	}

	if grantType == GrantPassword {
		if decl.Username == "" {
			return Spec{}, errors.NewConfigurationError("missing 'username' in oauth2 password grant configuration", nil)
		}
		if decl.Password == "" {
			return Spec{}, errors.NewConfigurationError("missing 'password' in oauth2 password grant configuration", nil)
		}
		spec.Username = expand("username", decl.Username)
		spec.Password = expand("password", decl.Password)
	}

	return Spec{Kind: KindOAuth2, OAuth: spec}, nil
}

// ParseChain parses an ordered list of raw declarations into a Chain,
// preserving declaration order.
func ParseChain(decls []Decl) (Chain, error) {
	if len(decls) == 0 {
		return Chain{}, errors.NewConfigurationError("at least one auth declaration is required", nil)
	}

	specs := make([]Spec, 0, len(decls))
	for i, decl := range decls {
		spec, err := ParseDecl(decl)
		if err != nil {
			return Chain{}, errors.NewConfigurationError(fmt.Sprintf("auth declaration %d", i), err)
		}
		specs = append(specs, spec)
	}
	return NewChain(specs)
}
