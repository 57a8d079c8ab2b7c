// Package profiles loads named target profiles from YAML configuration
// files. A profile bundles a base URL, default headers and an ordered list
// of auth declarations for the chain resolver.
package profiles

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/apitest-cli/apitest/pkg/auth"
	"github.com/apitest-cli/apitest/pkg/environment"
	"github.com/apitest-cli/apitest/pkg/errors"
	"github.com/apitest-cli/apitest/pkg/logger"
)

// expand resolves environment references in a profile field, warning about
// names that stay unresolved.
func expand(profile, field, raw string) string {
	expanded, unresolved := environment.ExpandWithUnresolved(raw)
	for _, name := range unresolved {
		logger.Warnw("unresolved environment variable in profile",
			"profile", profile, "field", field, "variable", name)
	}
	return expanded
}

// ProjectConfigFile is the project-level configuration file name, looked up
// in the current directory before the user-level file.
const ProjectConfigFile = ".apitest.yaml"

// Profile is one named target configuration.
type Profile struct {
	Name        string
	Description string
	BaseURL     string
	Headers     map[string]string
	PathParams  map[string]string
	Timeout     int
	Auth        []auth.Decl
}

// Chain parses the profile's auth declarations into an ordered chain.
func (p *Profile) Chain() (auth.Chain, error) {
	chain, err := auth.ParseChain(p.Auth)
	if err != nil {
		return auth.Chain{}, errors.NewConfigurationError(
			fmt.Sprintf("profile %q", p.Name), err)
	}
	return chain, nil
}

// Config is the full set of profiles loaded from a configuration file.
type Config struct {
	Profiles map[string]*Profile
}

// Profile returns the named profile, or a configuration error listing the
// available names.
func (c *Config) Profile(name string) (*Profile, error) {
	if profile, ok := c.Profiles[name]; ok {
		return profile, nil
	}
	names := make([]string, 0, len(c.Profiles))
	for n := range c.Profiles {
		names = append(names, n)
	}
	return nil, errors.NewConfigurationError(
		fmt.Sprintf("profile %q not found, available profiles: %v", name, names), nil)
}

// rawProfile mirrors the on-disk profile shape. The auth field is
// polymorphic: a shorthand string, a list of shorthand strings and oauth2
// objects, or a single oauth2 object.
type rawProfile struct {
	Description string            `yaml:"description,omitempty"`
	BaseURL     string            `yaml:"base_url,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	PathParams  map[string]string `yaml:"path_params,omitempty"`
	Timeout     int               `yaml:"timeout,omitempty"`
	Auth        authDecls         `yaml:"auth,omitempty"`
}

type rawConfig struct {
	Profiles map[string]rawProfile `yaml:"profiles"`
}

// authDecls accepts the three YAML shapes an auth entry may take.
type authDecls []auth.Decl

func (d *authDecls) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var shorthand string
		if err := node.Decode(&shorthand); err != nil {
			return err
		}
		*d = authDecls{{Shorthand: shorthand}}
		return nil

	case yaml.MappingNode:
		var decl auth.OAuth2Decl
		if err := node.Decode(&decl); err != nil {
			return err
		}
		*d = authDecls{{OAuth2: &decl}}
		return nil

	case yaml.SequenceNode:
		decls := make(authDecls, 0, len(node.Content))
		for _, item := range node.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				var shorthand string
				if err := item.Decode(&shorthand); err != nil {
					return err
				}
				decls = append(decls, auth.Decl{Shorthand: shorthand})
			case yaml.MappingNode:
				var decl auth.OAuth2Decl
				if err := item.Decode(&decl); err != nil {
					return err
				}
				decls = append(decls, auth.Decl{OAuth2: &decl})
			default:
				return fmt.Errorf("line %d: auth list entries must be strings or oauth2 objects", item.Line)
			}
		}
		*d = decls
		return nil

	default:
		return fmt.Errorf("line %d: auth must be a string, a list or an oauth2 object", node.Line)
	}
}

// Load reads and validates a profile configuration file. Auth declarations
// are kept raw; they are parsed (and env-expanded) by Profile.Chain so a
// broken profile only fails when selected. Base URLs, headers and path
// parameters are env-expanded eagerly.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("failed to parse config file %s", path), err)
	}

	config := &Config{Profiles: make(map[string]*Profile, len(raw.Profiles))}
	for name, rp := range raw.Profiles {
		profile := &Profile{
			Name:        name,
			Description: rp.Description,
			BaseURL:     expand(name, "base_url", rp.BaseURL),
			Timeout:     rp.Timeout,
			Auth:        rp.Auth,
		}
		if len(rp.Headers) > 0 {
			profile.Headers = make(map[string]string, len(rp.Headers))
			for k, v := range rp.Headers {
				profile.Headers[k] = expand(name, "headers."+k, v)
			}
		}
		if len(rp.PathParams) > 0 {
			profile.PathParams = make(map[string]string, len(rp.PathParams))
			for k, v := range rp.PathParams {
				profile.PathParams[k] = expand(name, "path_params."+k, v)
			}
		}
		config.Profiles[name] = profile
	}
	return config, nil
}

// DefaultPath returns the configuration file to use when none is given on
// the command line: the project-level file if present, otherwise the
// user-level file under the XDG config home.
func DefaultPath() string {
	if _, err := os.Stat(ProjectConfigFile); err == nil {
		return ProjectConfigFile
	}
	return filepath.Join(xdg.ConfigHome, "apitest", "config.yaml")
}

// LoadDefault loads the configuration from DefaultPath. A missing file is
// not an error; it yields an empty config.
func LoadDefault() (*Config, error) {
	path := DefaultPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{Profiles: map[string]*Profile{}}, nil
	}
	return Load(path)
}

const exampleConfig = `profiles:
  production:
    description: Production API
    base_url: https://api.example.com
    auth: bearer=$PROD_TOKEN
    timeout: 30
  staging:
    description: Staging API
    base_url: https://staging.api.example.com
    auth:
      - bearer=$STAGING_TOKEN
      - apikey=X-API-Key:$STAGING_API_KEY
  local:
    description: Local development
    base_url: http://localhost:8000
    auth: bearer=$LOCAL_TOKEN
`

// WriteExample writes a starter configuration file. It refuses to overwrite
// an existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.NewConfigurationError(
			fmt.Sprintf("config file %s already exists", path), nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.NewConfigurationError("failed to create config directory", err)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o600); err != nil {
		return errors.NewConfigurationError("failed to write config file", err)
	}
	return nil
}
