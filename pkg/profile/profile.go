// Package profile loads named connection profiles from YAML or JSON files
// and validates them against an embedded JSON schema.
//
// A profile bundles everything the console needs to reach one storage
// backend: proxy or direct mode, endpoint, region, credential sources, and
// default listing filters.
package profile

import (
	"fmt"
	"os"
	"strings"

	"github.com/lakefront/s3console/pkg/match"
	"github.com/lakefront/s3console/pkg/remotestore"
)

// Backend selects how the console reaches storage.
type Backend string

const (
	// BackendProxy routes every request through the local storage proxy.
	BackendProxy Backend = "proxy"

	// BackendDirect talks to the S3 endpoint with the AWS SDK.
	BackendDirect Backend = "direct"
)

// Profile is one named connection configuration.
type Profile struct {
	// Name identifies the profile on the command line.
	Name string `json:"name" yaml:"name"`

	// Backend selects proxy or direct mode.
	Backend Backend `json:"backend" yaml:"backend"`

	// ProxyURL is the storage proxy base URL. Required in proxy mode.
	ProxyURL string `json:"proxy_url,omitempty" yaml:"proxy_url,omitempty"`

	// HistoryURL is the history service base URL. Empty disables sync.
	HistoryURL string `json:"history_url,omitempty" yaml:"history_url,omitempty"`

	// Endpoint is a custom S3-compatible endpoint for direct mode.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Region is the provider region.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// AccessKey and SecretKey hold inline credentials. Prefer the _env
	// variants for anything persistent.
	AccessKey string `json:"access_key,omitempty" yaml:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`

	// AccessKeyEnv and SecretKeyEnv name environment variables holding
	// the credentials. They take precedence over the inline values.
	AccessKeyEnv string `json:"access_key_env,omitempty" yaml:"access_key_env,omitempty"`
	SecretKeyEnv string `json:"secret_key_env,omitempty" yaml:"secret_key_env,omitempty"`

	// ForcePathStyle forces path-style URLs in direct mode.
	ForcePathStyle bool `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`

	// Filters are default listing filters applied by the CLI.
	Filters *match.FilterConfig `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// Credentials resolves the effective credential pair, reading the _env
// variables when named.
func (p *Profile) Credentials() (remotestore.Credentials, error) {
	creds := remotestore.Credentials{
		AccessKey: p.AccessKey,
		SecretKey: p.SecretKey,
		Region:    p.Region,
	}

	if p.AccessKeyEnv != "" {
		v, ok := os.LookupEnv(p.AccessKeyEnv)
		if !ok {
			return remotestore.Credentials{}, fmt.Errorf("profile %s: environment variable %s is not set", p.Name, p.AccessKeyEnv)
		}
		creds.AccessKey = v
	}
	if p.SecretKeyEnv != "" {
		v, ok := os.LookupEnv(p.SecretKeyEnv)
		if !ok {
			return remotestore.Credentials{}, fmt.Errorf("profile %s: environment variable %s is not set", p.Name, p.SecretKeyEnv)
		}
		creds.SecretKey = v
	}
	return creds, nil
}

// ApplyDefaults fills optional fields with their defaults.
func (p *Profile) ApplyDefaults() {
	if p.Backend == "" {
		p.Backend = BackendProxy
	}
	p.ProxyURL = strings.TrimRight(p.ProxyURL, "/")
	p.HistoryURL = strings.TrimRight(p.HistoryURL, "/")
}
