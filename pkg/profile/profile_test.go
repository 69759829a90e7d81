package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
name: staging
backend: proxy
proxy_url: http://localhost:8080/
history_url: http://localhost:9000
region: eu-west-3
access_key_env: STAGING_ACCESS_KEY
secret_key_env: STAGING_SECRET_KEY
filters:
  min_size: 1KB
`

func TestLoadFromBytesYAML(t *testing.T) {
	p, err := LoadFromBytes([]byte(validYAML), "staging.yaml")
	require.NoError(t, err)

	assert.Equal(t, "staging", p.Name)
	assert.Equal(t, BackendProxy, p.Backend)
	// Trailing slash trimmed by defaults.
	assert.Equal(t, "http://localhost:8080", p.ProxyURL)
	require.NotNil(t, p.Filters)
	assert.Equal(t, "1KB", p.Filters.MinSize)
}

func TestLoadFromBytesJSON(t *testing.T) {
	raw := `{"name":"minio","backend":"direct","endpoint":"http://localhost:9000","region":"us-east-1","force_path_style":true}`
	p, err := LoadFromBytes([]byte(raw), "minio.json")
	require.NoError(t, err)
	assert.Equal(t, BackendDirect, p.Backend)
	assert.True(t, p.ForcePathStyle)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	raw := `{"name":"x","backend":"direct","bogus_field":true}`
	_, err := LoadFromBytes([]byte(raw), "x.json")
	require.ErrorIs(t, err, ErrValidationFailed)
}

func TestLoadRejectsProxyWithoutURL(t *testing.T) {
	raw := `{"name":"x","backend":"proxy"}`
	_, err := LoadFromBytes([]byte(raw), "x.json")
	require.ErrorIs(t, err, ErrValidationFailed)
}

func TestLoadRejectsBadBackend(t *testing.T) {
	raw := `{"name":"x","backend":"carrier-pigeon"}`
	_, err := LoadFromBytes([]byte(raw), "x.json")
	require.ErrorIs(t, err, ErrValidationFailed)
}

func TestCredentialsFromEnv(t *testing.T) {
	p, err := LoadFromBytes([]byte(validYAML), "staging.yaml")
	require.NoError(t, err)

	_, err = p.Credentials()
	require.Error(t, err)

	t.Setenv("STAGING_ACCESS_KEY", "AKIA123")
	t.Setenv("STAGING_SECRET_KEY", "shh")

	creds, err := p.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "AKIA123", creds.AccessKey)
	assert.Equal(t, "shh", creds.SecretKey)
	assert.Equal(t, "eu-west-3", creds.Region)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staging.yaml"), []byte(validYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	profiles, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Contains(t, profiles, "staging")

	// Missing directory is not an error, just empty.
	profiles, err = LoadDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestLoadDirReportsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(validYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: [broken"), 0o600))

	profiles, err := LoadDir(dir)
	require.Error(t, err)
	// Good profiles still load.
	assert.Contains(t, profiles, "staging")
}
