// Package s3direct implements remotestore.Store straight against an
// S3-compatible endpoint with the AWS SDK, bypassing the local proxy.
//
// The console normally talks through the proxy; this backend exists for CLI
// use against providers reachable without CORS re-signing (MinIO, Wasabi,
// Scaleway, plain AWS).
package s3direct

// Config configures a direct S3 client.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Explicit AccessKey/SecretKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials/config files
//  4. EC2 instance metadata / ECS task role
//
// For S3-compatible stores (MinIO, Wasabi, Scaleway), set Endpoint and
// typically ForcePathStyle.
type Config struct {
	// Region is the provider region. When Endpoint is empty and no region
	// is resolved from the environment, us-east-1 applies.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	// Leave empty for AWS S3.
	Endpoint string

	// AccessKey is an explicit access key. If set, SecretKey must also be
	// set; the pair takes precedence over the default credential chain.
	AccessKey string

	// SecretKey is an explicit secret key. Required if AccessKey is set.
	SecretKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not
	// subdomain). Required for most S3-compatible stores.
	ForcePathStyle bool

	// MaxKeys is the page size for listings. Zero uses 1000.
	MaxKeys int
}

// DefaultMaxKeys is the default page size for listings.
const DefaultMaxKeys = 1000

// DefaultAWSRegion is the fallback region when none is resolved.
const DefaultAWSRegion = "us-east-1"

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if (c.AccessKey != "") != (c.SecretKey != "") {
		return &ConfigError{
			Field:   "AccessKey/SecretKey",
			Message: "both access key and secret key must be provided together",
		}
	}
	return nil
}

// ConfigError reports a configuration validation failure.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3direct config: " + e.Field + ": " + e.Message
}
