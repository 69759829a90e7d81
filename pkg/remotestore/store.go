// Package remotestore defines the per-resource client surface for the
// S3-compatible backend and the caching facade wrapped around it.
//
// Two backends implement Store: proxyclient (through the local CORS proxy)
// and s3direct (straight to the provider with the AWS SDK). CachedStore
// composes either with the TTL cache, the retry engine, and the request
// queue, and owns cache-key derivation and invalidation-on-mutation rules.
package remotestore

import (
	"context"
	"io"
	"time"
)

// Credentials is the opaque credential object forwarded with every call.
// Token mechanics are out of scope; the proxy re-signs requests upstream.
type Credentials struct {
	AccessKey string
	SecretKey string
	Region    string
}

// Bucket summarizes a bucket for listings.
type Bucket struct {
	Name      string    `json:"name"`
	Region    string    `json:"region,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Object summarizes an object for listings.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// ObjectListing is one delimiter-style listing page: objects at the
// requested prefix plus the common prefixes ("folders") below it.
type ObjectListing struct {
	Objects  []Object `json:"objects"`
	Prefixes []string `json:"prefixes,omitempty"`
}

// CreateBucketInput configures bucket creation.
type CreateBucketInput struct {
	Name              string `json:"name"`
	ObjectLockEnabled bool   `json:"objectLockEnabled,omitempty"`
	VersioningEnabled bool   `json:"versioningEnabled,omitempty"`
	EncryptionEnabled bool   `json:"encryptionEnabled,omitempty"`
}

// UploadInput configures an object upload.
type UploadInput struct {
	Bucket      string
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
}

// ConfigKind names a bucket-level configuration document.
type ConfigKind string

const (
	ConfigPolicy     ConfigKind = "policy"
	ConfigACL        ConfigKind = "acl"
	ConfigCORS       ConfigKind = "cors"
	ConfigWebsite    ConfigKind = "website"
	ConfigLifecycle  ConfigKind = "lifecycle"
	ConfigObjectLock ConfigKind = "object-lock"
)

// Store is the raw per-resource client surface.
//
// Implementations return errors classifiable by apperror (either already
// classified or carrying an *apperror.HTTPError in the chain) and must be
// safe for concurrent use.
type Store interface {
	ListBuckets(ctx context.Context) ([]Bucket, error)
	CreateBucket(ctx context.Context, input CreateBucketInput) error
	DeleteBucket(ctx context.Context, name string) error

	ListObjects(ctx context.Context, bucket, prefix string) (*ObjectListing, error)
	PutObject(ctx context.Context, input UploadInput) error
	DeleteObject(ctx context.Context, bucket, key string) error
	CreateFolder(ctx context.Context, bucket, path string) error

	SetVersioning(ctx context.Context, bucket string, enabled bool) error
	SetEncryption(ctx context.Context, bucket string, enabled bool) error
	PutBucketConfig(ctx context.Context, bucket string, kind ConfigKind, doc []byte) error
	DeleteBucketConfig(ctx context.Context, bucket string, kind ConfigKind) error
}
