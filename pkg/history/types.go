// Package history implements the local append-only log of user operations.
//
// Entries are partitioned per authenticated identity and persisted in a
// local SQLite database so the audit trail survives restarts. Entries
// created or updated locally are queued in an outbox table until the sync
// engine acknowledges them against the remote history service.
package history

import (
	"strings"
	"time"
)

// UserID partitions history per authenticated identity.
//
// The derivation is deliberately explicit: the first characters of the
// access key plus the region. Two sessions with the same key prefix and
// region share one history partition.
type UserID struct {
	AccessKeyPrefix string
	Region          string
}

// accessKeyPrefixLen is how much of the access key participates in the
// identity. Enough to distinguish keys without persisting the secret-adjacent
// full value.
const accessKeyPrefixLen = 8

// DeriveUserID builds the identity partition key for a credential pair.
func DeriveUserID(accessKey, region string) UserID {
	prefix := accessKey
	if len(prefix) > accessKeyPrefixLen {
		prefix = prefix[:accessKeyPrefixLen]
	}
	return UserID{AccessKeyPrefix: prefix, Region: region}
}

// String returns the storage key form, "prefix_region".
func (u UserID) String() string {
	return u.AccessKeyPrefix + "_" + u.Region
}

// IsZero reports whether the identity is unset.
func (u UserID) IsZero() bool {
	return u.AccessKeyPrefix == "" && u.Region == ""
}

// Status is the lifecycle state of an entry.
//
// NOTE: these values are persisted and part of the stable on-disk contract.
type Status string

const (
	StatusStarted  Status = "started"
	StatusProgress Status = "progress"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
)

// Terminal reports whether the status ends the entry's state machine.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// LogLevel is the severity recorded with an entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// OperationType is the closed enumeration of auditable user operations.
type OperationType string

const (
	OpBucketList       OperationType = "bucket.list"
	OpBucketCreate     OperationType = "bucket.create"
	OpBucketDelete     OperationType = "bucket.delete"
	OpBucketVersioning OperationType = "bucket.versioning"
	OpBucketEncryption OperationType = "bucket.encryption"
	OpBucketPolicyPut  OperationType = "bucket.policy.put"
	OpBucketPolicyDel  OperationType = "bucket.policy.delete"
	OpBucketACLPut     OperationType = "bucket.acl.put"
	OpBucketACLDel     OperationType = "bucket.acl.delete"
	OpBucketCORSPut    OperationType = "bucket.cors.put"
	OpBucketCORSDel    OperationType = "bucket.cors.delete"
	OpBucketWebsitePut OperationType = "bucket.website.put"
	OpBucketWebsiteDel OperationType = "bucket.website.delete"
	OpBucketLifecycle  OperationType = "bucket.lifecycle"
	OpBucketObjectLock OperationType = "bucket.object-lock"

	OpObjectList     OperationType = "object.list"
	OpObjectUpload   OperationType = "object.upload"
	OpObjectDownload OperationType = "object.download"
	OpObjectDelete   OperationType = "object.delete"
	OpObjectCopy     OperationType = "object.copy"
	OpObjectMove     OperationType = "object.move"
	OpFolderCreate   OperationType = "folder.create"
	OpFolderDelete   OperationType = "folder.delete"

	OpAuthLogin  OperationType = "auth.login"
	OpAuthLogout OperationType = "auth.logout"

	OpHistorySync  OperationType = "history.sync"
	OpHistoryClear OperationType = "history.clear"
)

// Entry is one auditable operation record.
//
// Created on operation start and mutated in place (by id) as the operation
// progresses. Once terminal, only cosmetic fields change; a later success
// may still overwrite an error status when a retry of the same logical
// operation eventually lands.
type Entry struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	OperationType OperationType `json:"operationType"`
	Status        Status        `json:"status"`
	BucketName    string        `json:"bucketName,omitempty"`
	ObjectName    string        `json:"objectName,omitempty"`
	Details       string        `json:"details,omitempty"`
	ErrorCode     string        `json:"errorCode,omitempty"`
	Progress      int           `json:"progress,omitempty"`
	LogLevel      LogLevel      `json:"logLevel"`
	UserMessage   string        `json:"userFriendlyMessage,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	// Limit caps the number of returned entries. Zero returns everything.
	Limit int

	// Status keeps only entries in the given state.
	Status Status

	// OperationType keeps only entries of the given type.
	OperationType OperationType

	// NameGlob keeps entries whose bucket/object path matches the
	// doublestar pattern.
	NameGlob string
}

// Stats summarizes one user's history partition.
type Stats struct {
	Total   int `json:"total"`
	Errors  int `json:"errors"`
	Pending int `json:"pending"`
}

// path joins bucket and object for glob filtering.
func (e Entry) path() string {
	if e.ObjectName == "" {
		return e.BucketName
	}
	return strings.TrimSuffix(e.BucketName, "/") + "/" + strings.TrimPrefix(e.ObjectName, "/")
}
