package remotestore

import "strings"

// Cache key prefixes. Keys stay unstructured strings so families of entries
// can be invalidated with a substring match.
const (
	bucketsKeyPrefix = "buckets_"
	objectsKeyPrefix = "objects_"
)

// bucketsKey derives the cache key for the bucket listing of a region.
func bucketsKey(region string) string {
	return bucketsKeyPrefix + region
}

// objectsKey derives the cache key for one object listing.
// The prefix is normalized so "reports/" and "/reports/" share an entry.
func objectsKey(bucket, prefix string) string {
	return objectsKeyPrefix + bucket + "_" + normalizePrefix(prefix)
}

// objectsBucketPattern matches every object-listing key under bucket,
// whatever the prefix. Used for invalidation-on-mutation.
func objectsBucketPattern(bucket string) string {
	return objectsKeyPrefix + bucket + "_"
}

func normalizePrefix(prefix string) string {
	return strings.TrimPrefix(prefix, "/")
}
