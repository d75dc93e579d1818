package consts

// DedupeKeyPrefix namespaces event idempotency keys in Redis.
const DedupeKeyPrefix = "gymstream:events:"
