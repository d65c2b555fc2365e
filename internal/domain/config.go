package domain

// KeyPrefix namespaces every key this service writes to a shared key-value store.
const KeyPrefix = "bmae:"

// DefaultCollection is the vector collection the assistant reads and writes.
const DefaultCollection = "bmae"
