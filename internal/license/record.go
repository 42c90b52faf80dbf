package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// KeyType distinguishes permanent keys from time-limited trial keys
type KeyType string

const (
	KeyTypePermanent KeyType = "permanent"
	KeyTypeTrial     KeyType = "trial"
)

// Valid reports whether the key type is one of the known variants
func (t KeyType) Valid() bool {
	return t == KeyTypePermanent || t == KeyTypeTrial
}

// ValidationStatus is the activation state of a key record
type ValidationStatus string

const (
	StatusUnused ValidationStatus = "unused"
	StatusUsed   ValidationStatus = "used"
)

// Hash field names of a persisted key record
const (
	fieldKeyValue         = "key_value"
	fieldKeyType          = "key_type"
	fieldValidationStatus = "validation_status"
	fieldCreatedAt        = "created_at"
	fieldExpiresAt        = "expires_at"
	fieldActivatedAt      = "activated_at"
	fieldWebValidatedTime = "web_validated_time"
	fieldUserID           = "user_id"
)

// KeyRecord is the persisted entity representing one issued license key.
// Timestamps are stored as RFC 3339 strings; absent optional fields are
// stored empty, matching how the records read back from the store.
type KeyRecord struct {
	KeyValue         string
	KeyType          KeyType
	ValidationStatus ValidationStatus
	CreatedAt        time.Time
	ExpiresAt        *time.Time
	ActivatedAt      *time.Time
	WebValidatedTime *time.Time
	UserID           string
}

// IsExpired reports whether a trial key's expiry has passed. Permanent keys
// and trial keys without an expiry never expire.
func (r *KeyRecord) IsExpired(now time.Time) bool {
	return r.KeyType == KeyTypeTrial && r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Fields serializes the record into store hash fields
func (r *KeyRecord) Fields() map[string]string {
	return map[string]string{
		fieldKeyValue:         r.KeyValue,
		fieldKeyType:          string(r.KeyType),
		fieldValidationStatus: string(r.ValidationStatus),
		fieldCreatedAt:        r.CreatedAt.UTC().Format(time.RFC3339),
		fieldExpiresAt:        formatOptionalTime(r.ExpiresAt),
		fieldActivatedAt:      formatOptionalTime(r.ActivatedAt),
		fieldWebValidatedTime: formatOptionalTime(r.WebValidatedTime),
		fieldUserID:           r.UserID,
	}
}

// RecordFromFields deserializes a record read from the store
func RecordFromFields(fields map[string]string) (*KeyRecord, error) {
	record := &KeyRecord{
		KeyValue:         fields[fieldKeyValue],
		KeyType:          KeyType(fields[fieldKeyType]),
		ValidationStatus: ValidationStatus(fields[fieldValidationStatus]),
		UserID:           fields[fieldUserID],
	}
	if !record.KeyType.Valid() {
		return nil, fmt.Errorf("key record has unknown key_type %q", fields[fieldKeyType])
	}

	createdAt, err := parseOptionalTime(fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("key record has invalid created_at: %w", err)
	}
	if createdAt != nil {
		record.CreatedAt = *createdAt
	}

	if record.ExpiresAt, err = parseOptionalTime(fields[fieldExpiresAt]); err != nil {
		return nil, fmt.Errorf("key record has invalid expires_at: %w", err)
	}
	if record.ActivatedAt, err = parseOptionalTime(fields[fieldActivatedAt]); err != nil {
		return nil, fmt.Errorf("key record has invalid activated_at: %w", err)
	}
	if record.WebValidatedTime, err = parseOptionalTime(fields[fieldWebValidatedTime]); err != nil {
		return nil, fmt.Errorf("key record has invalid web_validated_time: %w", err)
	}
	return record, nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseOptionalTime(raw string) (*time.Time, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Store key namespaces. Key records are hashes under key:{value}, identity
// trial markers are TTL-bounded strings under trial:user:{digest}, and the
// operator config is a singleton hash.
const (
	recordKeyPrefix  = "key:"
	markerKeyPrefix  = "trial:user:"
	ConfigRecordKey  = "system_config"
	RecordKeyPattern = recordKeyPrefix + "*"
)

// RecordKey returns the store key holding a key record
func RecordKey(keyValue string) string {
	return recordKeyPrefix + keyValue
}

// MarkerKey returns the store key of an identity's trial marker. The identity
// token is content-addressed so arbitrary client-supplied tokens stay within
// a fixed keyspace.
func MarkerKey(identity string) string {
	digest := sha256.Sum256([]byte(identity))
	return markerKeyPrefix + hex.EncodeToString(digest[:8])
}
