package model

import "time"

type Backup struct {
	ID            string       `json:"id"`
	ApplicationID string       `json:"application_id"`
	FileName      *string      `json:"file_name,omitempty"`
	StorageName   string       `json:"storage_name"`
	SizeBytes     *int64       `json:"size_bytes,omitempty"`
	BackupType    string       `json:"backup_type"`
	Compression   string       `json:"compression"`
	Status        BackupStatus `json:"status"`
	ErrorMessage  *string      `json:"error_message,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// vzdump modes.
const (
	BackupTypeSnapshot = "snapshot"
	BackupTypeSuspend  = "suspend"
	BackupTypeStop     = "stop"
)

const (
	CompressionZstd = "zstd"
	CompressionGzip = "gzip"
	CompressionLzo  = "lzo"
)
