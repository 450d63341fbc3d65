package request

// CreateBackup selects how a backup is taken. All fields are optional.
type CreateBackup struct {
	BackupType  string `json:"backup_type" validate:"omitempty,oneof=snapshot suspend stop"`
	Compression string `json:"compression" validate:"omitempty,oneof=zstd gzip lzo"`
	StorageName string `json:"storage_name" validate:"omitempty,max=255"`
}
