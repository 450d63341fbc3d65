package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/edvin/proximity/internal/model"
)

const maskedValue = "********"

type settingSpec struct {
	category  string
	encrypted bool
	integer   bool
}

var knownSettings = map[string]settingSpec{
	model.SettingNetworkBridge:    {category: model.SettingCategoryNetwork},
	model.SettingNetworkSubnet:    {category: model.SettingCategoryNetwork},
	model.SettingNetworkGateway:   {category: model.SettingCategoryNetwork},
	model.SettingNetworkDHCPStart: {category: model.SettingCategoryNetwork},
	model.SettingNetworkDHCPEnd:   {category: model.SettingCategoryNetwork},
	model.SettingMemoryMB:         {category: model.SettingCategoryResources, integer: true},
	model.SettingCores:            {category: model.SettingCategoryResources, integer: true},
	model.SettingDiskGB:           {category: model.SettingCategoryResources, integer: true},
	model.SettingStoragePool:      {category: model.SettingCategoryResources},
	model.SettingTemplate:         {category: model.SettingCategoryResources},
	model.SettingBackupStorage:    {category: model.SettingCategoryResources},
}

// SettingsService stores the key/value system settings. Keys under
// "proxmox." are always encrypted.
type SettingsService struct {
	db     DB
	sealer Sealer
}

func NewSettingsService(db DB, sealer Sealer) *SettingsService {
	return &SettingsService{db: db, sealer: sealer}
}

func specFor(key string) (settingSpec, bool) {
	if spec, ok := knownSettings[key]; ok {
		return spec, true
	}
	if strings.HasPrefix(key, model.SettingCategoryProxmox+".") && len(key) > len(model.SettingCategoryProxmox)+1 {
		return settingSpec{category: model.SettingCategoryProxmox, encrypted: true}, true
	}
	return settingSpec{}, false
}

// List returns every stored setting with encrypted values masked.
func (s *SettingsService) List(ctx context.Context) ([]model.Setting, error) {
	rows, err := s.db.Query(ctx, "SELECT key, value, encrypted, category, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var settings []model.Setting
	for rows.Next() {
		var st model.Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.Encrypted, &st.Category, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		if st.Encrypted {
			st.Value = maskedValue
		}
		settings = append(settings, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return settings, nil
}

// Get returns a setting with its value decrypted.
func (s *SettingsService) Get(ctx context.Context, key string) (*model.Setting, error) {
	var st model.Setting
	err := s.db.QueryRow(ctx,
		"SELECT key, value, encrypted, category, updated_at FROM settings WHERE key = $1", key,
	).Scan(&st.Key, &st.Value, &st.Encrypted, &st.Category, &st.UpdatedAt)
	if err != nil {
		return nil, lookupErr("setting", key, err)
	}
	if st.Encrypted {
		plain, err := s.sealer.Open(st.Value)
		if err != nil {
			return nil, fmt.Errorf("decrypt setting %s: %w", key, err)
		}
		st.Value = plain
	}
	return &st, nil
}

// Set validates and stores a setting. The returned setting is masked when
// encrypted.
func (s *SettingsService) Set(ctx context.Context, key, value string) (*model.Setting, error) {
	spec, ok := specFor(key)
	if !ok {
		return nil, invalid("unknown setting %q", key)
	}
	if spec.integer {
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return nil, invalid("setting %s must be a positive integer", key)
		}
	}

	stored := value
	if spec.encrypted {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return nil, fmt.Errorf("encrypt setting %s: %w", key, err)
		}
		stored = sealed
	}

	st := model.Setting{Key: key, Value: value, Encrypted: spec.encrypted, Category: spec.category}
	err := s.db.QueryRow(ctx,
		`INSERT INTO settings (key, value, encrypted, category, updated_at) VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, encrypted = EXCLUDED.encrypted,
		   category = EXCLUDED.category, updated_at = now()
		 RETURNING updated_at`,
		key, stored, spec.encrypted, spec.category,
	).Scan(&st.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store setting %s: %w", key, err)
	}
	if st.Encrypted {
		st.Value = maskedValue
	}
	return &st, nil
}

// Resources returns the container defaults, falling back to
// model.DefaultResources for every key that is not stored.
func (s *SettingsService) Resources(ctx context.Context) (model.ResourceDefaults, error) {
	res := model.DefaultResources

	rows, err := s.db.Query(ctx,
		"SELECT key, value FROM settings WHERE category IN ($1, $2)",
		model.SettingCategoryResources, model.SettingCategoryNetwork,
	)
	if err != nil {
		return res, fmt.Errorf("load resource settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return res, fmt.Errorf("scan setting: %w", err)
		}
		res.Apply(key, value)
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("iterate settings: %w", err)
	}
	return res, nil
}
