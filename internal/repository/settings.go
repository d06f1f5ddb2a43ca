package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"homewatch/internal/models"
)

// SettingsRepository 系统设置仓库（按键覆盖写）
type SettingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSettingsRepository 创建系统设置仓库
func NewSettingsRepository(db *sql.DB, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{
		db:     db,
		logger: logger,
	}
}

// GetSetting 获取单个设置项
func (r *SettingsRepository) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	query := `
		SELECT key, value, updated_at
		FROM settings
		WHERE key = $1
	`

	var setting models.Setting
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&setting.Key,
		&setting.Value,
		&setting.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("setting not found: key=%s", key)
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}

	return &setting, nil
}

// GetSettingValue 获取设置值，不存在时返回默认值
func (r *SettingsRepository) GetSettingValue(ctx context.Context, key, defaultValue string) (string, error) {
	setting, err := r.GetSetting(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return defaultValue, nil
		}
		return "", err
	}
	return setting.Value, nil
}

// UpsertSetting 写入设置项（存在则覆盖）
func (r *SettingsRepository) UpsertSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()
	`

	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to upsert setting: %w", err)
	}

	return nil
}

// ListSettings 列出全部设置
func (r *SettingsRepository) ListSettings(ctx context.Context) (map[string]string, error) {
	query := `
		SELECT key, value
		FROM settings
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings: %w", err)
	}

	return settings, nil
}

// GetRiskScore 读取当前风险分（解析失败按 0 处理）
func (r *SettingsRepository) GetRiskScore(ctx context.Context) (int, error) {
	value, err := r.GetSettingValue(ctx, models.SettingRiskScore, "0")
	if err != nil {
		return 0, err
	}

	score, err := strconv.Atoi(value)
	if err != nil {
		return 0, nil
	}
	return score, nil
}

// SetRiskScore 写入风险分（始终约束在 [0, 100]）
func (r *SettingsRepository) SetRiskScore(ctx context.Context, score int) error {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return r.UpsertSetting(ctx, models.SettingRiskScore, strconv.Itoa(score))
}

// IsArmed 读取布防状态
func (r *SettingsRepository) IsArmed(ctx context.Context) (bool, error) {
	value, err := r.GetSettingValue(ctx, models.SettingArmed, "false")
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

// isNotFound 判断是否为"记录不存在"错误
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}
