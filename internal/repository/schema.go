package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"homewatch/internal/models"
)

// schemaStatements 建表语句（幂等，启动时执行）
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS events (
		event_id    UUID PRIMARY KEY,
		event_type  TEXT NOT NULL,
		room        TEXT,
		person_name TEXT,
		person_id   UUID,
		risk_level  TEXT NOT NULL DEFAULT 'low',
		description TEXT NOT NULL DEFAULT '',
		image_path  TEXT,
		event_time  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_time ON events (event_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type_time ON events (event_type, event_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_events_person ON events (person_id)`,
	`CREATE TABLE IF NOT EXISTS known_faces (
		face_id        UUID PRIMARY KEY,
		name           TEXT NOT NULL,
		category       TEXT NOT NULL DEFAULT 'guest',
		descriptor     FLOAT8[],
		image_path     TEXT,
		notes          TEXT NOT NULL DEFAULT '',
		visit_count    INT NOT NULL DEFAULT 0,
		last_seen      TIMESTAMPTZ,
		approved       BOOLEAN NOT NULL DEFAULT TRUE,
		access_allowed BOOLEAN NOT NULL DEFAULT TRUE,
		added_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS unknown_faces (
		face_id         UUID PRIMARY KEY,
		descriptor      FLOAT8[],
		image_path      TEXT,
		first_seen      TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_seen       TIMESTAMPTZ NOT NULL DEFAULT now(),
		detection_count INT NOT NULL DEFAULT 1,
		alert_sent      BOOLEAN NOT NULL DEFAULT FALSE,
		status          TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_unknown_faces_status ON unknown_faces (status, first_seen DESC)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// defaultSettings 初始系统设置
var defaultSettings = map[string]string{
	models.SettingArmed:     "false",
	models.SettingAlertMode: models.AlertModeNormal,
	models.SettingRiskScore: "0",
	models.SettingTheme:     "light",
}

// InitSchema 初始化数据库结构并写入默认设置
func InitSchema(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	// 默认设置只在首次启动写入，不覆盖已有值
	for key, value := range defaultSettings {
		query := `
			INSERT INTO settings (key, value, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (key) DO NOTHING
		`
		if _, err := db.ExecContext(ctx, query, key, value); err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}

	logger.Info("Database schema initialized")
	return nil
}
