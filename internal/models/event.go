package models

import (
	"time"
)

// 事件类型（对应 events 表的 event_type 字段）
const (
	EventMotion        = "motion"
	EventMotionCleared = "motion_cleared"
	EventDetection     = "detection"
	EventKnownFace     = "known_face"
	EventUnknownFace   = "unknown_face"
	EventIntruder      = "intruder"
	EventForcedEntry   = "forced_entry"
	EventFire          = "fire"
	EventPowerFailure  = "power_failure"
	EventLockdown      = "lockdown"
	EventEvacuation    = "evacuation"
	EventSystem        = "system"
	EventFaceAdded     = "face_added"
	EventFaceApproved  = "face_approved"
	EventDoorAccess    = "door_access"
)

// 风险等级
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Event 安防事件（对应 events 表，只追加不修改）
type Event struct {
	EventID     string     `json:"event_id" db:"event_id"`
	Type        string     `json:"type" db:"event_type"`
	Room        *string    `json:"room,omitempty" db:"room"`
	PersonName  *string    `json:"person_name,omitempty" db:"person_name"`
	PersonID    *string    `json:"person_id,omitempty" db:"person_id"` // 弱引用 known_faces，仅用于查询
	RiskLevel   string     `json:"risk_level" db:"risk_level"`
	Description string     `json:"description" db:"description"`
	ImagePath   *string    `json:"image_path,omitempty" db:"image_path"`
	Timestamp   time.Time  `json:"timestamp" db:"event_time"`
}

// EventPage 事件分页结果
type EventPage struct {
	Events []*Event `json:"events"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}
