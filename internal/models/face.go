package models

import (
	"time"
)

// 人员分类
const (
	CategoryFamily     = "family"
	CategoryGuest      = "guest"
	CategoryFrequent   = "frequent"
	CategoryRare       = "rare"
	CategorySuspicious = "suspicious"
	CategoryUnknown    = "unknown"
)

// 待审批记录状态
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// KnownFace 已登记人员（对应 known_faces 表）
type KnownFace struct {
	FaceID        string     `json:"face_id" db:"face_id"`
	Name          string     `json:"name" db:"name"`
	Category      string     `json:"category" db:"category"`
	Descriptor    []float64  `json:"descriptor,omitempty" db:"descriptor"` // 面部特征向量，可为空
	ImagePath     *string    `json:"image_path,omitempty" db:"image_path"`
	Notes         string     `json:"notes" db:"notes"`
	VisitCount    int        `json:"visit_count" db:"visit_count"`
	LastSeen      *time.Time `json:"last_seen,omitempty" db:"last_seen"`
	Approved      bool       `json:"approved" db:"approved"`
	AccessAllowed bool       `json:"access_allowed" db:"access_allowed"`
	AddedAt       time.Time  `json:"added_at" db:"added_at"`
}

// HasDescriptor 是否携带特征向量
func (f *KnownFace) HasDescriptor() bool {
	return len(f.Descriptor) > 0
}

// UnknownFace 未识别的陌生人记录（对应 unknown_faces 表，待审批）
type UnknownFace struct {
	FaceID         string    `json:"face_id" db:"face_id"`
	Descriptor     []float64 `json:"descriptor" db:"descriptor"`
	ImagePath      *string   `json:"image_path,omitempty" db:"image_path"`
	FirstSeen      time.Time `json:"first_seen" db:"first_seen"`
	LastSeen       time.Time `json:"last_seen" db:"last_seen"`
	DetectionCount int       `json:"detection_count" db:"detection_count"`
	AlertSent      bool      `json:"alert_sent" db:"alert_sent"`
	Status         string    `json:"status" db:"status"` // pending, approved, rejected
}
