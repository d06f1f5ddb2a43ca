package models

import (
	"time"
)

// 系统设置键（settings 表）
const (
	SettingArmed     = "armed"
	SettingAlertMode = "alert_mode"
	SettingRiskScore = "risk_score"
	SettingTheme     = "theme"
)

// 报警模式
const (
	AlertModeNormal = "normal"
	AlertModeSilent = "silent"
)

// Setting 系统设置项（对应 settings 表，按键覆盖写）
type Setting struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RiskFactors 风险评分构成因子
type RiskFactors struct {
	HighRiskEvents   int  `json:"highRiskEvents"`
	MediumRiskEvents int  `json:"mediumRiskEvents"`
	UnknownFaces     int  `json:"unknownFaces"`
	NightTime        bool `json:"nightTime"`
}

// RiskSnapshot 当前风险快照
type RiskSnapshot struct {
	Score   int         `json:"score"`
	Level   string      `json:"level"` // low, medium, high
	Factors RiskFactors `json:"factors"`
}

// VisitorPattern 访客行为分析结果
type VisitorPattern struct {
	Pattern     string `json:"pattern"`   // new, normal, suspicious
	Frequency   string `json:"frequency"` // daily, frequent, occasional, rare
	TotalVisits int    `json:"totalVisits"`
	NightVisits int    `json:"nightVisits"`
	DaysBetween int    `json:"daysBetween"`
}

// RoomState 单个房间的当前状态（由事件日志投影得到）
type RoomState struct {
	Motion           bool     `json:"motion"`
	AccessPoint      string   `json:"accessPoint"`      // door, window, gate
	AccessPointState string   `json:"accessPointState"` // closed, open
	Occupants        []string `json:"occupants"`
}

// HouseState 整屋状态快照
type HouseState struct {
	Rooms      map[string]*RoomState `json:"rooms"`
	LastUpdate time.Time             `json:"lastUpdate"`
}

// SystemStatus 系统状态汇总
type SystemStatus struct {
	Armed        bool     `json:"armed"`
	AlertMode    string   `json:"alertMode"`
	RiskScore    int      `json:"riskScore"`
	Theme        string   `json:"theme"`
	RecentEvents []*Event `json:"recentEvents"`
}
