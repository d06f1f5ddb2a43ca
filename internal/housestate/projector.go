// Package housestate 房间状态投影：从最近事件窗口按房间推导当前的
// 移动/在场状态。投影本体是纯函数，Projector 负责取窗口内事件。
package housestate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"homewatch/internal/models"
	"homewatch/internal/repository"
)

// 监控房间及其出入口类型
var defaultRooms = map[string]string{
	"hall":        "door",
	"kitchen":     "window",
	"bedroom":     "door",
	"garden":      "gate",
	"living_room": "window",
}

// DefaultRooms 返回全部房间的默认闲置状态
func DefaultRooms() map[string]*models.RoomState {
	rooms := make(map[string]*models.RoomState, len(defaultRooms))
	for name, accessPoint := range defaultRooms {
		rooms[name] = &models.RoomState{
			Motion:           false,
			AccessPoint:      accessPoint,
			AccessPointState: "closed",
			Occupants:        []string{},
		}
	}
	return rooms
}

// isClearingEvent 清场类事件：标记房间已清空
func isClearingEvent(eventType string) bool {
	return eventType == models.EventMotionCleared || eventType == models.EventEvacuation
}

// ProjectRooms 按房间投影当前状态（纯函数，events 按时间倒序）
// 每个房间独立扫描：
//  1. 该房间最新的一条事件决定 cleared 标志，clearing 类事件后停止累积在场人员
//  2. 非 clearing 事件且未 cleared 时，把 subjectName 加入在场集合
//  3. 扫描完成后按在场集合重算 motion：有人即有移动，无人即无移动
func ProjectRooms(events []*models.Event) map[string]*models.RoomState {
	rooms := DefaultRooms()

	type accumulator struct {
		cleared   bool
		first     bool
		occupants []string
		seen      map[string]bool
	}
	acc := make(map[string]*accumulator, len(rooms))
	for name := range rooms {
		acc[name] = &accumulator{first: true, seen: make(map[string]bool)}
	}

	for _, event := range events {
		if event.Room == nil {
			continue
		}
		a, ok := acc[*event.Room]
		if !ok {
			// 未知房间的事件不参与投影
			continue
		}

		if a.first {
			a.first = false
			if isClearingEvent(event.Type) {
				a.cleared = true
			} else if event.Type == models.EventMotion {
				rooms[*event.Room].Motion = true
			}
		}

		if a.cleared || isClearingEvent(event.Type) {
			continue
		}
		if event.PersonName != nil && *event.PersonName != "" && !a.seen[*event.PersonName] {
			a.seen[*event.PersonName] = true
			a.occupants = append(a.occupants, *event.PersonName)
		}
	}

	// 在场与移动保持一致：在场为准
	for name, a := range acc {
		rooms[name].Occupants = a.occupants
		if rooms[name].Occupants == nil {
			rooms[name].Occupants = []string{}
		}
		rooms[name].Motion = len(a.occupants) > 0
	}

	return rooms
}

// Projector 整屋状态投影器（从事件日志取最近窗口）
type Projector struct {
	events *repository.EventsRepository
	window time.Duration
	logger *zap.Logger
}

// NewProjector 创建整屋状态投影器
func NewProjector(events *repository.EventsRepository, window time.Duration, logger *zap.Logger) *Projector {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Projector{
		events: events,
		window: window,
		logger: logger,
	}
}

// Snapshot 返回当前整屋状态快照
// 窗口内没有事件时返回全部房间的闲置状态
func (p *Projector) Snapshot(ctx context.Context) (*models.HouseState, error) {
	now := time.Now()

	events, err := p.events.FindEventsSince(ctx, now.Add(-p.window))
	if err != nil {
		return nil, fmt.Errorf("failed to load house window events: %w", err)
	}

	state := &models.HouseState{
		Rooms:      ProjectRooms(events),
		LastUpdate: now,
	}

	p.logger.Debug("House state projected",
		zap.Int("event_count", len(events)),
	)

	return state, nil
}

// WhoIsHome 汇总当前所有在场人员（去重，跨房间）
func (p *Projector) WhoIsHome(ctx context.Context) ([]string, error) {
	state, err := p.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	for _, room := range state.Rooms {
		for _, name := range room.Occupants {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names, nil
}
