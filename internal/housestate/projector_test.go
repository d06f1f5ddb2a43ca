package housestate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homewatch/internal/models"
)

var baseTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// roomEvent 构造房间事件，offset 越小越新（事件按时间倒序排列）
func roomEvent(eventType, room, personName string, offset int) *models.Event {
	event := &models.Event{
		Type:      eventType,
		Room:      &room,
		Timestamp: baseTime.Add(-time.Duration(offset) * time.Second),
	}
	if personName != "" {
		event.PersonName = &personName
	}
	return event
}

func TestProjectRooms_EmptyWindow(t *testing.T) {
	rooms := ProjectRooms(nil)

	require.Len(t, rooms, 5)
	for _, room := range rooms {
		assert.False(t, room.Motion)
		assert.Empty(t, room.Occupants)
		assert.Equal(t, "closed", room.AccessPointState)
	}
	assert.Equal(t, "door", rooms["hall"].AccessPoint)
	assert.Equal(t, "window", rooms["kitchen"].AccessPoint)
	assert.Equal(t, "gate", rooms["garden"].AccessPoint)
}

func TestProjectRooms_ClearedNewestWins(t *testing.T) {
	// motion_cleared 比所有 detection 都新：房间必须为空，无论中间有多少次检测
	events := []*models.Event{
		roomEvent(models.EventMotionCleared, "hall", "", 0),
		roomEvent(models.EventDetection, "hall", "Alice", 10),
		roomEvent(models.EventDetection, "hall", "Bob", 20),
	}

	rooms := ProjectRooms(events)

	assert.False(t, rooms["hall"].Motion)
	assert.Empty(t, rooms["hall"].Occupants)
}

func TestProjectRooms_OccupancyImpliesMotion(t *testing.T) {
	events := []*models.Event{
		roomEvent(models.EventDetection, "kitchen", "Alice", 0),
	}

	rooms := ProjectRooms(events)

	assert.True(t, rooms["kitchen"].Motion)
	assert.Equal(t, []string{"Alice"}, rooms["kitchen"].Occupants)
}

func TestProjectRooms_MotionWithoutOccupantsRecomputed(t *testing.T) {
	// 最新事件是 motion 但没有任何人名：在场为准，motion 回落为 false
	events := []*models.Event{
		roomEvent(models.EventMotion, "bedroom", "", 0),
	}

	rooms := ProjectRooms(events)

	assert.False(t, rooms["bedroom"].Motion)
	assert.Empty(t, rooms["bedroom"].Occupants)
}

func TestProjectRooms_OccupantsDeduplicated(t *testing.T) {
	events := []*models.Event{
		roomEvent(models.EventDetection, "hall", "Alice", 0),
		roomEvent(models.EventDetection, "hall", "Alice", 10),
		roomEvent(models.EventDetection, "hall", "Bob", 20),
	}

	rooms := ProjectRooms(events)

	assert.Equal(t, []string{"Alice", "Bob"}, rooms["hall"].Occupants)
}

func TestProjectRooms_RoomsIndependent(t *testing.T) {
	events := []*models.Event{
		roomEvent(models.EventMotionCleared, "hall", "", 0),
		roomEvent(models.EventDetection, "kitchen", "Alice", 5),
		roomEvent(models.EventDetection, "hall", "Bob", 10),
	}

	rooms := ProjectRooms(events)

	assert.Empty(t, rooms["hall"].Occupants)
	assert.Equal(t, []string{"Alice"}, rooms["kitchen"].Occupants)
}

func TestProjectRooms_EvacuationClears(t *testing.T) {
	events := []*models.Event{
		roomEvent(models.EventEvacuation, "garden", "", 0),
		roomEvent(models.EventDetection, "garden", "Alice", 10),
	}

	rooms := ProjectRooms(events)

	assert.False(t, rooms["garden"].Motion)
	assert.Empty(t, rooms["garden"].Occupants)
}

func TestProjectRooms_UnknownRoomIgnored(t *testing.T) {
	events := []*models.Event{
		roomEvent(models.EventDetection, "attic", "Alice", 0),
	}

	rooms := ProjectRooms(events)

	require.Len(t, rooms, 5)
	for _, room := range rooms {
		assert.Empty(t, room.Occupants)
	}
}

func TestProjectRooms_ClearedNotNewestStillAccumulates(t *testing.T) {
	// 清场事件不是最新的：之后（更新）的检测继续累积在场
	events := []*models.Event{
		roomEvent(models.EventDetection, "hall", "Alice", 0),
		roomEvent(models.EventMotionCleared, "hall", "", 10),
		roomEvent(models.EventDetection, "hall", "Bob", 20),
	}

	rooms := ProjectRooms(events)

	assert.True(t, rooms["hall"].Motion)
	assert.Contains(t, rooms["hall"].Occupants, "Alice")
}
