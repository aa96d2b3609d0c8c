package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"turnover/internal/types"
)

func TestRoomRepository_ListRooms_BadRowsDegradeLocally(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRoomRepository(db)
	ctx := context.Background()
	asOf := date(10)

	roomRows := newMockRows([][]any{
		{int64(1), "A", "B1", "101", "11:00"},
		{int64(2), "A", "B1", "102", "noon"},
		{int64(3), "B", "B2", "201", "12:30"},
	})
	s1 := time.Date(2025, time.January, 9, 6, 0, 0, 0, time.UTC)
	e1 := time.Date(2025, time.January, 11, 2, 0, 0, 0, time.UTC)
	resRows := newMockRows([][]any{
		{int64(1), s1, e1},
		{int64(1), s1, nil},
		{int64(2), s1, e1},
		{int64(3), e1, e1.Add(48 * time.Hour)},
	})

	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, "FROM rooms") && !strings.Contains(sql, "room_reservations") }), mock.Anything).
		Return(roomRows, nil)
	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, "room_reservations") }), []any{asOf}).
		Return(resRows, nil)

	rooms, stats, err := repo.ListRooms(ctx, asOf)
	require.NoError(t, err)
	require.Len(t, rooms, 3)

	assert.Equal(t, int64(1), rooms[0].ID)
	assert.Equal(t, types.NewClockTime(11, 0), rooms[0].CheckoutTime)
	assert.Equal(t, []types.Interval{{Start: s1, End: e1}}, rooms[0].Intervals)

	// The unreadable checkout time keeps the room and its calendar.
	assert.Equal(t, int64(2), rooms[1].ID)
	assert.Equal(t, types.UnknownCheckout, rooms[1].CheckoutTime)
	assert.Equal(t, []types.Interval{{Start: s1, End: e1}}, rooms[1].Intervals)

	assert.Equal(t, types.RoomKey{Sector: "B", Building: "B2", Room: "201"}, rooms[2].Key)
	assert.Len(t, rooms[2].Intervals, 1)

	assert.Equal(t, types.RoomLoadStats{BadCheckoutTimes: 1, SkippedReservations: 1}, stats)
	assert.True(t, roomRows.closed)
	assert.True(t, resRows.closed)
}
