package db

import (
	"context"
	"time"

	"turnover/internal/types"
)

// RoomRepository reads the managed rooms and their reservation calendars
// from the rooms and room_reservations tables. Both tables are filled by
// the calendar ingest.
type RoomRepository struct {
	db DBTX
}

// NewRoomRepository creates a new RoomRepository.
func NewRoomRepository(db DBTX) *RoomRepository {
	return &RoomRepository{db: db}
}

// ListRooms returns every active room with the reservations that end on or
// after asOf. Bad rows degrade locally and are counted; they never fail the
// load. A room whose checkout time does not parse is kept with
// types.UnknownCheckout so it is still forecast and realized.
// Reservations are returned raw: merging and interval validation happen
// downstream.
func (r *RoomRepository) ListRooms(ctx context.Context, asOf time.Time) ([]types.Room, types.RoomLoadStats, error) {
	var stats types.RoomLoadStats

	rows, err := r.db.Query(ctx,
		`SELECT id, sector, building, COALESCE(NULLIF(display_name, ''), room_no), checkout_time
		 FROM rooms
		 WHERE active = TRUE
		 ORDER BY sector, building, room_no`,
	)
	if err != nil {
		return nil, stats, types.NewAppError(types.ErrCodeInternalDB, "failed to query rooms", err)
	}
	defer rows.Close()

	var rooms []types.Room
	index := make(map[int64]int)
	for rows.Next() {
		var (
			room     types.Room
			checkout string
		)
		if err := rows.Scan(&room.ID, &room.Key.Sector, &room.Key.Building, &room.Key.Room, &checkout); err != nil {
			return nil, stats, types.NewAppError(types.ErrCodeInternalDB, "failed to scan room", err)
		}
		ct, err := types.ParseClockTime(checkout)
		if err != nil {
			stats.BadCheckoutTimes++
			ct = types.UnknownCheckout
		}
		room.CheckoutTime = ct
		index[room.ID] = len(rooms)
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, stats, types.NewAppError(types.ErrCodeInternalDB, "error iterating rooms", err)
	}

	resRows, err := r.db.Query(ctx,
		`SELECT rr.room_id, rr.start_at, rr.end_at
		 FROM room_reservations rr
		 JOIN rooms r ON r.id = rr.room_id AND r.active = TRUE
		 WHERE rr.status <> 'cancelled'
		   AND (rr.end_at IS NULL OR rr.end_at >= $1)
		 ORDER BY rr.room_id, rr.start_at`,
		asOf,
	)
	if err != nil {
		return nil, stats, types.NewAppError(types.ErrCodeInternalDB, "failed to query reservations", err)
	}
	defer resRows.Close()

	for resRows.Next() {
		var (
			roomID     int64
			start, end *time.Time
		)
		if err := resRows.Scan(&roomID, &start, &end); err != nil {
			return nil, stats, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reservation", err)
		}
		i, ok := index[roomID]
		if !ok || start == nil || end == nil {
			stats.SkippedReservations++
			continue
		}
		rooms[i].Intervals = append(rooms[i].Intervals, types.Interval{Start: *start, End: *end})
	}
	if err := resRows.Err(); err != nil {
		return nil, stats, types.NewAppError(types.ErrCodeInternalDB, "error iterating reservations", err)
	}

	return rooms, stats, nil
}
