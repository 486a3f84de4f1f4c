package stream

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/mpapenbr/racestate-live/pkg/model"
)

var ErrMalformedFrame = errors.New("malformed frame")

const naiveLayout = "2006-01-02T15:04:05.999999999"

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// DecodeFrame parses and validates a live telemetry frame.
// Required are type, session_id, timestamp and drivers. Each entry needs
// driver_id, position and speed. A single invalid entry rejects the frame.
// A timestamp without zone offset is local time of the backend, given by loc
// (nil means time.Local).
func DecodeFrame(data []byte, loc *time.Location) (*model.LiveTelemetry, time.Time, error) {
	var frame model.LiveTelemetry
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if frame.Type != model.LiveTelemetryType {
		return nil, time.Time{}, malformed("unexpected type %q", frame.Type)
	}
	if frame.SessionID == "" {
		return nil, time.Time{}, malformed("missing session_id")
	}
	ts, err := parseTimestamp(frame.Timestamp, loc)
	if err != nil {
		return nil, time.Time{}, err
	}
	if frame.Drivers == nil {
		return nil, time.Time{}, malformed("missing drivers")
	}
	for i, d := range frame.Drivers {
		switch {
		case d == nil:
			return nil, time.Time{}, malformed("drivers[%d] is null", i)
		case d.DriverID == "":
			return nil, time.Time{}, malformed("drivers[%d] missing driver_id", i)
		case d.Position == nil:
			return nil, time.Time{}, malformed("drivers[%d] missing position", i)
		case d.Speed == nil:
			return nil, time.Time{}, malformed("drivers[%d] missing speed", i)
		}
	}
	return &frame, ts, nil
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, malformed("missing timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation(naiveLayout, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, malformed("invalid timestamp %q", s)
}

// Samples converts the frame entries. An entry timestamp (unix seconds)
// takes precedence over the frame timestamp.
func Samples(frame *model.LiveTelemetry, frameTS time.Time) []model.TelemetrySample {
	ret := make([]model.TelemetrySample, 0, len(frame.Drivers))
	for _, d := range frame.Drivers {
		ts := frameTS
		if d.Timestamp != nil {
			sec, frac := math.Modf(*d.Timestamp)
			ts = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		s := model.TelemetrySample{
			DriverID:  d.DriverID,
			Timestamp: ts,
			Position:  *d.Position,
			Speed:     *d.Speed,
			Throttle:  d.Throttle,
			Brake:     d.Brake,
			Steering:  d.Steering,
			Gear:      d.Gear,
			RPM:       d.RPM,
			Sector:    d.Sector,
			Lap:       d.Lap,
		}
		if d.LapTime != nil {
			lt := *d.LapTime
			s.LapTime = &lt
		}
		ret = append(ret, s)
	}
	return ret
}
