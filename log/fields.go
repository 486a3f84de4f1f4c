package log

import (
	"time"

	"go.uber.org/zap"
)

var (
	Skip     = zap.Skip
	Binary   = zap.Binary
	Bool     = zap.Bool
	String   = zap.String
	Strings  = zap.Strings
	Int      = zap.Int
	Int32    = zap.Int32
	Int64    = zap.Int64
	Uint     = zap.Uint
	Uint32   = zap.Uint32
	Uint64   = zap.Uint64
	Float64  = zap.Float64
	Time     = zap.Time
	Any      = zap.Any
	Stringer = zap.Stringer
)

func Duration(key string, d time.Duration) Field { return zap.Duration(key, d) }

func ErrorField(err error) Field { return zap.Error(err) }
