package postgresql

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormLoggerTrace(t *testing.T) {
	t.Parallel()

	query := func() (string, int64) { return "SELECT 1", 1 }

	testCases := []struct {
		name      string
		level     gormlogger.LogLevel
		elapsed   time.Duration
		err       error
		wantLevel zapcore.Level
		wantMsg   string
		wantNone  bool
	}{
		{name: "query error", level: gormlogger.Warn, err: errors.New("boom"), wantLevel: zapcore.ErrorLevel, wantMsg: "query failed"},
		{name: "record not found is quiet", level: gormlogger.Warn, err: gorm.ErrRecordNotFound, wantNone: true},
		{name: "slow query", level: gormlogger.Warn, elapsed: time.Second, wantLevel: zapcore.WarnLevel, wantMsg: "slow query"},
		{name: "fast query at warn", level: gormlogger.Warn, wantNone: true},
		{name: "fast query at info", level: gormlogger.Info, wantLevel: zapcore.DebugLevel, wantMsg: "query"},
		{name: "silent", level: gormlogger.Silent, err: errors.New("boom"), wantNone: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			l := NewGormLogger(zap.New(core), 100*time.Millisecond).LogMode(tc.level)

			l.Trace(context.Background(), time.Now().Add(-tc.elapsed), query, tc.err)

			entries := logs.All()
			if tc.wantNone {
				if len(entries) != 0 {
					t.Fatalf("log entries = %d, want 0", len(entries))
				}
				return
			}
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if entries[0].Level != tc.wantLevel || entries[0].Message != tc.wantMsg {
				t.Fatalf("entry = (%s, %q), want (%s, %q)", entries[0].Level, entries[0].Message, tc.wantLevel, tc.wantMsg)
			}
		})
	}
}

func TestGormLoggerLogModeDoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	base := NewGormLogger(zap.New(core), 0)
	_ = base.LogMode(gormlogger.Silent)

	base.Warn(context.Background(), "pool %s", "exhausted")
	if logs.Len() != 1 {
		t.Fatalf("log entries = %d, want 1", logs.Len())
	}
	if got := logs.All()[0].Message; got != "pool exhausted" {
		t.Fatalf("message = %q, want %q", got, "pool exhausted")
	}
}
