package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// QueryLogConfig controls which ledger statements reach the log.
type QueryLogConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
}

// DefaultQueryLogConfig logs failures and slow statements only.
func DefaultQueryLogConfig() QueryLogConfig {
	return QueryLogConfig{Level: gormlogger.Warn, SlowThreshold: 250 * time.Millisecond}
}

// ParseQueryLogLevel maps silent, error, warn and info onto gorm levels.
func ParseQueryLogLevel(value string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "silent", "off":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// ledgerTables hold balances or credits; writes to them are tagged so an
// operator can follow one account's money through the log.
var ledgerTables = map[string]struct{}{
	"usage_periods":    {},
	"usage_events":     {},
	"topup_credits":    {},
	"plan_assignments": {},
}

// QueryLogger writes gorm statements through zap with the account, period and
// request of the calling context. Bound values are never logged.
type QueryLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

func NewQueryLogger(cfg QueryLogConfig) *QueryLogger {
	return &QueryLogger{level: cfg.Level, slow: cfg.SlowThreshold}
}

func (l *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zap.InfoLevel, msg, data)
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zap.WarnLevel, msg, data)
}

func (l *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zap.ErrorLevel, msg, data)
}

func (l *QueryLogger) message(ctx context.Context, floor gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.level < floor {
		return
	}
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace logs one statement. A missing row is how absent periods and unknown
// credits show up, so it is never an error here.
func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		l.statement(ctx, zap.ErrorLevel, fc, elapsed, err)
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		l.statement(ctx, zap.WarnLevel, fc, elapsed, nil)
	case l.level >= gormlogger.Info:
		l.statement(ctx, zap.DebugLevel, fc, elapsed, nil)
	}
}

func (l *QueryLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *QueryLogger) statement(ctx context.Context, level zapcore.Level, fc func() (string, int64), elapsed time.Duration, err error) {
	sql, rows := fc()
	op := operationFromSQL(sql)
	table := tableFromSQL(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("operation", op),
		zap.String("table", table),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.String("sql", strings.TrimSpace(sql)),
	}
	if _, ok := ledgerTables[table]; ok {
		fields = append(fields, zap.Bool("ledger", true))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	// the quota check lives in the WHERE clause of the counter UPDATE
	if err == nil && op == "UPDATE" && table == "usage_periods" && rows == 0 {
		fields = append(fields, zap.Bool("debit_refused", true))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if ce := FromContext(ctx).Check(level, "gorm.query"); ce != nil {
		ce.Write(fields...)
	}
}

func operationFromSQL(sql string) string {
	for _, token := range strings.Fields(strings.ToUpper(sql)) {
		switch token = strings.Trim(token, "();"); token {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
			return token
		}
	}
	return "UNKNOWN"
}

// tableFromSQL returns the first table named after FROM, INTO or UPDATE.
func tableFromSQL(sql string) string {
	tokens := strings.Fields(sql)
	for i := 0; i < len(tokens)-1; i++ {
		switch strings.ToUpper(tokens[i]) {
		case "FROM", "INTO", "UPDATE":
			name := strings.Trim(tokens[i+1], "`\"();")
			if name != "" && !strings.EqualFold(name, "SELECT") {
				return strings.ToLower(name)
			}
		}
	}
	return ""
}

var _ gormlogger.Interface = (*QueryLogger)(nil)
