package logger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"storage-kit-hub/internal/infrastructure/config"
)

// LogLevel represents logging severity level
type LogLevel string

const (
	LogLevelDEBUG LogLevel = "DEBUG"
	LogLevelINFO  LogLevel = "INFO"
	LogLevelWARN  LogLevel = "WARN"
	LogLevelERROR LogLevel = "ERROR"
)

// EventCode represents structured event types
type EventCode string

const (
	EventAPIRequest     EventCode = "API_REQUEST"
	EventAPIResponse    EventCode = "API_RESPONSE"
	EventAuthError      EventCode = "AUTH_ERROR"
	EventSystemStart    EventCode = "SYSTEM_START"
	EventSystemStop     EventCode = "SYSTEM_STOP"
	EventError          EventCode = "ERROR"
	EventDaemonFallback EventCode = "DAEMON_FALLBACK"
)

// StructuredLog is the persisted log record format
type StructuredLog struct {
	Timestamp      string                 `json:"timestamp"`
	Level          LogLevel               `json:"level"`
	EventCode      EventCode              `json:"event_code"`
	Message        string                 `json:"message"`
	Details        map[string]interface{} `json:"details"`
	Hostname       string                 `json:"hostname"`
	SourceLocation string                 `json:"source_location"`
}

// Logger writes structured events through zap and optionally mirrors them to access_logs.
type Logger struct {
	zap      *zap.Logger
	db       *sql.DB
	hostname string
}

// New builds a zap-backed logger from settings. db may be nil.
func New(settings config.LoggingConfig, db *sql.DB) (*Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(settings.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", settings.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var consoleEnc zapcore.Encoder = zapcore.NewJSONEncoder(encCfg)
	if settings.Format == "console" {
		devCfg := encCfg
		devCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(devCfg)
	}
	cores := []zapcore.Core{zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stdout), level)}

	if settings.FilePath != "" {
		writer := &lumberjack.Logger{
			Filename:   settings.FilePath,
			MaxSize:    settings.MaxSizeMB,
			MaxBackups: settings.MaxBackups,
			MaxAge:     settings.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(writer), level))
	}

	var persist *sql.DB
	if settings.PersistAccessLogs {
		persist = db
	}
	return NewWithCore(zapcore.NewTee(cores...), persist), nil
}

// NewWithCore wraps an existing zap core; tests pass an observer core here.
func NewWithCore(core zapcore.Core, db *sql.DB) *Logger {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Logger{
		zap:      zap.New(core, zap.AddCaller()),
		db:       db,
		hostname: hostname,
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop(), hostname: "nop"}
}

// Zap exposes the underlying zap logger for components that log directly.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Named returns a child zap logger scoped to a component.
func (l *Logger) Named(component string) *zap.Logger {
	return l.zap.Named(component)
}

// Sync flushes buffered zap output.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// LogAPIRequest records an API request event
func (l *Logger) LogAPIRequest(ctx context.Context, method, path, userAgent, remoteAddr string, actor string) {
	details := map[string]interface{}{
		"method":      method,
		"path":        path,
		"user_agent":  userAgent,
		"remote_addr": remoteAddr,
	}
	l.logCtx(ctx, LogLevelDEBUG, EventAPIRequest, fmt.Sprintf("API request: %s %s", method, path), details, actor)
}

// LogAPIResponse records an API response event
func (l *Logger) LogAPIResponse(ctx context.Context, method, path string, statusCode int, responseTime time.Duration, actor string) {
	details := map[string]interface{}{
		"method":        method,
		"path":          path,
		"status_code":   statusCode,
		"response_time": responseTime.Milliseconds(),
	}

	level := LogLevelINFO
	if statusCode >= 400 {
		level = LogLevelWARN
	}
	if statusCode >= 500 {
		level = LogLevelERROR
	}

	l.logCtx(ctx, level, EventAPIResponse,
		fmt.Sprintf("API response: %s %s [%d] (%dms)", method, path, statusCode, responseTime.Milliseconds()),
		details, actor)
}

// LogAuthError records a rejected authentication attempt
func (l *Logger) LogAuthError(ctx context.Context, code, remoteAddr, path string) {
	l.logCtx(ctx, LogLevelWARN, EventAuthError, "Authentication failed: "+code, map[string]interface{}{
		"code":        code,
		"remote_addr": remoteAddr,
		"path":        path,
	}, "")
}

// LogError records an error event with optional error payload
func (l *Logger) LogError(message string, err error, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	if err != nil {
		details["error"] = err.Error()
	}
	l.log(LogLevelERROR, EventError, message, details)
}

// Info logs an informational event.
func (l *Logger) Info(event EventCode, message string, details map[string]interface{}) {
	l.log(LogLevelINFO, event, message, details)
}

// Warn logs a warning event.
func (l *Logger) Warn(event EventCode, message string, details map[string]interface{}) {
	l.log(LogLevelWARN, event, message, details)
}

type ctxKey string

// RequestIDKey is the context key carrying the request id.
const RequestIDKey ctxKey = "request_id"

// WithRequestID stores a request id on ctx for later log enrichment.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFrom returns the request id stored on ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

func (l *Logger) logCtx(ctx context.Context, level LogLevel, eventCode EventCode, message string, details map[string]interface{}, actor string) {
	if details == nil {
		details = map[string]interface{}{}
	}
	if rid := RequestIDFrom(ctx); rid != "" {
		details["request_id"] = rid
	}
	if actor != "" {
		details["actor"] = actor
	}
	l.logAt(3, level, eventCode, message, details)
}

func (l *Logger) log(level LogLevel, eventCode EventCode, message string, details map[string]interface{}) {
	l.logAt(3, level, eventCode, message, details)
}

// logAt writes the structured log via zap and persists it when a DB is attached
func (l *Logger) logAt(skip int, level LogLevel, eventCode EventCode, message string, details map[string]interface{}) {
	sourceLocation := "unknown"
	if _, file, line, ok := runtime.Caller(skip); ok {
		parts := strings.Split(file, "/")
		sourceLocation = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
	}

	fields := []zap.Field{
		zap.String("event_code", string(eventCode)),
		zap.String("hostname", l.hostname),
		zap.String("source_location", sourceLocation),
	}
	if len(details) > 0 {
		fields = append(fields, zap.Any("details", details))
	}
	switch level {
	case LogLevelDEBUG:
		l.zap.Debug(message, fields...)
	case LogLevelWARN:
		l.zap.Warn(message, fields...)
	case LogLevelERROR:
		l.zap.Error(message, fields...)
	default:
		l.zap.Info(message, fields...)
	}

	if l.db == nil {
		return
	}
	l.saveToDatabase(StructuredLog{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		Level:          level,
		EventCode:      eventCode,
		Message:        message,
		Details:        details,
		Hostname:       l.hostname,
		SourceLocation: sourceLocation,
	})
}

// saveToDatabase persists a structured log into access_logs
func (l *Logger) saveToDatabase(entry StructuredLog) {
	detailsJSON, _ := json.Marshal(entry.Details)
	_, err := l.db.Exec(`
	INSERT INTO access_logs (timestamp, level, event_code, message, details, hostname, source_location)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Level, entry.EventCode, entry.Message,
		string(detailsJSON), entry.Hostname, entry.SourceLocation,
	)
	if err != nil {
		l.zap.Warn("failed to save log to database", zap.Error(err))
	}
}

// GetAccessLogs loads recent persisted logs, newest first, with pagination
func (l *Logger) GetAccessLogs(ctx context.Context, limit int, offset int) ([]StructuredLog, error) {
	if l.db == nil {
		return []StructuredLog{}, nil
	}
	rows, err := l.db.QueryContext(ctx, `
	SELECT timestamp, level, event_code, message, details, hostname, source_location
	FROM access_logs
	ORDER BY id DESC
	LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []StructuredLog{}
	for rows.Next() {
		var (
			rec         StructuredLog
			detailsJSON sql.NullString
		)
		if err := rows.Scan(&rec.Timestamp, &rec.Level, &rec.EventCode, &rec.Message,
			&detailsJSON, &rec.Hostname, &rec.SourceLocation); err != nil {
			continue
		}
		if detailsJSON.Valid && detailsJSON.String != "" {
			_ = json.Unmarshal([]byte(detailsJSON.String), &rec.Details)
		}
		logs = append(logs, rec)
	}
	return logs, rows.Err()
}
