package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"tzlogs/pkg/config"
	"tzlogs/pkg/objectstore"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// fileSink is the temporary log file shared by every derived logger.
type fileSink struct {
	mu       sync.Mutex
	logFile  *os.File
	filePath string
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logFile.Write(p)
}

func (s *fileSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logFile.Sync()
}

// Logger that we will use to save our logs.
type NewLogger struct {
	sugar  *zap.SugaredLogger
	sink   *fileSink
	bucket config.BucketConfig
}

// CreateLogger creates the logger writing to stderr and to a temporary file.
func CreateLogger(cfg *config.Config, component string) (*NewLogger, error) {
	f, err := os.CreateTemp("", "log-*.log")
	if err != nil {
		return nil, err
	}
	sink := &fileSink{logFile: f, filePath: f.Name()}

	level := zap.InfoLevel
	if strings.EqualFold(config.GetEnv("LOG_LEVEL", ""), "debug") {
		level = zap.DebugLevel
	}

	fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleCfg)

	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, zapcore.AddSync(sink), level),
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	)

	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("component", component))

	var bucket config.BucketConfig
	if cfg != nil {
		bucket = cfg.Bucket
	}

	return &NewLogger{
		sugar:  base.Sugar(),
		sink:   sink,
		bucket: bucket,
	}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *NewLogger {
	return &NewLogger{sugar: zap.NewNop().Sugar()}
}

// Log a simple info.
func (l *NewLogger) Infof(format string, args ...any) {
	l.sugar.Infof(format, args...)
}

// Log a warning.
func (l *NewLogger) Warnf(format string, args ...any) {
	l.sugar.Warnf(format, args...)
}

// Log a error.
func (l *NewLogger) Errorf(format string, args ...any) {
	l.sugar.Errorf(format, args...)
}

func (l *NewLogger) Debugf(format string, args ...any) {
	l.sugar.Debugf(format, args...)
}

// Info logs a message with key value pairs.
func (l *NewLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *NewLogger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *NewLogger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// With returns a child logger carrying the given fields.
func (l *NewLogger) With(keysAndValues ...any) *NewLogger {
	return &NewLogger{
		sugar:  l.sugar.With(keysAndValues...),
		sink:   l.sink,
		bucket: l.bucket,
	}
}

// Sync flushes buffered entries.
func (l *NewLogger) Sync() {
	_ = l.sugar.Sync()
}

// Clean the file contents.
func (l *NewLogger) CleanFile() error {
	if l.sink == nil {
		return nil
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if err := l.sink.logFile.Truncate(0); err != nil {
		return err
	}
	_, err := l.sink.logFile.Seek(0, 0)
	return err
}

// Upload the log to a s3 bucket.
func (l *NewLogger) UploadToS3Bucket(ctx context.Context, objectKey string) error {
	if l.sink == nil {
		return errors.New("logger has no file to upload")
	}
	if l.bucket.LogBucket == "" {
		return errors.New("no log bucket configured")
	}

	l.sink.mu.Lock()
	content, err := os.ReadFile(l.sink.filePath)
	l.sink.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}

	client := objectstore.NewClient(l.bucket)
	if err := client.Put(ctx, l.bucket.LogBucket, objectKey, bytes.NewReader(content)); err != nil {
		return err
	}

	// Clean the file after sending.
	return l.CleanFile()
}
