package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	log "github.com/sirupsen/logrus"
)

// LogFormatter log formatter structure
type LogFormatter struct {
	TimestampFormat string
	LevelDesc       []string
}

// Format format entry in custom format
func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)
	level := f.LevelDesc[entry.Level]

	var fields strings.Builder
	for k, v := range entry.Data {
		fields.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}

	msg := fmt.Sprintf("%s [%s] %s%s\n", timestamp, level, entry.Message, fields.String())
	return []byte(msg), nil
}

func init() {
	log.SetFormatter(newFormatter())
}

func newFormatter() *LogFormatter {
	return &LogFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
		LevelDesc:       []string{"PANIC", "FATAL", "ERROR", "WARN", "INFO", "DEBUG", "TRACE"},
	}
}

// Init sets the level and, when logDirectory is non-empty, redirects output
// to hourly rotated files under a per-day folder.
func Init(level, logDirectory string, maxAgeDays int) error {
	log.SetFormatter(newFormatter())
	log.SetLevel(parseLevel(level))

	if logDirectory == "" {
		return nil
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 2
	}

	logFile := filepath.Join(logDirectory, ".log")
	dateFolder, err := createLogFolder(logFile)
	if err != nil {
		return fmt.Errorf("create log folder: %w", err)
	}

	rl, err := initializeLogRotation(logFile, dateFolder, maxAgeDays)
	if err != nil {
		return fmt.Errorf("init log rotation: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rl))

	deleteOldLogFilesRoutine(logDirectory, maxAgeDays)
	return nil
}

func parseLevel(level string) log.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return log.DebugLevel
	case "WARN", "WARNING":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Info logs informational messages
func Info(message string) {
	log.Info(message)
}

// Error logs error messages
func Error(message string) {
	log.Error(message)
}

// Debug logs debug messages
func Debug(message string) {
	log.Debug(message)
}

// Warn logs warning messages
func Warn(message string) {
	log.Warn(message)
}

// Fatal logs fatal error and exits
func Fatal(message string) {
	log.Fatal(message)
}

// Infof logs formatted informational message
func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Warnf logs formatted warning message
func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Errorf logs formatted error message
func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// Debugf logs formatted debug message
func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// WithFields returns an entry carrying structured context
func WithFields(fields map[string]interface{}) *log.Entry {
	return log.WithFields(log.Fields(fields))
}

// createLogFolder creates a folder for logs based on the current date
func createLogFolder(logFile string) (string, error) {
	baseDir := filepath.Dir(logFile)
	dateFolder := filepath.Join(baseDir, time.Now().Format("2006-01-02"))
	err := os.MkdirAll(dateFolder, 0755)
	return dateFolder, err
}

// initializeLogRotation rotates hourly and gzips the previous file
func initializeLogRotation(logFile, dateFolder string, logFileMaxAge int) (*rotatelogs.RotateLogs, error) {
	return rotatelogs.New(
		fmt.Sprintf("%s/%%Y-%%m-%%d-%%H%s", dateFolder, filepath.Base(logFile)),
		rotatelogs.WithLinkName(fmt.Sprintf("%s/%s", dateFolder, filepath.Base(logFile))),
		rotatelogs.WithRotationTime(time.Hour),
		rotatelogs.WithMaxAge(time.Duration(logFileMaxAge)*24*time.Hour),
		rotatelogs.WithHandler(rotatelogs.HandlerFunc(func(e rotatelogs.Event) {
			if e.Type() != rotatelogs.FileRotatedEventType {
				return
			}
			compressPreviousFile(e.(*rotatelogs.FileRotatedEvent).PreviousFile())
		})),
	)
}

// deleteOldLogFilesRoutine starts a routine to delete old log folders
func deleteOldLogFilesRoutine(logDirectory string, logFileMaxAge int) {
	go func() {
		for {
			deleteOldDateFolders(logDirectory, logFileMaxAge)
			time.Sleep(time.Hour)
		}
	}()
}

// deleteOldDateFolders deletes date folders older than the specified max age
func deleteOldDateFolders(baseDir string, maxAgeDays int) {
	cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("log cleanup: read %s: %v", baseDir, err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(baseDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(path); err != nil {
				log.Warnf("log cleanup: remove %s: %v", path, err)
			}
		}
	}
}

// compressPreviousFile compresses the previous log file
func compressPreviousFile(fileName string) {
	if err := compressLogFile(fileName, fileName+".gz"); err != nil {
		log.Warnf("log rotation: compress %s: %v", fileName, err)
	}
}

// compressLogFile compresses a log file to gzip format
func compressLogFile(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}
	defer f.Close()
	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat log file: %v", err)
	}
	gzf, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fi.Mode())
	if err != nil {
		return fmt.Errorf("failed to open compressed log file: %v", err)
	}
	defer gzf.Close()
	gz := gzip.NewWriter(gzf)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		return err
	}
	return os.Remove(src)
}
