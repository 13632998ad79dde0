package debug

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotatingFile returns a writer appending to path, rotated at 10 MB with
// three compressed backups kept for a week.
func RotatingFile(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}
}
