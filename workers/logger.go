package workers

import "audubon_monitor/models"

// LogFunc records one per-source log line, usually to stdout and the run log
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}
