package workers

import "rankpool/models"

// LogFunc receives worker summaries for the daemon log
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}
