package models

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

// Enabled reports whether a message at level l passes the threshold min.
// Unknown thresholds let everything through.
func (l LogLevel) Enabled(min LogLevel) bool {
	m, ok := levelRank[min]
	if !ok {
		return true
	}
	return levelRank[l] >= m
}
