package log

import "github.com/robfig/cron/v3"

type cronLogger struct{}

// Cron returns a cron.Logger backed by the global logger. cron's own
// chatter (schedule, wake, run) is demoted to DEBUG.
func Cron() cron.Logger {
	return cronLogger{}
}

func (cronLogger) Info(msg string, kv ...interface{}) {
	Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	Error("cron: "+msg, err, kv...)
}
