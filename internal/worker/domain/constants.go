package domain

// StopReason records why a job's search ended.
type StopReason string

const (
	StopFound     StopReason = "found"
	StopRequested StopReason = "stopped"
	StopTimeout   StopReason = "timeout"
	StopShutdown  StopReason = "shutdown"
	StopExhausted StopReason = "exhausted"
)
