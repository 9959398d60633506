package z

import "golang.org/x/net/trace"

var (
	// NoEventLog is substituted for a real trace event log whenever event logging is disabled, so
	// that callers never have to branch before printing.
	NoEventLog trace.EventLog = nilEventLog{}
)

type nilEventLog struct{}

func (nel nilEventLog) Printf(format string, a ...interface{}) {}

func (nel nilEventLog) Errorf(format string, a ...interface{}) {}

func (nel nilEventLog) Finish() {}
