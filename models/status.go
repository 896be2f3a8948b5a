package models

import (
	"fmt"
	"strings"
)

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

type Status uint8

const (
	StatusOK       Status = 0
	StatusWarning  Status = 1
	StatusCritical Status = 2
	StatusUnknown  Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ExitCode is the Nagios plugin exit code for the status.
func (s Status) ExitCode() int {
	if s > StatusUnknown {
		return int(StatusUnknown)
	}
	return int(s)
}

// Result is what a probe run reports. Count is -1 when the queue was never
// counted.
type Result struct {
	Status  Status
	Message string
	Count   int
}

// Line renders the single status line: the numeric code, then the message if
// there is one.
func (r Result) Line() string {
	if r.Message == "" {
		return fmt.Sprintf("%d", r.Status.ExitCode())
	}
	// Nagios reads the first line only.
	msg := strings.TrimRight(lineBreaks.Replace(r.Message), " ")
	return fmt.Sprintf("%d %s", r.Status.ExitCode(), msg)
}

func Unknown(err error) Result {
	return Result{
		Status:  StatusUnknown,
		Message: err.Error(),
		Count:   -1,
	}
}
