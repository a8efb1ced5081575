package forwarding

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
)

// Result is the verdict of a forwarding decision.
type Result int

// Forwarding results. NEXT defers to the other filters and to the default
// policy.
const (
	ResultNext Result = iota
	ResultForward
	ResultReplace
	ResultReject
	ResultDrop
)

var resultToString = map[Result]string{
	ResultNext:    "NEXT",
	ResultForward: "FORWARD",
	ResultReplace: "REPLACE",
	ResultReject:  "REJECT",
	ResultDrop:    "DROP",
}

func (r Result) String() string {
	text, ok := resultToString[r]
	if !ok {
		return fmt.Sprintf("Result(%d)", int(r))
	}
	return text
}

// ParseResult parses the textual form of a Result, ignoring case.
func ParseResult(text string) (Result, error) {
	for result, name := range resultToString {
		if strings.EqualFold(strings.TrimSpace(text), name) {
			return result, nil
		}
	}
	return 0, errors.Errorf("unknown forwarding result %q", text)
}

// IsForwarded reports whether the request leaves the node.
func (r Result) IsForwarded() bool {
	return r == ResultForward || r == ResultReplace
}

// IsFiltered reports whether the request is answered or dropped locally.
func (r Result) IsFiltered() bool {
	return r == ResultReject || r == ResultDrop
}

// precedence orders the verdicts of concurrent filters. REJECT and DROP
// share the highest precedence.
func (r Result) precedence() int {
	switch r {
	case ResultReject, ResultDrop:
		return 3
	case ResultReplace:
		return 2
	case ResultForward:
		return 1
	default:
		return 0
	}
}

// Verdict is what a filter returns for a request. A nil verdict counts as
// NEXT.
type Verdict struct {
	Result Result

	// Replacement is the request forwarded instead of the original. Only
	// used with REPLACE.
	Replacement appmessage.Request

	// Response is sent back for REJECT and DROP. When it is nil the
	// action's filtered response is synthesized.
	Response appmessage.Response

	RejectMessage string
	RejectDetails string
}

// Next defers the decision.
func Next() *Verdict {
	return &Verdict{Result: ResultNext}
}

// Forward forwards the original request.
func Forward() *Verdict {
	return &Verdict{Result: ResultForward}
}

// Replace forwards replacement instead of the original request.
func Replace(replacement appmessage.Request) *Verdict {
	return &Verdict{Result: ResultReplace, Replacement: replacement}
}

// Reject answers the request locally with a filtered response.
func Reject(message, details string) *Verdict {
	return &Verdict{Result: ResultReject, RejectMessage: message, RejectDetails: details}
}

// RejectWith answers the request locally with response.
func RejectWith(response appmessage.Response, message string) *Verdict {
	return &Verdict{Result: ResultReject, Response: response, RejectMessage: message}
}

// Drop discards the request.
func Drop(message string) *Verdict {
	return &Verdict{Result: ResultDrop, RejectMessage: message}
}

func (v *Verdict) String() string {
	if v == nil {
		return ResultNext.String()
	}
	if v.RejectMessage == "" {
		return v.Result.String()
	}
	return fmt.Sprintf("%s (%s)", v.Result, v.RejectMessage)
}
