package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os/exec"
	"regexp"
	"strings"
)

// Failure is an observed failure: a worker's failure detail, its exit
// signal, and/or an error raised while running it.
type Failure struct {
	Detail   string
	ExitCode int // 0 when unknown
	Err      error
}

var (
	transientPattern = regexp.MustCompile(`(?i)\b(timeouts?|timed out|network|connection|unavailable|rate[ -]limit(ed)?|429|502|503|504|temporar(y|ily)|try again)\b`)
	blockingPattern  = regexp.MustCompile(`(?i)\b(permission|denied|auth\w*|unauthori[sz]ed|forbidden|not found|missing|401|403|404|no such file|dependency|dependencies|unmet)\b`)
)

// reported is the JSON shape a worker may use to classify its own failure.
type reported struct {
	Kind      *string `json:"kind"`
	ErrorKind *string `json:"error_kind"`
}

// Classify maps a failure to a Kind. Checks run in order: a JSON kind the
// worker reported, typed errors, exit codes, then textual patterns over the
// detail and error text. Anything unmatched is CRITICAL.
func Classify(f Failure) Kind {
	if kind, ok := classifyReported(f.Detail); ok {
		return kind
	}

	if f.Err != nil {
		switch {
		case errors.Is(f.Err, context.DeadlineExceeded):
			return KindTransient
		case errors.Is(f.Err, fs.ErrPermission),
			errors.Is(f.Err, fs.ErrNotExist),
			errors.Is(f.Err, exec.ErrNotFound):
			return KindBlocking
		}
	}

	switch f.ExitCode {
	case 124: // timeout(1)
		return KindTransient
	case 126, 127: // not executable, command not found
		return KindBlocking
	}

	text := f.Detail
	if f.Err != nil {
		text += "\n" + f.Err.Error()
	}
	return ClassifyText(text)
}

// ClassifyText applies only the textual patterns. Transient signatures win
// over blocking ones when both appear.
func ClassifyText(text string) Kind {
	switch {
	case transientPattern.MatchString(text):
		return KindTransient
	case blockingPattern.MatchString(text):
		return KindBlocking
	default:
		return KindCritical
	}
}

// classifyReported handles details that are exactly one JSON object. The
// object is untrusted: an unknown kind is CRITICAL. Anything else, including
// an object without a kind field or a JSON tail mixed with log lines, falls
// through to the other checks.
func classifyReported(detail string) (Kind, bool) {
	trimmed := strings.TrimSpace(detail)
	if !strings.HasPrefix(trimmed, "{") {
		return KindNone, false
	}

	var r reported
	if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
		return KindNone, false
	}
	raw := r.Kind
	if raw == nil {
		raw = r.ErrorKind
	}
	if raw == nil {
		return KindNone, false
	}
	kind, ok := ParseKind(*raw)
	if !ok {
		return KindCritical, true
	}
	return kind, true
}
