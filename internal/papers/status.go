package papers

import (
	"fmt"
	"strconv"
	"strings"
)

// processingPrefix is the body-prefix encoding spec.md §3/§4.4.2 uses to mark
// a summary row as an in-flight placeholder at a given generation epoch.
const processingPrefix = "[PROCESSING_"

// ProcessingBody renders the placeholder body for epoch n.
func ProcessingBody(n int) string {
	return fmt.Sprintf("%s%d] generating summary…", processingPrefix, n)
}

// ParseProcessing extracts n from a body matching `[PROCESSING_n] ...`. ok is
// false for any other body, including READY bodies and the empty string.
func ParseProcessing(body string) (n int, ok bool) {
	if !strings.HasPrefix(body, processingPrefix) {
		return 0, false
	}
	rest := body[len(processingPrefix):]
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(rest[:end]))
	if err != nil {
		return 0, false
	}
	return v, true
}

// IsReady reports whether body holds real generated content rather than a
// processing placeholder or an absent row.
func IsReady(body string) bool {
	if body == "" {
		return false
	}
	_, processing := ParseProcessing(body)
	return !processing
}

// SafeEscalationNumber computes the epoch a waiter should insert when it
// discovers the owner's row has disappeared entirely (spec.md §4.4.4): a
// large bump over the last-seen n makes collision with a reviving owner
// statistically impossible.
func SafeEscalationNumber(lastSeenN int) int {
	n := lastSeenN + 100
	if n < 101 {
		n = 101
	}
	return n
}
