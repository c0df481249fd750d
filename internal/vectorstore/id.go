package vectorstore

import (
	"fmt"
	"strconv"
	"strings"
)

func formatID(userID, paperID int64) string {
	return fmt.Sprintf("user_%d_paper_%d", userID, paperID)
}

// parseID reverses formatID; ok is false for any id not in that shape
// (defensive against a backend returning a foreign id it merely passed
// through, e.g. Qdrant's original-id payload round trip).
func parseID(id string) (userID, paperID int64, ok bool) {
	rest, found := strings.CutPrefix(id, "user_")
	if !found {
		return 0, 0, false
	}
	parts := strings.SplitN(rest, "_paper_", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	u, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	p, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return u, p, true
}
