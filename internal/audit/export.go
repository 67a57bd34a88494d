package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warden-iam/warden/internal/rbac"
)

var csvHeader = []string{
	"created_at", "action", "actor_id", "actor_email", "actor_role",
	"target_id", "target_email", "target_role", "old_role", "new_role",
	"permissions", "reason", "detail", "ip", "user_agent", "request_id",
}

// WriteCSV menulis entri audit sebagai CSV.
func WriteCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, e := range entries {
		var targetID, targetEmail, targetRole string
		if e.Target != nil {
			targetID = strconv.FormatInt(e.Target.ID, 10)
			targetEmail = e.Target.Email
			targetRole = string(e.Target.Role)
		}
		record := []string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			string(e.Action),
			strconv.FormatInt(e.Actor.ID, 10),
			e.Actor.Email,
			string(e.Actor.Role),
			targetID,
			targetEmail,
			targetRole,
			string(e.OldRole),
			string(e.NewRole),
			strings.Join(rbac.PermissionStrings(e.Permissions), ";"),
			e.Reason,
			e.Detail,
			e.Request.IP,
			e.Request.UserAgent,
			e.Request.RequestID,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("audit: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
