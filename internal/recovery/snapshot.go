// Package recovery implements the last-resort paths: nuclear permission
// repair, snapshot restore and emergency account provisioning.
package recovery

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot captures the pre-repair state verbatim. RoleTable and
// OperatorCaps hold the raw stored bytes, unparsed, so a restore brings
// back exactly what was there, corrupted or not.
type Snapshot struct {
	ID           string          `json:"id"`
	RoleTable    json.RawMessage `json:"role_table"`
	OperatorCaps json.RawMessage `json:"operator_caps"`
	OperatorID   int64           `json:"operator_id"`
	CreatedAt    time.Time       `json:"created_at"`
}

func snapshotID(at time.Time) string {
	return fmt.Sprintf("backup_%d", at.UnixNano())
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("recovery: decode snapshot: %w", err)
	}
	return s, nil
}
