package panel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// BackendError reports a failed panel call: transport failure, non-2xx status
// or a payload that could not be used.
type BackendError struct {
	Op     string
	Status int // 0 when no response was received
	Body   string
	Err    error
}

func (e *BackendError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("panel %s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("panel %s: status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("panel %s: %v", e.Op, e.Err)
	}
}

func (e *BackendError) Unwrap() error { return e.Err }

// MemberID is the panel's primary key for a member. The API may encode it as a
// JSON number or string; it is kept as text and re-encoded in the original shape.
type MemberID string

// UnmarshalJSON accepts both `12` and `"12"`.
func (id *MemberID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = MemberID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("member id: %w", err)
	}
	*id = MemberID(n.String())
	return nil
}

// MarshalJSON emits integer ids as numbers and anything else as a string.
func (id MemberID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}
