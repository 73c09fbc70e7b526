// Package admin holds the owner commands that act on the host or the guild:
// channel purge planning, the shell runner and the self-update sequence.
package admin

import (
	"fmt"
	"time"
)

const (
	MinPurge = 1
	MaxPurge = 50
	// BulkDeleteMaxAge is the oldest message Discord accepts in a bulk delete.
	BulkDeleteMaxAge = 14 * 24 * time.Hour
)

// ValidatePurgeCount rejects counts outside 1..50.
func ValidatePurgeCount(n int) error {
	if n < MinPurge || n > MaxPurge {
		return fmt.Errorf("purge count %d out of range %d-%d", n, MinPurge, MaxPurge)
	}
	return nil
}

// Message is the minimum needed to plan a purge.
type Message struct {
	ID        string
	Timestamp time.Time
}

// PurgePlan splits messages between one bulk delete and single deletes.
type PurgePlan struct {
	Bulk   []string
	Single []string
}

// Total is the number of messages the plan removes.
func (p PurgePlan) Total() int { return len(p.Bulk) + len(p.Single) }

// PlanPurge plans deletion of msgs as of now. Messages younger than
// BulkDeleteMaxAge (with a minute of slack) go to Bulk; the rest are
// deleted one at a time. A bulk delete needs at least two ids, so a lone
// young message is moved to Single.
func PlanPurge(msgs []Message, now time.Time) PurgePlan {
	cutoff := now.Add(-BulkDeleteMaxAge + time.Minute)
	var p PurgePlan
	for _, m := range msgs {
		if m.Timestamp.After(cutoff) {
			p.Bulk = append(p.Bulk, m.ID)
		} else {
			p.Single = append(p.Single, m.ID)
		}
	}
	if len(p.Bulk) == 1 {
		p.Single = append(p.Bulk, p.Single...)
		p.Bulk = nil
	}
	return p
}
