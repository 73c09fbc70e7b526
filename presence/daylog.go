package presence

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DayLog writes entries to "<Dir>/VC YYYY.MM.DD.log", switching files when
// the calendar day in Location changes. The switch happens lazily on the
// first Append of a new day; there is no timer.
type DayLog struct {
	Dir      string
	Location *time.Location
	// MaxSizeMB caps one day's file before lumberjack rolls it into a
	// timestamped backup. Backups are kept; day files already partition the log.
	MaxSizeMB int

	mu   sync.Mutex
	path string
	w    *lumberjack.Logger
}

// NewDayLog returns a DayLog rooted at dir.
func NewDayLog(dir string, loc *time.Location, maxSizeMB int) *DayLog {
	if loc == nil {
		loc = time.UTC
	}
	return &DayLog{Dir: dir, Location: loc, MaxSizeMB: maxSizeMB}
}

// PathFor returns the file that holds entries written at t.
func (d *DayLog) PathFor(t time.Time) string {
	return filepath.Join(d.Dir, "VC "+t.In(d.loc()).Format("2006.01.02")+".log")
}

// Append writes one line for e, opening the day's file first if needed.
func (d *DayLog) Append(_ context.Context, e Entry) error {
	t := e.Time.In(d.loc())
	line := fmt.Sprintf("[%s] INFO %s %s了 %s\n", t.Format("2006-01-02 15:04:05"), e.Username, e.Direction.verb(), e.ChannelName)

	d.mu.Lock()
	defer d.mu.Unlock()
	if path := d.PathFor(t); path != d.path {
		if d.w == nil {
			// No MaxBackups or MaxAge: the mill goroutine never reads Filename,
			// so it can be swapped while the logger is closed.
			d.w = &lumberjack.Logger{MaxSize: d.MaxSizeMB, LocalTime: true}
		} else if err := d.w.Close(); err != nil {
			return fmt.Errorf("close %s: %w", d.path, err)
		}
		d.w.Filename = path
		d.path = path
	}
	if _, err := d.w.Write([]byte(line)); err != nil {
		return fmt.Errorf("write voice log: %w", err)
	}
	return nil
}

// Path is the file currently open, or "" before the first Append.
func (d *DayLog) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// Close releases the open file.
func (d *DayLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return nil
	}
	err := d.w.Close()
	d.path = ""
	return err
}

func (d *DayLog) loc() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}
