package monitoring

import (
	"time"

	"github.com/rs/xid"
)

// A ProgressBar tracks a number of commits counted from the moment it was
// created.
type ProgressBar struct {
	ID        string
	Name      string
	StartTime time.Time
	Total     uint64

	start uint64
}

func newProgressBar(name string, total, commits uint64) *ProgressBar {
	return &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
		start:     commits,
	}
}

type progressRsp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Total     uint64    `json:"total"`
	Finished  uint64    `json:"finished"`
}

func (b *ProgressBar) report(commits uint64) progressRsp {
	return progressRsp{
		ID:        b.ID,
		Name:      b.Name,
		StartTime: b.StartTime,
		Total:     b.Total,
		Finished:  min(commits-b.start, b.Total),
	}
}
