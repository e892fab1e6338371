package models

import "time"

// Extraction sources.
const (
	SourceAPI   = "api"
	SourceInbox = "inbox"
	SourceCTe   = "cte"
)

// Extraction records one pipeline run over an uploaded or watched receipt
// image. Failed runs are kept (with reason) so operators can review which
// photographs the extractor could not handle.
type Extraction struct {
	ID         uint `gorm:"primaryKey"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	UserID     *uint  `gorm:"index"` // nil for anonymous/inbox extractions
	FileName   string `gorm:"size:255;not null"`
	TotalCents int64  `gorm:"not null"` // extracted total in centavos; 0 when failed
	RawText    string `gorm:"size:1000"`
	Source     string `gorm:"size:16;index;not null"` // api | inbox | cte
	Failed     bool   `gorm:"default:false;index"`
	FailReason string `gorm:"size:255"`
}
