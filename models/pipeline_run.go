package models

import (
	"time"

	"gorm.io/datatypes"
)

// PipelineRun protokolliert einen abgeschlossenen Erhebungslauf für die
// Abfrage-API. Fehlgeschlagene Läufe hinterlassen keine Zeile; sie brechen
// den Prozess ab, bevor irgendetwas geschrieben wird.
type PipelineRun struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	RunID      string    `json:"run_id" gorm:"uniqueIndex;size:64"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	RawRows      int  `json:"raw_rows"`
	CleanStudies int  `json:"clean_studies"`
	FromCache    bool `json:"from_cache"`

	// TopicCounts ist ein JSON-Objekt Topic-Name -> Zeilenzahl im Rohdatensatz.
	TopicCounts datatypes.JSON `json:"topic_counts" gorm:"type:jsonb"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (PipelineRun) TableName() string {
	return "pipeline_runs"
}
