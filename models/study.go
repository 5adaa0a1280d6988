package models

import (
	"time"
)

// StudyRecord ist eine rohe Registry-Zeile: die 20-Feld-Projektion einer
// Studie, wie sie die Suche für genau ein Topic geliefert hat. Dieselbe
// NCT-Nummer kann über mehrere Topics hinweg mehrfach auftreten; innerhalb
// eines Topics ist sie eindeutig.
type StudyRecord struct {
	Topic string
	Rank  int

	NCTID                string
	Title                string
	Summary              string
	Conditions           []string
	StudyType            string
	Phases               []string
	Gender               string
	MinimumAgeRaw        string
	MaximumAgeRaw        string
	LeadSponsor          string
	EnrollmentRaw        string
	InterventionModel    string
	PrimaryPurpose       string
	Interventions        []string
	HealthyVolunteersRaw string
	Countries            []string
	StartDateRaw         string
	CompletionDateRaw    string
	WhyStopped           string
	RetractionPMID       string
}

// Study ist der bereinigte Datensatz: genau eine Zeile pro NCT-Nummer, mit
// typisierten Feldern und der Topic-Zugehörigkeit als sortierter Menge.
// Parse-Fehler führen nie zum Abbruch, sondern zu fehlenden Werten (nil).
type Study struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	NCTID string `json:"nct_id" gorm:"column:nct_id;uniqueIndex;not null"`

	Topics     []string `json:"topics" gorm:"serializer:json;type:jsonb"`
	TopicCount int      `json:"topic_count" gorm:"index"`

	Title   string `json:"title"`
	Summary string `json:"summary,omitempty" gorm:"type:text"`

	Conditions []string `json:"conditions" gorm:"serializer:json;type:jsonb"`
	StudyType  string   `json:"study_type,omitempty" gorm:"index"`
	Phases     []string `json:"phases" gorm:"serializer:json;type:jsonb"`
	Gender     string   `json:"gender,omitempty"`

	MinAgeYears *float64 `json:"min_age_years,omitempty"`
	MaxAgeYears *float64 `json:"max_age_years,omitempty"`

	LeadSponsor string `json:"lead_sponsor,omitempty" gorm:"index"`
	Enrollment  *int   `json:"enrollment,omitempty"`

	InterventionModel string   `json:"intervention_model,omitempty"`
	PrimaryPurpose    string   `json:"primary_purpose,omitempty"`
	Interventions     []string `json:"interventions" gorm:"serializer:json;type:jsonb"`
	HealthyVolunteers *bool    `json:"healthy_volunteers,omitempty"`

	Countries []string `json:"countries" gorm:"serializer:json;type:jsonb"`

	StartDate      *time.Time `json:"start_date,omitempty"`
	CompletionDate *time.Time `json:"completion_date,omitempty"`
	// StartYear ist das Jahr von StartDate, denormalisiert für das
	// Erhebungsfenster und die Abfrage-API.
	StartYear *int `json:"start_year,omitempty" gorm:"index"`

	WhyStopped     string `json:"why_stopped,omitempty" gorm:"type:text"`
	RetractionPMID string `json:"retraction_pmid,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Study) TableName() string {
	return "studies"
}
