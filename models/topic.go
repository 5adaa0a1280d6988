package models

// Topic repräsentiert eine therapeutische Fragestellung, nach der gesucht wird.
type Topic struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Name        string `json:"name" gorm:"uniqueIndex;not null"` // z.B. "Psilocybin"
	SearchTerms string `json:"search_terms" gorm:"type:text;not null"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Topic) TableName() string {
	return "topics"
}
