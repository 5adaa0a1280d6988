package services

import (
	"fmt"
	"time"

	"trial-hand/providers/ctgov"
)

// expressionDateLayout ist das Datumsformat der Registry-Suchsyntax.
const expressionDateLayout = "01/02/2006"

// BuildExpression kombiniert die Schlüsselwörter eines Topics mit dem
// Studientyp-Filter und dem Startdatum-Fenster zu einem Suchausdruck der
// Registry. Nur interventionelle Studien sind für die Erhebung relevant;
// Beobachtungsstudien und Registereinträge ohne Intervention fallen raus.
func BuildExpression(searchTerms string, from, to time.Time) string {
	return fmt.Sprintf("(%s) AND AREA[StudyType]Interventional AND AREA[StartDate]RANGE[%s, %s]",
		searchTerms, from.Format(expressionDateLayout), to.Format(expressionDateLayout))
}

// PlanPages zerlegt den inklusiven Rangbereich [1, total] in lückenlose,
// überlappungsfreie Fenster von höchstens pageSize Rängen. Bei total <= 0
// gibt es nichts zu holen und der Plan ist leer.
func PlanPages(total, pageSize int) []ctgov.RankRange {
	if total <= 0 || pageSize <= 0 {
		return nil
	}

	ranges := make([]ctgov.RankRange, 0, (total+pageSize-1)/pageSize)
	for min := 1; min <= total; min += pageSize {
		max := min + pageSize - 1
		if max > total {
			max = total
		}
		ranges = append(ranges, ctgov.RankRange{Min: min, Max: max})
	}
	return ranges
}
