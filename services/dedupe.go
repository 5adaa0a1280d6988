package services

import (
	"sort"

	"trial-hand/models"
)

// Deduplicate fasst Studien mit derselben NCT-Nummer zu genau einer Zeile
// zusammen. Die Topic-Zugehörigkeit wird über alle Duplikate vereinigt;
// alle übrigen Felder stammen von der zuerst gesehenen Zeile. Die Duplikate
// beschreiben dieselbe Studie und sollten feldidentisch sein — falls nicht,
// gewinnt bewusst die erste Zeile, Feldwerte werden nicht vermischt.
// Das Ergebnis ist nach NCT-Nummer sortiert, damit wiederholte Läufe über
// identischen Eingaben identische Ausgaben erzeugen.
func Deduplicate(studies []*models.Study) []*models.Study {
	byID := make(map[string]*models.Study, len(studies))
	for _, s := range studies {
		existing, ok := byID[s.NCTID]
		if !ok {
			merged := *s
			merged.Topics = append([]string(nil), s.Topics...)
			byID[s.NCTID] = &merged
			continue
		}
		existing.Topics = append(existing.Topics, s.Topics...)
	}

	out := make([]*models.Study, 0, len(byID))
	for _, s := range byID {
		s.Topics = sortedUnique(s.Topics)
		s.TopicCount = len(s.Topics)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NCTID < out[j].NCTID })
	return out
}

// FilterWindow entfernt Studien, deren Startjahr außerhalb des
// Erhebungsfensters [fromYear, toYear] liegt. Studien ohne parsebares
// Startdatum bleiben erhalten; die Jahresgrenzen sind beide inklusiv.
func FilterWindow(studies []*models.Study, fromYear, toYear int) []*models.Study {
	kept := make([]*models.Study, 0, len(studies))
	for _, s := range studies {
		if s.StartYear != nil && (*s.StartYear < fromYear || *s.StartYear > toYear) {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// sortedUnique sortiert eine Stringliste und entfernt Duplikate.
func sortedUnique(values []string) []string {
	if len(values) == 0 {
		return values
	}
	sort.Strings(values)
	out := values[:1]
	for _, v := range values[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
