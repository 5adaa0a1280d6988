package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"trial-hand/config"
	"trial-hand/models"
)

var (
	// ageRegex erkennt Freitext-Altersangaben der Registry, z.B. "18 Years",
	// "6 Months", "0 Minutes". Dezimalwerte kommen vor ("1.5 Years").
	ageRegex = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*(minutes?|hours?|days?|weeks?|months?|years?)\s*$`)
	// leadingIntRegex zieht den führenden Zahlen-Token aus Freitext,
	// z.B. "120 participants" -> 120.
	leadingIntRegex = regexp.MustCompile(`^\s*([0-9]+)`)
)

// studyDateLayouts sind die Datumsformate, die die Registry liefert: volles
// Datum, Monat+Jahr (Tag fehlt bei älteren Einträgen) und nacktes Jahr.
var studyDateLayouts = []string{"January 2, 2006", "January 2006", "01/02/2006", "2006-01-02", "2006"}

// StudyNormalizer überführt rohe Registry-Zeilen in typisierte Studien.
// Jeder Parse-Schritt degradiert bei Fehlern zu einem fehlenden Wert;
// Normalize gibt niemals einen Fehler zurück, weil die Datenqualität der
// Registry naturgemäß uneben ist und Vollständigkeit des Korpus wichtiger
// ist als das Abweisen kaputter Zeilen.
type StudyNormalizer struct {
	logger           *zap.Logger
	sponsorAliases   []config.AliasRule
	conditionAliases []config.AliasRule
}

// NewStudyNormalizer erstellt einen Normalizer mit den Alias-Tabellen aus der
// statischen Konfiguration.
func NewStudyNormalizer(logger *zap.Logger, tables config.StaticTables) *StudyNormalizer {
	return &StudyNormalizer{
		logger:           logger,
		sponsorAliases:   tables.SponsorAliases,
		conditionAliases: tables.ConditionAliases,
	}
}

// Normalize wandelt eine rohe Registry-Zeile in einen bereinigten Datensatz
// um. Die Topic-Zugehörigkeit startet mit genau dem Topic der Zeile; die
// Zusammenführung über Topics hinweg passiert erst in der Deduplizierung.
func (n *StudyNormalizer) Normalize(rec *models.StudyRecord) *models.Study {
	study := &models.Study{
		NCTID:      rec.NCTID,
		Topics:     []string{rec.Topic},
		TopicCount: 1,

		Title:   rec.Title,
		Summary: rec.Summary,

		Conditions: n.canonicalConditions(rec.Conditions),
		StudyType:  rec.StudyType,
		Phases:     append([]string(nil), rec.Phases...),
		Gender:     rec.Gender,

		MinAgeYears: parseAgeYears(rec.MinimumAgeRaw),
		MaxAgeYears: parseAgeYears(rec.MaximumAgeRaw),

		LeadSponsor: applyAliases(rec.LeadSponsor, n.sponsorAliases),
		Enrollment:  parseEnrollment(rec.EnrollmentRaw),

		InterventionModel: rec.InterventionModel,
		PrimaryPurpose:    rec.PrimaryPurpose,
		Interventions:     append([]string(nil), rec.Interventions...),
		HealthyVolunteers: parseHealthyVolunteers(rec.HealthyVolunteersRaw),

		Countries: dedupeCountries(rec.Countries),

		StartDate:      parseStudyDate(rec.StartDateRaw),
		CompletionDate: parseStudyDate(rec.CompletionDateRaw),

		WhyStopped:     rec.WhyStopped,
		RetractionPMID: rec.RetractionPMID,
	}

	if study.StartDate != nil {
		year := study.StartDate.Year()
		study.StartYear = &year
	}
	return study
}

// canonicalConditions wendet die Alias-Tabelle auf jede Indikation an und
// entfernt Duplikate, die erst durch das Aliasing entstehen (z.B. "Depression"
// und "Major Depressive Disorder" auf derselben Studie).
func (n *StudyNormalizer) canonicalConditions(conditions []string) []string {
	canonical := make([]string, 0, len(conditions))
	for _, c := range conditions {
		canonical = append(canonical, applyAliases(c, n.conditionAliases))
	}
	return dedupeStrings(canonical)
}

// parseAgeYears wandelt eine Freitext-Altersangabe in Jahre um.
// Minuten, Stunden, Tage und Wochen kollabieren zu 0; Monate unter 12
// ebenfalls, ab 12 wird ganzzahlig durch 12 geteilt; Jahre werden unverändert
// übernommen. Alles andere ("N/A", leer, Unfug) ergibt nil — nie 0 und nie
// einen Fehler: 0 heißt "keine wirksame Untergrenze", nil heißt "unbekannt".
func parseAgeYears(raw string) *float64 {
	matches := ageRegex.FindStringSubmatch(raw)
	if matches == nil {
		return nil
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return nil
	}

	var years float64
	switch strings.ToLower(strings.TrimSuffix(matches[2], "s")) {
	case "minute", "hour", "day", "week":
		years = 0
	case "month":
		if value < 12 {
			years = 0
		} else {
			years = math.Floor(value / 12)
		}
	case "year":
		years = value
	default:
		return nil
	}
	return &years
}

// formatAgeYears formatiert einen abgeleiteten Alterswert zurück in die
// Registry-Schreibweise. parseAgeYears(formatAgeYears(v)) ergibt wieder v.
func formatAgeYears(years float64) string {
	return strconv.FormatFloat(years, 'f', -1, 64) + " Years"
}

// parseStudyDate versucht die bekannten Datumsformate der Reihe nach.
// Unlesbare oder fehlende Daten ergeben nil; die Zeile bleibt erhalten.
func parseStudyDate(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	for _, layout := range studyDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return &t
		}
	}
	return nil
}

// parseEnrollment extrahiert den führenden Zahlen-Token aus dem
// Teilnehmerfeld; ohne führende Zahl bleibt der Wert unbekannt.
func parseEnrollment(raw string) *int {
	matches := leadingIntRegex.FindStringSubmatch(raw)
	if matches == nil {
		return nil
	}
	value, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil
	}
	return &value
}

// parseHealthyVolunteers übersetzt das Ja/Nein-Feld der Registry.
func parseHealthyVolunteers(raw string) *bool {
	var accepts bool
	switch strings.TrimSpace(raw) {
	case "Accepts Healthy Volunteers", "Yes":
		accepts = true
	case "No":
		accepts = false
	default:
		return nil
	}
	return &accepts
}

// applyAliases prüft die Regeln einer Alias-Tabelle in Reihenfolge gegen den
// Wert (Substring-Match, case-insensitiv); die erste passende Regel gewinnt.
// Ohne Treffer bleibt der Wert unverändert. Unicode wird vorher auf NFC
// normalisiert, damit zusammengesetzte Umlaute dieselben Regeln treffen.
func applyAliases(value string, rules []config.AliasRule) string {
	canonical := canonicalText(value)
	lowered := strings.ToLower(canonical)
	for _, rule := range rules {
		if strings.Contains(lowered, strings.ToLower(rule.Match)) {
			return rule.Canonical
		}
	}
	return canonical
}

// canonicalText führt NFC-Normalisierung durch und trimmt Randwhitespace.
func canonicalText(s string) string {
	normalized, _, err := transform.String(transform.Chain(norm.NFC), s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(normalized)
}

// dedupeCountries entfernt doppelte Länder, wie sie durch mehrere Standorte
// im selben Land entstehen; die erste Nennung bestimmt die Reihenfolge.
func dedupeCountries(countries []string) []string {
	trimmed := make([]string, 0, len(countries))
	for _, c := range countries {
		if t := strings.TrimSpace(c); t != "" {
			trimmed = append(trimmed, t)
		}
	}
	return dedupeStrings(trimmed)
}

// dedupeStrings entfernt Duplikate und erhält die Reihenfolge des ersten
// Auftretens.
func dedupeStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
