package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"trial-hand/models"
)

const (
	// RawCacheFile hält eine Zeile pro Topic×Studien-Treffer, vor der Bereinigung.
	RawCacheFile = "raw_studies.csv"
	// CleanCacheFile hält eine Zeile pro eindeutiger NCT-Nummer, nach der Bereinigung.
	CleanCacheFile = "clean_studies.csv"

	// listSeparator trennt Mehrfachwerte innerhalb einer CSV-Zelle.
	listSeparator   = "|"
	cacheDateLayout = "2006-01-02"
)

var rawHeader = []string{
	"topic", "rank", "nct_id", "title", "summary", "conditions", "study_type",
	"phases", "gender", "minimum_age", "maximum_age", "lead_sponsor",
	"enrollment", "intervention_model", "primary_purpose", "interventions",
	"healthy_volunteers", "countries", "start_date", "completion_date",
	"why_stopped", "retraction_pmid",
}

var cleanHeader = []string{
	"nct_id", "topics", "topic_count", "title", "summary", "conditions",
	"study_type", "phases", "gender", "min_age_years", "max_age_years",
	"lead_sponsor", "enrollment", "intervention_model", "primary_purpose",
	"interventions", "healthy_volunteers", "countries", "start_date",
	"completion_date", "start_year", "why_stopped", "retraction_pmid",
}

// CacheStore persistiert Roh- und bereinigten Datensatz als flache
// CSV-Dateien, damit die teure Netzwerkphase höchstens einmal läuft.
// Schreibvorgänge ersetzen die Datei atomar über Tempdatei und Rename; ein
// Absturz mitten im Schreiben hinterlässt nie eine halb geschriebene, aber
// lesbare Cache-Datei. Fehlende oder unlesbare Dateien gelten schlicht als
// Cache-Miss und führen zur Neubeschaffung.
type CacheStore struct {
	Dir    string
	Logger *zap.Logger
}

// NewCacheStore erstellt einen CacheStore über dem angegebenen Verzeichnis.
func NewCacheStore(dir string, logger *zap.Logger) *CacheStore {
	return &CacheStore{Dir: dir, Logger: logger}
}

// RawPath ist der Pfad der Rohdaten-Cache-Datei.
func (c *CacheStore) RawPath() string {
	return filepath.Join(c.Dir, RawCacheFile)
}

// CleanPath ist der Pfad der bereinigten Cache-Datei.
func (c *CacheStore) CleanPath() string {
	return filepath.Join(c.Dir, CleanCacheFile)
}

// WriteRaw ersetzt den Rohdaten-Cache atomar durch die übergebenen Zeilen.
func (c *CacheStore) WriteRaw(records []*models.StudyRecord) error {
	return c.writeAtomic(c.RawPath(), func(w *csv.Writer) error {
		if err := w.Write(rawHeader); err != nil {
			return err
		}
		for _, r := range records {
			row := []string{
				r.Topic,
				strconv.Itoa(r.Rank),
				r.NCTID,
				r.Title,
				r.Summary,
				joinList(r.Conditions),
				r.StudyType,
				joinList(r.Phases),
				r.Gender,
				r.MinimumAgeRaw,
				r.MaximumAgeRaw,
				r.LeadSponsor,
				r.EnrollmentRaw,
				r.InterventionModel,
				r.PrimaryPurpose,
				joinList(r.Interventions),
				r.HealthyVolunteersRaw,
				joinList(r.Countries),
				r.StartDateRaw,
				r.CompletionDateRaw,
				r.WhyStopped,
				r.RetractionPMID,
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadRaw liest den Rohdaten-Cache. Das zweite Ergebnis meldet, ob ein
// brauchbarer Cache vorhanden war.
func (c *CacheStore) ReadRaw() ([]*models.StudyRecord, bool) {
	rows, ok := c.readRows(c.RawPath(), rawHeader)
	if !ok {
		return nil, false
	}

	records := make([]*models.StudyRecord, 0, len(rows))
	for _, row := range rows {
		rank, err := strconv.Atoi(row[1])
		if err != nil {
			c.Logger.Warn("Rohdaten-Cache enthält unlesbaren Rang, verwerfe Cache",
				zap.String("path", c.RawPath()), zap.String("rank", row[1]))
			return nil, false
		}
		records = append(records, &models.StudyRecord{
			Topic:                row[0],
			Rank:                 rank,
			NCTID:                row[2],
			Title:                row[3],
			Summary:              row[4],
			Conditions:           splitList(row[5]),
			StudyType:            row[6],
			Phases:               splitList(row[7]),
			Gender:               row[8],
			MinimumAgeRaw:        row[9],
			MaximumAgeRaw:        row[10],
			LeadSponsor:          row[11],
			EnrollmentRaw:        row[12],
			InterventionModel:    row[13],
			PrimaryPurpose:       row[14],
			Interventions:        splitList(row[15]),
			HealthyVolunteersRaw: row[16],
			Countries:            splitList(row[17]),
			StartDateRaw:         row[18],
			CompletionDateRaw:    row[19],
			WhyStopped:           row[20],
			RetractionPMID:       row[21],
		})
	}
	return records, true
}

// WriteClean ersetzt den bereinigten Cache atomar durch die übergebenen Studien.
func (c *CacheStore) WriteClean(studies []*models.Study) error {
	return c.writeAtomic(c.CleanPath(), func(w *csv.Writer) error {
		if err := w.Write(cleanHeader); err != nil {
			return err
		}
		for _, s := range studies {
			row := []string{
				s.NCTID,
				joinList(s.Topics),
				strconv.Itoa(s.TopicCount),
				s.Title,
				s.Summary,
				joinList(s.Conditions),
				s.StudyType,
				joinList(s.Phases),
				s.Gender,
				formatFloatPtr(s.MinAgeYears),
				formatFloatPtr(s.MaxAgeYears),
				s.LeadSponsor,
				formatIntPtr(s.Enrollment),
				s.InterventionModel,
				s.PrimaryPurpose,
				joinList(s.Interventions),
				formatBoolPtr(s.HealthyVolunteers),
				joinList(s.Countries),
				formatDatePtr(s.StartDate),
				formatDatePtr(s.CompletionDate),
				formatIntPtr(s.StartYear),
				s.WhyStopped,
				s.RetractionPMID,
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadClean liest den bereinigten Cache. Das zweite Ergebnis meldet, ob ein
// brauchbarer Cache vorhanden war; seine Anwesenheit erspart der Pipeline
// Abruf und Bereinigung komplett.
func (c *CacheStore) ReadClean() ([]*models.Study, bool) {
	rows, ok := c.readRows(c.CleanPath(), cleanHeader)
	if !ok {
		return nil, false
	}

	studies := make([]*models.Study, 0, len(rows))
	for _, row := range rows {
		topicCount, err := strconv.Atoi(row[2])
		if err != nil {
			c.Logger.Warn("Bereinigter Cache enthält unlesbare Topic-Anzahl, verwerfe Cache",
				zap.String("path", c.CleanPath()), zap.String("topic_count", row[2]))
			return nil, false
		}
		minAge, err1 := parseFloatPtr(row[9])
		maxAge, err2 := parseFloatPtr(row[10])
		enrollment, err3 := parseIntPtr(row[12])
		healthy, err4 := parseBoolPtr(row[16])
		startDate, err5 := parseDatePtr(row[18])
		completionDate, err6 := parseDatePtr(row[19])
		startYear, err7 := parseIntPtr(row[20])
		for _, err := range []error{err1, err2, err3, err4, err5, err6, err7} {
			if err != nil {
				c.Logger.Warn("Bereinigter Cache enthält unlesbare Zelle, verwerfe Cache",
					zap.String("path", c.CleanPath()), zap.Error(err))
				return nil, false
			}
		}

		studies = append(studies, &models.Study{
			NCTID:             row[0],
			Topics:            splitList(row[1]),
			TopicCount:        topicCount,
			Title:             row[3],
			Summary:           row[4],
			Conditions:        splitList(row[5]),
			StudyType:         row[6],
			Phases:            splitList(row[7]),
			Gender:            row[8],
			MinAgeYears:       minAge,
			MaxAgeYears:       maxAge,
			LeadSponsor:       row[11],
			Enrollment:        enrollment,
			InterventionModel: row[13],
			PrimaryPurpose:    row[14],
			Interventions:     splitList(row[15]),
			HealthyVolunteers: healthy,
			Countries:         splitList(row[17]),
			StartDate:         startDate,
			CompletionDate:    completionDate,
			StartYear:         startYear,
			WhyStopped:        row[21],
			RetractionPMID:    row[22],
		})
	}
	return studies, true
}

// writeAtomic schreibt über eine Tempdatei im selben Verzeichnis und macht
// das Ergebnis per Rename sichtbar.
func (c *CacheStore) writeAtomic(path string, write func(w *csv.Writer) error) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("cache-verzeichnis anlegen: %w", err)
	}

	tmp, err := os.CreateTemp(c.Dir, ".cache-*")
	if err != nil {
		return fmt.Errorf("tempdatei anlegen: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := write(w); err != nil {
		tmp.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("cache-datei ersetzen: %w", err)
	}
	c.Logger.Debug("Cache-Datei geschrieben", zap.String("path", path))
	return nil
}

// readRows liest eine Cache-Datei ein und validiert die Kopfzeile. Jede Form
// von Unlesbarkeit ist ein Cache-Miss, kein Fehler.
func (c *CacheStore) readRows(path string, header []string) ([][]string, bool) {
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.Logger.Warn("Cache-Datei nicht lesbar", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		c.Logger.Warn("Cache-Datei nicht parsebar, verwerfe Cache", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	if len(rows) == 0 || !equalHeader(rows[0], header) {
		c.Logger.Warn("Cache-Datei hat unerwartete Kopfzeile, verwerfe Cache", zap.String("path", path))
		return nil, false
	}
	return rows[1:], true
}

func equalHeader(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func joinList(values []string) string {
	return strings.Join(values, listSeparator)
}

func splitList(cell string) []string {
	if cell == "" {
		return nil
	}
	return strings.Split(cell, listSeparator)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseFloatPtr(cell string) (*float64, error) {
	if cell == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func parseIntPtr(cell string) (*int, error) {
	if cell == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(cell)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatBoolPtr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func parseBoolPtr(cell string) (*bool, error) {
	if cell == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(cell)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatDatePtr(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.Format(cacheDateLayout)
}

func parseDatePtr(cell string) (*time.Time, error) {
	if cell == "" {
		return nil, nil
	}
	t, err := time.Parse(cacheDateLayout, cell)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
