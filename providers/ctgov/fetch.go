package ctgov

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trial-hand/config"
	"trial-hand/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// countFieldList ist die minimale Projektion für die Trefferzahl-Abfrage; die
// Registry weist Anfragen ganz ohne Felder zurück.
var countFieldList = []string{"NCTId"}

// Fetcher ist eine Struktur, die die Logik zur Interaktion mit der
// Study-Fields-API kapselt. Alle Anfragen eines Fetchers laufen durch
// denselben Limiter: die erste geht sofort raus, vor jeder weiteren wird
// die konfigurierte Zeit gewartet.
type Fetcher struct {
	Config  *config.Config
	Logger  *zap.Logger
	limiter *rate.Limiter
}

// NewFetcher erstellt eine neue Instanz des Registry-Fetchers.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config:  cfg,
		Logger:  logger,
		limiter: rate.NewLimiter(rate.Every(cfg.FetchDelay()), 1),
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "ctgov"
}

// CountStudies fragt die Gesamttrefferzahl für einen Suchausdruck ab, ohne
// Studiendaten zu übertragen.
func (f *Fetcher) CountStudies(ctx context.Context, expr string) (int, error) {
	envelope, err := f.getStudyFields(ctx, expr, countFieldList, RankRange{Min: 1, Max: 1})
	if err != nil {
		return 0, err
	}
	return envelope.StudyFieldsResponse.NStudiesFound, nil
}

// FetchAll holt die übergebenen Rangfenster strikt nacheinander und bildet
// jede gelieferte Studie auf ein StudyRecord für das Topic ab. Die
// Feldanzahl wird geprüft, bevor irgendeine Anfrage rausgeht; ein Fehler auf
// einer Seite bricht den gesamten Abruf ab.
func (f *Fetcher) FetchAll(ctx context.Context, topic, expr string, fields []string, ranges []RankRange) ([]*models.StudyRecord, error) {
	if len(fields) > maxFieldsPerRequest {
		return nil, fmt.Errorf("%d Felder angefragt, die Registry erlaubt höchstens %d pro Anfrage", len(fields), maxFieldsPerRequest)
	}

	log := f.Logger.With(zap.String("topic", topic))

	var records []*models.StudyRecord
	for i, rr := range ranges {
		envelope, err := f.getStudyFields(ctx, expr, fields, rr)
		if err != nil {
			return nil, err
		}

		page := envelope.StudyFieldsResponse.StudyFields
		for j := range page {
			records = append(records, mapStudyToRecord(topic, &page[j]))
		}

		log.Info("Seite abgerufen",
			zap.Int("page", i+1),
			zap.Int("pages_total", len(ranges)),
			zap.Int("min_rank", rr.Min),
			zap.Int("max_rank", rr.Max),
			zap.Int("records", len(page)),
			zap.Int("records_total", len(records)))
	}
	return records, nil
}

// getStudyFields führt genau eine Anfrage gegen den study_fields-Endpunkt aus.
func (f *Fetcher) getStudyFields(ctx context.Context, expr string, fields []string, rr RankRange) (*StudyFieldsEnvelope, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	requestURL := f.buildStudyFieldsURL(expr, fields, rr)
	f.Logger.Debug("Rufe study_fields-URL auf", zap.String("url", requestURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &RemoteServiceError{Endpoint: "study_fields", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		f.Logger.Error("study_fields hat nicht-200-Status zurückgegeben",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, &RemoteServiceError{Endpoint: "study_fields", StatusCode: resp.StatusCode}
	}

	var envelope StudyFieldsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		f.Logger.Error("Fehler beim Parsen der study_fields-JSON-Antwort", zap.Error(err))
		return nil, &RemoteServiceError{Endpoint: "study_fields", Err: err}
	}
	return &envelope, nil
}

// buildStudyFieldsURL baut die URL für eine study_fields-Anfrage.
func (f *Fetcher) buildStudyFieldsURL(expr string, fields []string, rr RankRange) string {
	return fmt.Sprintf("%s/study_fields?expr=%s&fields=%s&min_rnk=%d&max_rnk=%d&fmt=json",
		f.Config.CTGovBaseURL, url.QueryEscape(expr), url.QueryEscape(strings.Join(fields, ",")), rr.Min, rr.Max)
}
