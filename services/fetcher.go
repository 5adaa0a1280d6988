package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trial-hand/config"
	"trial-hand/models"
	"trial-hand/providers/ctgov"
	"trial-hand/storage"
)

// FetchService orchestriert den gesamten Erhebungslauf: Planung, Abruf,
// Normalisierung, Deduplizierung und Cache-Verwaltung. DB und S3Client sind
// optionale Senken für den fertigen Datensatz; die Pipeline selbst liest
// ausschließlich aus den flachen Cache-Dateien.
type FetchService struct {
	Config   *config.Config
	Tables   config.StaticTables
	DB       *gorm.DB
	S3Client *s3.Client
	Logger   *zap.Logger

	Fetcher    *ctgov.Fetcher
	Normalizer *StudyNormalizer
	Cache      *storage.CacheStore
}

// NewFetchService erstellt eine neue Instanz des FetchService. db und
// s3Client dürfen nil sein; dann entfallen Spiegelung bzw. Snapshots.
func NewFetchService(cfg *config.Config, tables config.StaticTables, db *gorm.DB, s3Client *s3.Client, logger *zap.Logger) *FetchService {
	return &FetchService{
		Config:     cfg,
		Tables:     tables,
		DB:         db,
		S3Client:   s3Client,
		Logger:     logger,
		Fetcher:    ctgov.NewFetcher(cfg, logger),
		Normalizer: NewStudyNormalizer(logger, tables),
		Cache:      storage.NewCacheStore(cfg.DataDir, logger),
	}
}

// RunOptions steuert einen einzelnen Pipeline-Lauf.
type RunOptions struct {
	// Force ignoriert beide Cache-Dateien und erzwingt eine frische Erhebung.
	Force bool
}

// RunResult fasst einen abgeschlossenen Lauf zusammen.
type RunResult struct {
	RunID       string
	RawRows     int
	Studies     int
	TopicCounts map[string]int
	NewInMirror int
	FromCache   bool
	Duration    time.Duration
}

// Run führt die Pipeline vollständig aus. Ein vorhandener bereinigter Cache
// erspart Abruf und Bereinigung; ein vorhandener Rohdaten-Cache erspart nur
// den Abruf. Schlägt die Erhebung fehl, wird kein Cache geschrieben und der
// nächste Lauf startet sauber.
func (f *FetchService) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	runID := uuid.NewString()
	log := f.Logger.With(zap.String("run_id", runID))
	started := time.Now()

	result := &RunResult{RunID: runID}

	// 1. Bereinigter Cache vorhanden -> kompletter Kurzschluss.
	if !opts.Force {
		if studies, ok := f.Cache.ReadClean(); ok {
			log.Info("Bereinigter Cache vorhanden, Erhebung und Bereinigung übersprungen",
				zap.String("path", f.Cache.CleanPath()), zap.Int("studies", len(studies)))
			result.FromCache = true
			result.Studies = len(studies)
			result.TopicCounts = membershipCounts(studies)
			result.RawRows = sumCounts(result.TopicCounts)
			f.deliver(ctx, log, started, result, studies)
			result.Duration = time.Since(started)
			return result, nil
		}
	}

	// 2. Rohdaten besorgen: aus dem Cache oder frisch von der Registry.
	var raw []*models.StudyRecord
	if !opts.Force {
		if cached, ok := f.Cache.ReadRaw(); ok {
			log.Info("Rohdaten-Cache vorhanden, Abruf übersprungen",
				zap.String("path", f.Cache.RawPath()), zap.Int("rows", len(cached)))
			raw = cached
		}
	}
	if raw == nil {
		acquired, err := f.acquire(ctx, log)
		if err != nil {
			return nil, err
		}
		if err := f.Cache.WriteRaw(acquired); err != nil {
			return nil, fmt.Errorf("rohdaten-cache schreiben: %w", err)
		}
		raw = acquired
	}
	result.RawRows = len(raw)
	result.TopicCounts = countByTopic(raw)

	// 3. Normalisieren, deduplizieren, Erhebungsfenster anwenden.
	cleaned := make([]*models.Study, 0, len(raw))
	for _, rec := range raw {
		cleaned = append(cleaned, f.Normalizer.Normalize(rec))
	}
	studies := Deduplicate(cleaned)
	studies = FilterWindow(studies, f.Config.WindowFromYear, f.Config.WindowToYear)
	log.Info("Datensatz bereinigt",
		zap.Int("raw_rows", len(raw)),
		zap.Int("unique_studies", len(studies)))

	if err := f.Cache.WriteClean(studies); err != nil {
		return nil, fmt.Errorf("bereinigten cache schreiben: %w", err)
	}
	result.Studies = len(studies)

	// 4. Fertigen Datensatz an die optionalen Senken ausliefern.
	f.deliver(ctx, log, started, result, studies)

	result.Duration = time.Since(started)
	log.Info("Pipeline-Lauf abgeschlossen",
		zap.Int("raw_rows", result.RawRows),
		zap.Int("studies", result.Studies),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// acquire holt alle Topics strikt nacheinander von der Registry. Jeder
// Fehler bricht den gesamten Abruf ab; Teilergebnisse werden nie gecacht.
func (f *FetchService) acquire(ctx context.Context, log *zap.Logger) ([]*models.StudyRecord, error) {
	var all []*models.StudyRecord
	for _, topic := range f.Tables.Topics {
		tlog := log.With(zap.String("topic", topic.Name))

		expr := BuildExpression(topic.SearchTerms, f.Config.WindowStart(), f.Config.WindowEnd())
		tlog.Info("Starte Erhebung für Topic", zap.String("expression", expr))

		total, err := f.Fetcher.CountStudies(ctx, expr)
		if err != nil {
			return nil, fmt.Errorf("trefferzahl für topic %q: %w", topic.Name, err)
		}

		ranges := PlanPages(total, f.Config.CTGovPageSize)
		tlog.Info("Seiten geplant", zap.Int("total_matches", total), zap.Int("pages", len(ranges)))

		records, err := f.Fetcher.FetchAll(ctx, topic.Name, expr, ctgov.StudyFieldList, ranges)
		if err != nil {
			return nil, fmt.Errorf("abruf für topic %q: %w", topic.Name, err)
		}

		tlog.Info("Erhebung für Topic abgeschlossen", zap.Int("records", len(records)))
		all = append(all, records...)
	}
	return all, nil
}

// deliver spiegelt den fertigen Datensatz in die optionalen Senken:
// Postgres-Spiegel, Laufprotokoll und S3-Snapshots. Fehler hier sind
// Auslieferungsprobleme, keine Pipeline-Fehler — die Cache-Dateien sind zu
// diesem Zeitpunkt bereits vollständig; es wird nur geloggt.
func (f *FetchService) deliver(ctx context.Context, log *zap.Logger, started time.Time, result *RunResult, studies []*models.Study) {
	if f.DB != nil {
		newCount, err := f.syncMirror(studies)
		if err != nil {
			log.Error("Spiegelung in die Datenbank fehlgeschlagen", zap.Error(err))
		} else {
			result.NewInMirror = newCount
			log.Info("Datenbank-Spiegel aktualisiert",
				zap.Int("studies", len(studies)), zap.Int("new", newCount))
		}
		if err := f.recordRun(started, result); err != nil {
			log.Error("Laufprotokoll konnte nicht geschrieben werden", zap.Error(err))
		}
	} else {
		log.Debug("Keine Datenbank konfiguriert, Spiegelung übersprungen")
	}

	if f.S3Client != nil && f.Config.S3Enabled() {
		f.uploadSnapshots(ctx, log, result.RunID)
	} else {
		log.Debug("Kein S3 konfiguriert, Snapshots übersprungen")
	}
}

// syncMirror schreibt alle Studien per Upsert in die Datenbank und meldet,
// wie viele NCT-Nummern dabei neu waren.
func (f *FetchService) syncMirror(studies []*models.Study) (int, error) {
	if len(studies) == 0 {
		return 0, nil
	}

	var before int64
	if err := f.DB.Model(&models.Study{}).Count(&before).Error; err != nil {
		return 0, err
	}

	err := f.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "nct_id"}},
		UpdateAll: true,
	}).CreateInBatches(studies, 200).Error
	if err != nil {
		return 0, err
	}

	var after int64
	if err := f.DB.Model(&models.Study{}).Count(&after).Error; err != nil {
		return 0, err
	}
	return int(after - before), nil
}

// recordRun legt eine Protokollzeile für den abgeschlossenen Lauf an.
func (f *FetchService) recordRun(started time.Time, result *RunResult) error {
	counts, err := json.Marshal(result.TopicCounts)
	if err != nil {
		return err
	}
	run := models.PipelineRun{
		RunID:        result.RunID,
		StartedAt:    started,
		FinishedAt:   time.Now(),
		RawRows:      result.RawRows,
		CleanStudies: result.Studies,
		FromCache:    result.FromCache,
		TopicCounts:  counts,
	}
	return f.DB.Create(&run).Error
}

// uploadSnapshots lädt beide Cache-Dateien gzip-komprimiert ins S3 hoch,
// unter einem datierten Prefix pro Lauf.
func (f *FetchService) uploadSnapshots(ctx context.Context, log *zap.Logger, runID string) {
	prefix := fmt.Sprintf("%s/%s-%s", f.Config.SnapshotPrefix, time.Now().UTC().Format("2006-01-02"), runID[:8])

	for _, path := range []string{f.Cache.RawPath(), f.Cache.CleanPath()} {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("Cache-Datei für Snapshot nicht lesbar", zap.String("path", path), zap.Error(err))
			continue
		}
		key := fmt.Sprintf("%s/%s.gz", prefix, filepath.Base(path))
		link, err := storage.UploadGzipped(ctx, f.S3Client, f.Config.StratoS3Bucket, key, data, f.Config)
		if err != nil {
			log.Error("Snapshot-Upload fehlgeschlagen", zap.String("key", key), zap.Error(err))
			continue
		}
		log.Info("Snapshot hochgeladen", zap.String("link", link))
	}
}

// countByTopic zählt die Rohzeilen pro Topic.
func countByTopic(records []*models.StudyRecord) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Topic]++
	}
	return counts
}

// membershipCounts zählt pro Topic, wie viele bereinigte Studien ihm
// zugeordnet sind. Da eine NCT-Nummer innerhalb eines Topics nur einmal
// vorkommt, entspricht das den Rohzeilen pro Topic.
func membershipCounts(studies []*models.Study) map[string]int {
	counts := make(map[string]int)
	for _, s := range studies {
		for _, topic := range s.Topics {
			counts[topic]++
		}
	}
	return counts
}

// sumCounts addiert die Werte einer Zähltabelle.
func sumCounts(counts map[string]int) int {
	total := 0
	for _, v := range counts {
		total += v
	}
	return total
}
