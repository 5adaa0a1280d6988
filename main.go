package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"trial-hand/config"
	"trial-hand/models"
	"trial-hand/services"
	"trial-hand/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	newStudiesCounter prometheus.Counter
	cleanStudiesGauge prometheus.Gauge
)

func init() {
	newStudiesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "new_studies_added_total",
			Help: "Total number of new studies added to the database mirror.",
		},
	)
	cleanStudiesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clean_studies_total",
			Help: "Number of studies in the current cleaned dataset.",
		},
	)
	prometheus.MustRegister(newStudiesCounter, cleanStudiesGauge)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	tables, err := config.LoadTables(cfg.TopicsFile)
	if err != nil {
		logging.Fatal("Tabellen-Konfiguration fehlerhaft", zap.Error(err))
	}
	logging.Info("Statische Tabellen geladen",
		zap.Int("topics", len(tables.Topics)),
		zap.Int("sponsor_aliases", len(tables.SponsorAliases)),
		zap.Int("condition_aliases", len(tables.ConditionAliases)))

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to studies database.")

	// Auto-Migration
	if gin.Mode() == gin.DebugMode {
		logging.Info("Debug mode detected. Dropping tables for fresh start.")
		db.Migrator().DropTable(&models.Study{}, &models.Topic{}, &models.PipelineRun{})
	}
	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Topic{}, &models.Study{}, &models.PipelineRun{})

	// Seeding: die Topics-Tabelle spiegelt die statische Konfiguration.
	seedTopics(db, tables, logging)

	// Setup Services
	fetchService := services.NewFetchService(cfg, tables, db, newS3ClientIfConfigured(cfg, logging), logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupStudyRoutes(router, db, logging)
	setupTopicRoutes(router, db, logging)
	setupPipelineRoutes(router, fetchService, db, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled pipeline job...")
		result, err := fetchService.Run(context.Background(), services.RunOptions{Force: true})
		if err != nil {
			logging.Error("Cron job failed", zap.Error(err))
		} else {
			logging.Info("Cron job completed",
				zap.String("run_id", result.RunID),
				zap.Int("studies", result.Studies),
				zap.Int("new", result.NewInMirror))
			newStudiesCounter.Add(float64(result.NewInMirror))
			cleanStudiesGauge.Set(float64(result.Studies))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupStudyRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/studies")

	// Einfacher GET-Endpunkt, um alle Studien abzurufen (ohne Filter)
	rg.GET("/", func(c *gin.Context) {
		var studies []models.Study
		if err := db.Order("nct_id").Find(&studies).Error; err != nil {
			log.Error("Database query for all studies failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, studies)
	})

	// Body-gesteuerter Endpunkt für komplexe Abfragen
	rg.POST("/query", func(c *gin.Context) {
		type StudyQuery struct {
			Topic             string `json:"topic"`
			Sponsor           string `json:"sponsor"`
			Condition         string `json:"condition"`
			Country           string `json:"country"`
			Phase             string `json:"phase"`
			StudyType         string `json:"study_type"`
			StartYearFrom     *int   `json:"start_year_from"`
			StartYearTo       *int   `json:"start_year_to"`
			HealthyVolunteers *bool  `json:"healthy_volunteers"`
			MinTopicCount     int    `json:"min_topic_count"`
			Limit             int    `json:"limit"`
		}

		var req StudyQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := db.Model(&models.Study{})

		if req.Topic != "" {
			// jsonb-Containment über die exakten Topic-Namen
			member, _ := json.Marshal([]string{req.Topic})
			query = query.Where("topics @> ?", string(member))
		}
		if req.Sponsor != "" {
			query = query.Where("lead_sponsor ILIKE ?", "%"+req.Sponsor+"%")
		}
		if req.Condition != "" {
			query = query.Where("conditions::text ILIKE ?", "%"+req.Condition+"%")
		}
		if req.Country != "" {
			query = query.Where("countries::text ILIKE ?", "%"+req.Country+"%")
		}
		if req.Phase != "" {
			query = query.Where("phases::text ILIKE ?", "%"+req.Phase+"%")
		}
		if req.StudyType != "" {
			query = query.Where("study_type = ?", req.StudyType)
		}
		if req.StartYearFrom != nil {
			query = query.Where("start_year >= ?", *req.StartYearFrom)
		}
		if req.StartYearTo != nil {
			query = query.Where("start_year <= ?", *req.StartYearTo)
		}
		if req.HealthyVolunteers != nil {
			query = query.Where("healthy_volunteers = ?", *req.HealthyVolunteers)
		}
		if req.MinTopicCount > 0 {
			query = query.Where("topic_count >= ?", req.MinTopicCount)
		}
		if req.Limit > 0 {
			query = query.Limit(req.Limit)
		}

		var studies []models.Study
		if err := query.Order("nct_id").Find(&studies).Error; err != nil {
			log.Error("Database query for studies failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		c.JSON(http.StatusOK, studies)
	})

	// GET - einzelne Studie über die NCT-Nummer
	rg.GET("/:nctid", func(c *gin.Context) {
		nctID := c.Param("nctid")
		var study models.Study
		if err := db.Where("nct_id = ?", nctID).First(&study).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "study not found"})
				return
			}
			log.Error("DB error fetching study", zap.String("nct_id", nctID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, study)
	})
}

func setupTopicRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/topics")

	// Die Topics kommen aus der statischen Konfiguration und sind über die
	// API bewusst nur lesbar; geändert wird in der YAML-Datei.
	rg.GET("/", func(c *gin.Context) {
		var topics []models.Topic
		if err := db.Order("id").Find(&topics).Error; err != nil {
			log.Error("Database query for topics failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, topics)
	})
}

func setupPipelineRoutes(router *gin.Engine, fetchService *services.FetchService, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/pipeline")

	rg.POST("/run", func(c *gin.Context) {
		var req struct {
			Force bool `json:"force"`
		}
		// Leerer Body bedeutet: Cache respektieren.
		_ = c.ShouldBindJSON(&req)

		go func() {
			result, err := fetchService.Run(context.Background(), services.RunOptions{Force: req.Force})
			if err != nil {
				fetchService.Logger.Error("Async pipeline run failed", zap.Error(err))
				return
			}
			newStudiesCounter.Add(float64(result.NewInMirror))
			cleanStudiesGauge.Set(float64(result.Studies))
			fetchService.Logger.Info("Async pipeline run completed",
				zap.String("run_id", result.RunID),
				zap.Int("studies", result.Studies),
				zap.Bool("from_cache", result.FromCache))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Pipeline run triggered.", "force": req.Force})
	})

	rg.GET("/runs", func(c *gin.Context) {
		var runs []models.PipelineRun
		if err := db.Order("started_at desc").Limit(20).Find(&runs).Error; err != nil {
			log.Error("Database query for pipeline runs failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, runs)
	})
}

// newS3ClientIfConfigured erstellt den S3-Client, wenn Zugangsdaten
// konfiguriert sind; ohne Konfiguration bleiben die Snapshots einfach aus.
func newS3ClientIfConfigured(cfg *config.Config, logger *zap.Logger) *s3.Client {
	if !cfg.S3Enabled() {
		logger.Info("Kein S3 konfiguriert, Snapshots deaktiviert.")
		return nil
	}
	client, err := storage.NewS3Client(cfg)
	if err != nil {
		logger.Warn("S3 client creation failed", zap.Error(err))
		return nil
	}
	return client
}

// seedTopics hält die Topics-Tabelle synchron zur statischen Konfiguration.
func seedTopics(db *gorm.DB, tables config.StaticTables, logger *zap.Logger) {
	topics := make([]models.Topic, 0, len(tables.Topics))
	for _, t := range tables.Topics {
		topics = append(topics, models.Topic{Name: t.Name, SearchTerms: t.SearchTerms})
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"search_terms"}),
	}).Create(&topics).Error
	if err != nil {
		logger.Warn("Failed to seed topics", zap.Error(err))
	} else {
		logger.Info("Topics seeded.", zap.Int("count", len(topics)))
	}
}
