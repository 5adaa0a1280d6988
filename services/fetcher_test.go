package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trial-hand/config"
	"trial-hand/models"
	"trial-hand/providers/ctgov"
)

// registryStudy builds a study in the field projection of the registry.
func registryStudy(nctID, title, sponsor, startDate string, conditions ...string) ctgov.StudyFields {
	return ctgov.StudyFields{
		NCTID:             []string{nctID},
		BriefTitle:        []string{title},
		Condition:         conditions,
		StudyType:         []string{"Interventional"},
		Gender:            []string{"All"},
		MinimumAge:        []string{"18 Years"},
		LeadSponsorName:   []string{sponsor},
		EnrollmentCount:   []string{"40"},
		HealthyVolunteers: []string{"No"},
		LocationCountry:   []string{"United States"},
		StartDate:         []string{startDate},
	}
}

// newRegistryServer serves rank-windowed pages from fixed per-topic datasets.
// The dataset is picked by keyword match against the search expression, the
// same way the real registry would evaluate the topic's search terms.
func newRegistryServer(datasets map[string][]ctgov.StudyFields, requests *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		q := r.URL.Query()
		expr := strings.ToLower(q.Get("expr"))

		var studies []ctgov.StudyFields
		for keyword, set := range datasets {
			if strings.Contains(expr, keyword) {
				studies = set
				break
			}
		}

		minRank, _ := strconv.Atoi(q.Get("min_rnk"))
		maxRank, _ := strconv.Atoi(q.Get("max_rnk"))

		resp := ctgov.StudyFieldsResponse{NStudiesFound: len(studies)}
		if minRank >= 1 && minRank <= len(studies) {
			if maxRank > len(studies) {
				maxRank = len(studies)
			}
			window := studies[minRank-1 : maxRank]
			page := make([]ctgov.StudyFields, len(window))
			for i, s := range window {
				s.Rank = minRank + i
				page[i] = s
			}
			resp.StudyFields = page
		}
		resp.NStudiesReturned = len(resp.StudyFields)
		_ = json.NewEncoder(w).Encode(ctgov.StudyFieldsEnvelope{StudyFieldsResponse: resp})
	}))
}

// newRunService wires a FetchService against the test server, without DB and
// S3 sinks. The page size of 2 forces pagination even for tiny datasets.
func newRunService(baseURL, dataDir string) *FetchService {
	cfg := &config.Config{
		CTGovBaseURL:           baseURL,
		CTGovPageSize:          2,
		CTGovFetchDelaySeconds: 0,
		WindowFromYear:         2007,
		WindowToYear:           2021,
		DataDir:                dataDir,
	}
	tables := config.StaticTables{
		Topics: []config.TopicConfig{
			{Name: "Psilocybin", SearchTerms: "psilocybin"},
			{Name: "MDMA", SearchTerms: "MDMA"},
			{Name: "Ketamine", SearchTerms: "ketamine"},
		},
		SponsorAliases:   config.DefaultTables().SponsorAliases,
		ConditionAliases: config.DefaultTables().ConditionAliases,
	}
	return NewFetchService(cfg, tables, nil, nil, zap.NewNop())
}

// overlappingDatasets models three topics whose result sets share studies:
// NCT00000001 is found by Psilocybin and MDMA, NCT00000003 by MDMA and
// Ketamine. 7 raw rows collapse to 5 unique studies.
func overlappingDatasets() map[string][]ctgov.StudyFields {
	return map[string][]ctgov.StudyFields{
		"psilocybin": {
			registryStudy("NCT00000001", "Psilocybin With MDMA Pretreatment", "COMPASS Pathfinder Ltd", "June 2018", "Major Depressive Disorder"),
			registryStudy("NCT00000002", "Psilocybin Dose Finding", "University of Basel", "March 3, 2015", "Healthy"),
			registryStudy("NCT00000005", "Psilocybin for Cluster Headache", "Yale School of Medicine", "2019", "Cluster Headache"),
		},
		"mdma": {
			registryStudy("NCT00000001", "Psilocybin With MDMA Pretreatment", "COMPASS Pathfinder Ltd", "June 2018", "Major Depressive Disorder"),
			registryStudy("NCT00000003", "MDMA-Assisted Therapy", "MAPS Public Benefit Corporation", "August 2017", "Posttraumatic Stress Disorder"),
		},
		"ketamine": {
			registryStudy("NCT00000003", "MDMA-Assisted Therapy", "MAPS Public Benefit Corporation", "August 2017", "Posttraumatic Stress Disorder"),
			registryStudy("NCT00000004", "Ketamine Versus Placebo", "Janssen Research and Development", "October 2014", "Treatment Resistant Depression"),
		},
	}
}

func findStudy(t *testing.T, studies []*models.Study, nctID string) *models.Study {
	t.Helper()
	for _, s := range studies {
		if s.NCTID == nctID {
			return s
		}
	}
	t.Fatalf("study %s not found", nctID)
	return nil
}

func TestFetchService_Run_EndToEnd(t *testing.T) {
	var requests atomic.Int32
	srv := newRegistryServer(overlappingDatasets(), &requests)
	defer srv.Close()

	svc := newRunService(srv.URL, t.TempDir())

	result, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.False(t, result.FromCache)
	assert.Equal(t, 7, result.RawRows, "three topics with overlap yield 7 raw rows")
	assert.Equal(t, 5, result.Studies, "7 raw rows collapse to 5 unique registry numbers")
	assert.Equal(t, map[string]int{"Psilocybin": 3, "MDMA": 2, "Ketamine": 2}, result.TopicCounts)
	assert.Equal(t, 0, result.NewInMirror, "without a database there is nothing to mirror")

	// 3 count probes plus 2+1+1 data pages at page size 2.
	assert.Equal(t, int32(7), requests.Load())

	studies, ok := svc.Cache.ReadClean()
	require.True(t, ok, "the clean cache must exist after a successful run")
	require.Len(t, studies, 5)

	shared := findStudy(t, studies, "NCT00000001")
	assert.Equal(t, []string{"MDMA", "Psilocybin"}, shared.Topics, "membership is unioned across topics")
	assert.Equal(t, 2, shared.TopicCount)
	assert.Equal(t, "COMPASS Pathways", shared.LeadSponsor, "sponsor aliasing runs inside the pipeline")
	assert.Equal(t, []string{"Depression"}, shared.Conditions, "condition aliasing runs inside the pipeline")

	assert.Equal(t, 2, findStudy(t, studies, "NCT00000003").TopicCount)
	assert.Equal(t, 1, findStudy(t, studies, "NCT00000002").TopicCount)

	// Membership is conserved: summing topic_count over the clean dataset
	// must give back the raw row count.
	membershipTotal := 0
	for _, s := range studies {
		membershipTotal += s.TopicCount
	}
	assert.Equal(t, result.RawRows, membershipTotal)

	// The output is sorted by registry number for deterministic reruns.
	for i := 1; i < len(studies); i++ {
		assert.Less(t, studies[i-1].NCTID, studies[i].NCTID)
	}
}

func TestFetchService_Run_CleanCacheShortCircuits(t *testing.T) {
	var requests atomic.Int32
	srv := newRegistryServer(overlappingDatasets(), &requests)
	defer srv.Close()

	svc := newRunService(srv.URL, t.TempDir())

	first, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(7), requests.Load())

	cleanBefore, err := os.ReadFile(svc.Cache.CleanPath())
	require.NoError(t, err)

	second, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, int32(7), requests.Load(), "a cached run must not touch the registry at all")
	assert.Equal(t, first.Studies, second.Studies)
	assert.Equal(t, first.RawRows, second.RawRows, "raw rows are reconstructed from the merged membership")
	assert.Equal(t, first.TopicCounts, second.TopicCounts)

	cleanAfter, err := os.ReadFile(svc.Cache.CleanPath())
	require.NoError(t, err)
	assert.Equal(t, cleanBefore, cleanAfter, "a cached run leaves the clean file untouched")
}

func TestFetchService_Run_RawCacheSkipsNetwork(t *testing.T) {
	var requests atomic.Int32
	srv := newRegistryServer(overlappingDatasets(), &requests)
	defer srv.Close()

	svc := newRunService(srv.URL, t.TempDir())

	_, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(7), requests.Load())

	cleanBefore, err := os.ReadFile(svc.Cache.CleanPath())
	require.NoError(t, err)

	// Drop only the clean file; the raw cache stays.
	require.NoError(t, os.Remove(svc.Cache.CleanPath()))

	result, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.False(t, result.FromCache)
	assert.Equal(t, int32(7), requests.Load(), "cleaning can be redone from the raw cache without refetching")
	assert.Equal(t, 5, result.Studies)

	cleanAfter, err := os.ReadFile(svc.Cache.CleanPath())
	require.NoError(t, err)
	assert.Equal(t, cleanBefore, cleanAfter, "re-cleaning identical raw data reproduces the file byte for byte")
}

func TestFetchService_Run_ForceIgnoresCaches(t *testing.T) {
	var requests atomic.Int32
	srv := newRegistryServer(overlappingDatasets(), &requests)
	defer srv.Close()

	svc := newRunService(srv.URL, t.TempDir())

	_, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(7), requests.Load())

	result, err := svc.Run(context.Background(), RunOptions{Force: true})
	require.NoError(t, err)

	assert.False(t, result.FromCache)
	assert.Equal(t, int32(14), requests.Load(), "force refetches everything despite both caches")
	assert.Equal(t, 5, result.Studies)
}

func TestFetchService_Run_RegistryFailureLeavesNoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := newRunService(srv.URL, t.TempDir())

	_, err := svc.Run(context.Background(), RunOptions{})
	require.Error(t, err)

	var remoteErr *ctgov.RemoteServiceError
	assert.ErrorAs(t, err, &remoteErr, "registry failures keep their type through the wrapping")
	assert.ErrorContains(t, err, "Psilocybin", "the failing topic is named in the error")

	_, statErr := os.Stat(svc.Cache.RawPath())
	assert.True(t, os.IsNotExist(statErr), "a failed acquisition must not leave a raw cache behind")
	_, statErr = os.Stat(svc.Cache.CleanPath())
	assert.True(t, os.IsNotExist(statErr), "a failed acquisition must not leave a clean cache behind")
}

func TestFetchService_Run_GoldenCleanDataset(t *testing.T) {
	var requests atomic.Int32
	srv := newRegistryServer(overlappingDatasets(), &requests)
	defer srv.Close()

	svc := newRunService(srv.URL, t.TempDir())

	_, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// The clean file is the contract with downstream chart generators;
	// pin its exact bytes for the frozen registry fixture.
	data, err := os.ReadFile(svc.Cache.CleanPath())
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "clean_dataset", data)
}

func TestFetchService_Run_AppliesObservationWindow(t *testing.T) {
	var requests atomic.Int32
	datasets := map[string][]ctgov.StudyFields{
		"psilocybin": {
			registryStudy("NCT00000001", "Too Early", "University of Basel", "May 2006", "Depression"),
			registryStudy("NCT00000002", "In Window", "University of Basel", "June 2018", "Depression"),
			registryStudy("NCT00000003", "Undated", "University of Basel", "", "Depression"),
		},
	}
	srv := newRegistryServer(datasets, &requests)
	defer srv.Close()

	svc := newRunService(srv.URL, t.TempDir())
	svc.Tables.Topics = svc.Tables.Topics[:1]

	result, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.RawRows)
	assert.Equal(t, 2, result.Studies, "out-of-window studies are dropped, undated ones kept")

	studies, ok := svc.Cache.ReadClean()
	require.True(t, ok)
	require.Len(t, studies, 2)
	assert.Equal(t, "NCT00000002", studies[0].NCTID)
	assert.Equal(t, "NCT00000003", studies[1].NCTID)
	assert.Nil(t, studies[1].StartYear)
}
