package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trial-hand/models"
)

func intPtr(v int) *int { return &v }

func TestDeduplicate_MergesMembership(t *testing.T) {
	studies := []*models.Study{
		{NCTID: "NCT00000001", Topics: []string{"Psilocybin"}, TopicCount: 1, Title: "First row"},
		{NCTID: "NCT00000002", Topics: []string{"Psilocybin"}, TopicCount: 1},
		{NCTID: "NCT00000001", Topics: []string{"MDMA"}, TopicCount: 1, Title: "Second row"},
	}

	out := Deduplicate(studies)

	require.Len(t, out, 2, "two distinct registry numbers should survive")

	merged := out[0]
	assert.Equal(t, "NCT00000001", merged.NCTID)
	assert.Equal(t, []string{"MDMA", "Psilocybin"}, merged.Topics, "membership is unioned and sorted")
	assert.Equal(t, 2, merged.TopicCount, "the count must follow the merged membership")
	assert.Equal(t, "First row", merged.Title, "all other fields come from the row seen first")

	assert.Equal(t, []string{"Psilocybin"}, studies[0].Topics, "input rows must not be mutated")
}

func TestDeduplicate_SameTopicTwice(t *testing.T) {
	studies := []*models.Study{
		{NCTID: "NCT00000001", Topics: []string{"Ketamine"}, TopicCount: 1},
		{NCTID: "NCT00000001", Topics: []string{"Ketamine"}, TopicCount: 1},
	}

	out := Deduplicate(studies)

	require.Len(t, out, 1)
	assert.Equal(t, []string{"Ketamine"}, out[0].Topics, "a repeated topic must not inflate the membership")
	assert.Equal(t, 1, out[0].TopicCount)
}

func TestDeduplicate_SortsByID(t *testing.T) {
	studies := []*models.Study{
		{NCTID: "NCT00000003", Topics: []string{"LSD"}},
		{NCTID: "NCT00000001", Topics: []string{"LSD"}},
		{NCTID: "NCT00000002", Topics: []string{"LSD"}},
	}

	out := Deduplicate(studies)

	require.Len(t, out, 3)
	assert.Equal(t, "NCT00000001", out[0].NCTID)
	assert.Equal(t, "NCT00000002", out[1].NCTID)
	assert.Equal(t, "NCT00000003", out[2].NCTID, "output order must be deterministic across runs")
}

func TestDeduplicate_Empty(t *testing.T) {
	assert.Empty(t, Deduplicate(nil))
}

func TestFilterWindow(t *testing.T) {
	studies := []*models.Study{
		{NCTID: "NCT00000001", StartYear: intPtr(2006)},
		{NCTID: "NCT00000002", StartYear: intPtr(2007)},
		{NCTID: "NCT00000003", StartYear: intPtr(2015)},
		{NCTID: "NCT00000004", StartYear: intPtr(2021)},
		{NCTID: "NCT00000005", StartYear: intPtr(2022)},
	}

	kept := FilterWindow(studies, 2007, 2021)

	require.Len(t, kept, 3, "both window boundaries are inclusive")
	assert.Equal(t, "NCT00000002", kept[0].NCTID)
	assert.Equal(t, "NCT00000003", kept[1].NCTID)
	assert.Equal(t, "NCT00000004", kept[2].NCTID)
}

func TestFilterWindow_KeepsUnknownStartYear(t *testing.T) {
	studies := []*models.Study{
		{NCTID: "NCT00000001", StartYear: nil},
		{NCTID: "NCT00000002", StartYear: intPtr(1999)},
	}

	kept := FilterWindow(studies, 2007, 2021)

	require.Len(t, kept, 1, "rows without a parseable start date stay in the corpus")
	assert.Equal(t, "NCT00000001", kept[0].NCTID)
}
