// Package ctgov enthält die Logik für die Interaktion mit der
// Study-Fields-API von ClinicalTrials.gov.
package ctgov

import (
	"trial-hand/models"
)

// maxFieldsPerRequest ist das Limit der Registry für projizierte Felder.
const maxFieldsPerRequest = 20

// StudyFieldList ist die feste Feld-Projektion der Pipeline. Sie schöpft das
// Limit der Registry exakt aus; ein weiteres Feld würde jede Anfrage
// zurückweisen lassen.
var StudyFieldList = []string{
	"NCTId",
	"BriefTitle",
	"BriefSummary",
	"Condition",
	"StudyType",
	"Phase",
	"Gender",
	"MinimumAge",
	"MaximumAge",
	"LeadSponsorName",
	"EnrollmentCount",
	"DesignInterventionModel",
	"DesignPrimaryPurpose",
	"InterventionName",
	"HealthyVolunteers",
	"LocationCountry",
	"StartDate",
	"CompletionDate",
	"WhyStopped",
	"RetractionPMID",
}

// RankRange ist ein inklusives, 1-basiertes Rangfenster der Registry-Paginierung.
type RankRange struct {
	Min int
	Max int
}

// StudyFieldsEnvelope repräsentiert die JSON-Antwort des study_fields-Endpunkts.
type StudyFieldsEnvelope struct {
	StudyFieldsResponse StudyFieldsResponse `json:"StudyFieldsResponse"`
}

// StudyFieldsResponse ist der eigentliche Antwortrumpf mit Trefferzahl,
// Rangfenster und den projizierten Studien.
type StudyFieldsResponse struct {
	APIVrs           string        `json:"APIVrs"`
	DataVrs          string        `json:"DataVrs"`
	Expression       string        `json:"Expression"`
	NStudiesAvail    int           `json:"NStudiesAvail"`
	NStudiesFound    int           `json:"NStudiesFound"`
	MinRank          int           `json:"MinRank"`
	MaxRank          int           `json:"MaxRank"`
	NStudiesReturned int           `json:"NStudiesReturned"`
	FieldList        []string      `json:"FieldList"`
	StudyFields      []StudyFields `json:"StudyFields"`
}

// StudyFields ist eine einzelne Studie in der Feld-Projektion. Die Registry
// liefert auch einwertige Felder als Arrays; leere Felder kommen als leere
// Arrays.
type StudyFields struct {
	Rank                    int      `json:"Rank"`
	NCTID                   []string `json:"NCTId"`
	BriefTitle              []string `json:"BriefTitle"`
	BriefSummary            []string `json:"BriefSummary"`
	Condition               []string `json:"Condition"`
	StudyType               []string `json:"StudyType"`
	Phase                   []string `json:"Phase"`
	Gender                  []string `json:"Gender"`
	MinimumAge              []string `json:"MinimumAge"`
	MaximumAge              []string `json:"MaximumAge"`
	LeadSponsorName         []string `json:"LeadSponsorName"`
	EnrollmentCount         []string `json:"EnrollmentCount"`
	DesignInterventionModel []string `json:"DesignInterventionModel"`
	DesignPrimaryPurpose    []string `json:"DesignPrimaryPurpose"`
	InterventionName        []string `json:"InterventionName"`
	HealthyVolunteers       []string `json:"HealthyVolunteers"`
	LocationCountry         []string `json:"LocationCountry"`
	StartDate               []string `json:"StartDate"`
	CompletionDate          []string `json:"CompletionDate"`
	WhyStopped              []string `json:"WhyStopped"`
	RetractionPMID          []string `json:"RetractionPMID"`
}

// firstValue gibt den ersten Eintrag eines Projektionsfeldes zurück oder "".
func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// mapStudyToRecord wandelt eine Feld-Projektion in unser StudyRecord-Modell um.
func mapStudyToRecord(topic string, sf *StudyFields) *models.StudyRecord {
	return &models.StudyRecord{
		Topic: topic,
		Rank:  sf.Rank,

		NCTID:                firstValue(sf.NCTID),
		Title:                firstValue(sf.BriefTitle),
		Summary:              firstValue(sf.BriefSummary),
		Conditions:           append([]string(nil), sf.Condition...),
		StudyType:            firstValue(sf.StudyType),
		Phases:               append([]string(nil), sf.Phase...),
		Gender:               firstValue(sf.Gender),
		MinimumAgeRaw:        firstValue(sf.MinimumAge),
		MaximumAgeRaw:        firstValue(sf.MaximumAge),
		LeadSponsor:          firstValue(sf.LeadSponsorName),
		EnrollmentRaw:        firstValue(sf.EnrollmentCount),
		InterventionModel:    firstValue(sf.DesignInterventionModel),
		PrimaryPurpose:       firstValue(sf.DesignPrimaryPurpose),
		Interventions:        append([]string(nil), sf.InterventionName...),
		HealthyVolunteersRaw: firstValue(sf.HealthyVolunteers),
		Countries:            append([]string(nil), sf.LocationCountry...),
		StartDateRaw:         firstValue(sf.StartDate),
		CompletionDateRaw:    firstValue(sf.CompletionDate),
		WhyStopped:           firstValue(sf.WhyStopped),
		RetractionPMID:       firstValue(sf.RetractionPMID),
	}
}
