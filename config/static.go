package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TopicConfig beschreibt eine therapeutische Fragestellung, nach der in der
// Registry gesucht wird. SearchTerms ist ein boolescher Schlüsselwort-Ausdruck
// in der Syntax der Registry, z.B. "psilocybin OR psilocybine".
type TopicConfig struct {
	Name        string `yaml:"name" json:"name"`
	SearchTerms string `yaml:"search_terms" json:"search_terms"`
}

// AliasRule bildet einen Substring auf einen kanonischen Namen ab. Die Regeln
// einer Tabelle werden in Reihenfolge geprüft; der erste Treffer gewinnt.
type AliasRule struct {
	Match     string `yaml:"match" json:"match"`
	Canonical string `yaml:"canonical" json:"canonical"`
}

// StaticTables bündelt die Datentabellen, die die Pipeline steuern: die
// Topic-Liste und die Alias-Tabellen für Sponsoren und Indikationen.
type StaticTables struct {
	Topics           []TopicConfig `yaml:"topics"`
	SponsorAliases   []AliasRule   `yaml:"sponsor_aliases"`
	ConditionAliases []AliasRule   `yaml:"condition_aliases"`
}

// DefaultTables liefert die eingebauten Standardtabellen. Sie decken die
// klassischen Psychedelika-Forschungsprogramme ab und lassen sich über eine
// YAML-Datei vollständig ersetzen.
func DefaultTables() StaticTables {
	return StaticTables{
		Topics: []TopicConfig{
			{Name: "Psilocybin", SearchTerms: "psilocybin OR psilocybine OR COMP360"},
			{Name: "MDMA", SearchTerms: "MDMA OR midomafetamine OR 3,4-methylenedioxymethamphetamine"},
			{Name: "Ketamine", SearchTerms: "ketamine OR esketamine OR arketamine"},
			{Name: "LSD", SearchTerms: "LSD OR lysergic acid diethylamide OR lysergide"},
			{Name: "DMT", SearchTerms: "DMT OR dimethyltryptamine OR ayahuasca"},
			{Name: "Ibogaine", SearchTerms: "ibogaine OR noribogaine OR tabernanthe"},
		},
		SponsorAliases: []AliasRule{
			{Match: "compass", Canonical: "COMPASS Pathways"},
			{Match: "usona", Canonical: "Usona Institute"},
			{Match: "multidisciplinary association for psychedelic", Canonical: "MAPS"},
			{Match: "mind medicine", Canonical: "MindMed"},
			{Match: "mindmed", Canonical: "MindMed"},
			{Match: "janssen", Canonical: "Janssen"},
			{Match: "johns hopkins", Canonical: "Johns Hopkins University"},
			{Match: "imperial college", Canonical: "Imperial College London"},
			{Match: "yale", Canonical: "Yale University"},
			{Match: "new york university", Canonical: "New York University"},
			{Match: "university of zurich", Canonical: "University of Zurich"},
		},
		ConditionAliases: []AliasRule{
			{Match: "treatment resistant depress", Canonical: "Treatment-Resistant Depression"},
			{Match: "treatment-resistant depress", Canonical: "Treatment-Resistant Depression"},
			{Match: "depress", Canonical: "Depression"},
			{Match: "post-traumatic", Canonical: "PTSD"},
			{Match: "posttraumatic", Canonical: "PTSD"},
			{Match: "ptsd", Canonical: "PTSD"},
			{Match: "anxiety", Canonical: "Anxiety"},
			{Match: "alcohol", Canonical: "Alcohol Use Disorder"},
			{Match: "smoking", Canonical: "Tobacco Use Disorder"},
			{Match: "tobacco", Canonical: "Tobacco Use Disorder"},
			{Match: "nicotine", Canonical: "Tobacco Use Disorder"},
			{Match: "opioid", Canonical: "Opioid Use Disorder"},
			{Match: "cocaine", Canonical: "Cocaine Use Disorder"},
			{Match: "anorexia", Canonical: "Anorexia Nervosa"},
			{Match: "obsessive", Canonical: "OCD"},
			{Match: "headache", Canonical: "Headache Disorder"},
			{Match: "migraine", Canonical: "Headache Disorder"},
			{Match: "pain", Canonical: "Chronic Pain"},
			{Match: "healthy", Canonical: "Healthy Participants"},
		},
	}
}

// LoadTables liest die Tabellen aus einer YAML-Datei. Fehlt die Datei, gelten
// die eingebauten Standardtabellen; eine vorhandene, aber kaputte Datei ist
// ein harter Fehler, damit niemand versehentlich mit den falschen Topics misst.
func LoadTables(path string) (StaticTables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTables(), nil
		}
		return StaticTables{}, fmt.Errorf("read tables file %s: %w", path, err)
	}

	var tables StaticTables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return StaticTables{}, fmt.Errorf("parse tables file %s: %w", path, err)
	}
	if len(tables.Topics) == 0 {
		return StaticTables{}, fmt.Errorf("tables file %s enthält keine Topics", path)
	}
	return tables, nil
}
