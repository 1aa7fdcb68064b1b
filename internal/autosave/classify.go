package autosave

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/models"
)

// Keyword weights. Matching is a case-insensitive substring count over the
// JSON encoding of the document, keys included.
const (
	criticalWeight = 2
	mediumWeight   = 1
	contextBonus   = 3

	criticalThreshold = 8
	highThreshold     = 5
	mediumThreshold   = 2
)

var criticalKeywords = []string{
	"dose", "dosage", "dosis",
	"medication", "medicamento", "medicine", "drug",
	"allergy", "alergia", "anaphylaxis",
	"emergency", "emergencia", "urgent",
	"warfarin", "insulin", "mg",
}

var mediumKeywords = []string{
	"name", "nombre", "patient", "paciente",
	"phone", "telefono", "email", "address", "direccion",
	"birth", "nacimiento",
	"procedure", "procedimiento", "diagnosis", "diagnostico",
}

// Document contexts that carry the fixed bonus.
const (
	ContextPrescription  = "prescription"
	ContextMedicalRecord = "medical_record"
	ContextGeneral       = "general"
)

// Assessment is the outcome of Classify.
type Assessment struct {
	Score       int
	Criticality models.Criticality
}

// Classify scores data for save urgency.
func Classify(data any, docContext string) (Assessment, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Assessment{}, err
	}
	return classifyJSON(raw, docContext), nil
}

func classifyJSON(raw []byte, docContext string) Assessment {
	text := strings.ToLower(string(raw))

	score := 0
	for _, kw := range criticalKeywords {
		score += criticalWeight * strings.Count(text, kw)
	}
	for _, kw := range mediumKeywords {
		score += mediumWeight * strings.Count(text, kw)
	}
	if docContext == ContextPrescription || docContext == ContextMedicalRecord {
		score += contextBonus
	}

	return Assessment{Score: score, Criticality: tier(score)}
}

func tier(score int) models.Criticality {
	switch {
	case score >= criticalThreshold:
		return models.CriticalityCritical
	case score >= highThreshold:
		return models.CriticalityHigh
	case score >= mediumThreshold:
		return models.CriticalityMedium
	default:
		return models.CriticalityLow
	}
}

// Delay scales the base debounce delay by criticality.
func Delay(base time.Duration, c models.Criticality) time.Duration {
	switch c {
	case models.CriticalityCritical:
		return max(base/4, time.Second)
	case models.CriticalityHigh:
		return max(base/2, 2*time.Second)
	case models.CriticalityMedium:
		return base
	default:
		return base * 3 / 2
	}
}
