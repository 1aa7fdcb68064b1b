package autosave

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		data    any
		context string
		score   int
		want    models.Criticality
	}{
		{
			name:    "prescription with anticoagulant",
			data:    map[string]string{"medication": "warfarina", "dose": "5mg"},
			context: ContextPrescription,
			score:   11,
			want:    models.CriticalityCritical,
		},
		{
			name:    "follow-up note",
			data:    map[string]string{"note": "follow-up in 2 weeks"},
			context: ContextGeneral,
			score:   0,
			want:    models.CriticalityLow,
		},
		{
			name:    "contact details",
			data:    map[string]string{"patient": "Ana", "phone": "555"},
			context: ContextGeneral,
			score:   2,
			want:    models.CriticalityMedium,
		},
		{
			name:    "contact details in a record",
			data:    map[string]string{"patient": "Ana", "phone": "555"},
			context: ContextMedicalRecord,
			score:   5,
			want:    models.CriticalityHigh,
		},
		{
			name:    "case insensitive",
			data:    map[string]string{"x": "ALLERGY"},
			context: ContextGeneral,
			score:   2,
			want:    models.CriticalityMedium,
		},
		{
			name:    "context bonus alone",
			data:    map[string]string{},
			context: ContextPrescription,
			score:   3,
			want:    models.CriticalityMedium,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.data, tt.context)
			require.NoError(t, err)
			assert.Equal(t, tt.score, got.Score)
			assert.Equal(t, tt.want, got.Criticality)
		})
	}
}

func TestClassify_Unencodable(t *testing.T) {
	_, err := Classify(make(chan int), ContextGeneral)
	assert.Error(t, err)
}

func TestClassify_Monotonic(t *testing.T) {
	base := map[string]any{"note": "checkup"}
	prev, err := Classify(base, ContextGeneral)
	require.NoError(t, err)

	for _, kw := range []string{"dose", "insulin", "patient", "allergy", "emergency"} {
		base[kw] = kw
		next, err := Classify(base, ContextGeneral)
		require.NoError(t, err)
		assert.Greater(t, next.Score, prev.Score, kw)
		assert.GreaterOrEqual(t, next.Criticality.Rank(), prev.Criticality.Rank(), kw)
		prev = next
	}
}

func TestTier_Boundaries(t *testing.T) {
	assert.Equal(t, models.CriticalityLow, tier(1))
	assert.Equal(t, models.CriticalityMedium, tier(2))
	assert.Equal(t, models.CriticalityMedium, tier(4))
	assert.Equal(t, models.CriticalityHigh, tier(5))
	assert.Equal(t, models.CriticalityHigh, tier(7))
	assert.Equal(t, models.CriticalityCritical, tier(8))
}

func TestDelay(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, time.Second, Delay(base, models.CriticalityCritical))
	assert.Equal(t, 2*time.Second, Delay(base, models.CriticalityHigh))
	assert.Equal(t, 2*time.Second, Delay(base, models.CriticalityMedium))
	assert.Equal(t, 3*time.Second, Delay(base, models.CriticalityLow))

	long := 20 * time.Second
	assert.Equal(t, 5*time.Second, Delay(long, models.CriticalityCritical))
	assert.Equal(t, 10*time.Second, Delay(long, models.CriticalityHigh))
	assert.Equal(t, 30*time.Second, Delay(long, models.CriticalityLow))
}
