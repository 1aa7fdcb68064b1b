package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEncryptedRecord_Expired(t *testing.T) {
	exp := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := &EncryptedRecord{ExpiresAt: exp}

	assert.False(t, r.Expired(exp.Add(-time.Nanosecond)))
	assert.True(t, r.Expired(exp))
	assert.True(t, r.Expired(exp.Add(time.Hour)))
}

func TestCriticality_RankAndRetained(t *testing.T) {
	order := []Criticality{CriticalityLow, CriticalityMedium, CriticalityHigh, CriticalityCritical}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank())
	}

	assert.True(t, CriticalityCritical.Retained())
	assert.True(t, CriticalityHigh.Retained())
	assert.False(t, CriticalityMedium.Retained())
	assert.False(t, CriticalityLow.Retained())
}

func TestRequestStatus_Terminal(t *testing.T) {
	assert.False(t, RequestPending.Terminal())
	for _, s := range []RequestStatus{RequestSigned, RequestExpired, RequestRevoked} {
		assert.True(t, s.Terminal(), s)
	}
}

func TestShareToken_Usable(t *testing.T) {
	exp := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	tok := &ShareToken{ExpiresAt: exp, AccessCount: 10}

	assert.True(t, tok.Usable(exp.Add(-time.Second)))
	assert.True(t, tok.Usable(exp))
	assert.False(t, tok.Usable(exp.Add(time.Nanosecond)))
}
