package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadenwood/kadenverify/internal/models"
)

func TestScoreDirectoryMatchUpgrades(t *testing.T) {
	s := &CatchAllScorer{}
	score := s.Score(context.Background(), CatchAllInput{
		Email:     "jane.doe@acme.example",
		FirstName: "Jane",
		LastName:  "Doe",
		PersonMatch: &SocialMatch{
			Found:      true,
			Confidence: 0.9,
			Source:     "person_store",
		},
	})

	// Directory hit, exact first.last assembly, and a corporate pattern
	// together saturate the score.
	assert.InDelta(t, 1.0, score.Confidence, 0.001)
	assert.True(t, score.IsLikelyReal)
	require.NotNil(t, score.Social)
	assert.Equal(t, "person_store", score.Social.Source)
	assert.Contains(t, score.Reasons, "person_store_match_confidence_0.90")
}

func TestScoreNameAssemblyAlone(t *testing.T) {
	s := &CatchAllScorer{}
	score := s.Score(context.Background(), CatchAllInput{
		Email:     "jane.doe@acme.example",
		FirstName: "jane",
		LastName:  "doe",
	})

	// 0.50 base + 0.95*0.30 name blend + (0.90-0.50)*0.20 pattern blend.
	assert.InDelta(t, 0.865, score.Confidence, 0.001)
	assert.True(t, score.IsLikelyReal)
	assert.Contains(t, score.Reasons, "name_pattern_match_0.95")
}

func TestScoreNameMismatchPenalty(t *testing.T) {
	s := &CatchAllScorer{}
	score := s.Score(context.Background(), CatchAllInput{
		Email:     "bob@acme.example",
		FirstName: "jane",
		LastName:  "doe",
	})

	// 0.50 - 0.20 mismatch + (0.85-0.50)*0.20 pattern blend.
	assert.InDelta(t, 0.37, score.Confidence, 0.001)
	assert.False(t, score.IsLikelyReal)
	assert.Contains(t, score.Reasons, "name_pattern_mismatch")
}

func TestScoreRedFlagCapsEverything(t *testing.T) {
	s := &CatchAllScorer{}

	score := s.Score(context.Background(), CatchAllInput{Email: "test@acme.example"})
	assert.InDelta(t, 0.05, score.Confidence, 0.001)
	assert.Contains(t, score.Reasons, "red_flag_test_prefix")

	score = s.Score(context.Background(), CatchAllInput{Email: "12345@acme.example"})
	assert.InDelta(t, 0.10, score.Confidence, 0.001)
	assert.Contains(t, score.Reasons, "red_flag_numeric_local")
}

func TestScoreInstitutionalAndCompanySignals(t *testing.T) {
	s := &CatchAllScorer{}
	score := s.Score(context.Background(), CatchAllInput{
		Email:       "jane.doe@college.edu",
		CompanySize: 5000,
	})

	// 0.50 base + 0.08 pattern + 0.15 large company + 0.15 .edu.
	assert.InDelta(t, 0.88, score.Confidence, 0.001)
	assert.Contains(t, score.Reasons, "large_company_5000_employees")
	assert.Contains(t, score.Reasons, "domain_type_.edu")
}

func TestScoreConsultsPersonLookup(t *testing.T) {
	var looked string
	s := &CatchAllScorer{
		PersonLookup: func(ctx context.Context, email string) (*SocialMatch, error) {
			looked = email
			return &SocialMatch{Found: true, Confidence: 0.8, Source: "person_store"}, nil
		},
	}
	score := s.Score(context.Background(), CatchAllInput{Email: "Jane.Doe@Acme.example"})

	assert.Equal(t, "jane.doe@acme.example", looked)
	assert.Contains(t, score.Reasons, "person_store_match_confidence_0.80")
}

func TestScoreSurvivesPersonLookupError(t *testing.T) {
	s := &CatchAllScorer{
		PersonLookup: func(ctx context.Context, email string) (*SocialMatch, error) {
			return nil, errors.New("store offline")
		},
	}
	score := s.Score(context.Background(), CatchAllInput{Email: "jane.doe@acme.example"})

	// Falls back to pure heuristics: 0.50 + 0.08 pattern blend.
	assert.InDelta(t, 0.58, score.Confidence, 0.001)
	assert.Nil(t, score.Social)
}

func TestApplyCatchAllScore(t *testing.T) {
	t.Run("high confidence upgrades to safe", func(t *testing.T) {
		res := &models.VerificationResult{Reachability: models.ReachabilityRisky}
		reason, decisive := ApplyCatchAllScore(res, CatchAllScore{Confidence: 0.85})

		assert.True(t, decisive)
		assert.Equal(t, "catch_all_high_confidence_0.85", reason)
		assert.Equal(t, models.ReachabilitySafe, res.Reachability)
		require.NotNil(t, res.IsDeliverable)
		assert.True(t, *res.IsDeliverable)
	})

	t.Run("low confidence downgrades to invalid", func(t *testing.T) {
		res := &models.VerificationResult{Reachability: models.ReachabilityRisky}
		reason, decisive := ApplyCatchAllScore(res, CatchAllScore{Confidence: 0.10})

		assert.True(t, decisive)
		assert.Equal(t, "catch_all_low_confidence_0.10", reason)
		assert.Equal(t, models.ReachabilityInvalid, res.Reachability)
	})

	t.Run("middle band leaves the verdict alone", func(t *testing.T) {
		res := &models.VerificationResult{Reachability: models.ReachabilityRisky}
		reason, decisive := ApplyCatchAllScore(res, CatchAllScore{Confidence: 0.55})

		assert.False(t, decisive)
		assert.Empty(t, reason)
		assert.Equal(t, models.ReachabilityRisky, res.Reachability)
		assert.Nil(t, res.IsDeliverable)
	})
}

func TestNameMatchConfidenceLadder(t *testing.T) {
	tests := []struct {
		local string
		want  float64
	}{
		{"jane.doe", 0.95},
		{"janedoe", 0.90},
		{"j.doe", 0.85},
		{"jane_doe", 0.85},
		{"jane-doe", 0.85},
		{"jane", 0.80},
		{"jane.x.doe", 0.70},
		{"doe", 0.60},
		{"jane99", 0.50},
		{"bob", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.local, func(t *testing.T) {
			assert.InDelta(t, tt.want, nameMatchConfidence(tt.local, "jane", "doe"), 0.001)
		})
	}
}
