package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizrush/backend/internal/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Paris", "paris"},
		{"  PARIS  ", "paris"},
		{"new york!", "new york"},
		{"O'Brien", "obrien"},
		{"42", "42"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"Paris", "  mixed CASE 12 ", "déjà vu", "a-b-c"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "normalizing twice must equal once for %q", in)
	}
}

func TestSplitPrize(t *testing.T) {
	tests := []struct {
		pool    float64
		winners int
		want    float64
	}{
		{30.00, 3, 10.00},
		{30.00, 1, 30.00},
		{10.00, 3, 3.33},
		{0.05, 2, 0.02}, // 2.5 cents rounds to the even cent
		{0.07, 2, 0.04}, // 3.5 cents rounds to the even cent
		{100.00, 0, 100.00},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, SplitPrize(tt.pool, tt.winners), 0.0001,
			"pool %.2f winners %d", tt.pool, tt.winners)
	}
}

func TestBuildButtonsKeepsCorrectOptionOnce(t *testing.T) {
	q := &models.Question{
		Text:          "Capital of France?",
		CorrectAnswer: "Paris",
		OptionA:       "Paris",
		OptionB:       "London",
		OptionC:       "Rome",
		OptionD:       "Berlin",
	}

	for i := 0; i < 50; i++ {
		buttons := buildButtons(q)
		require.Len(t, buttons, 3)

		correct := 0
		seen := make(map[string]bool)
		for j, b := range buttons {
			assert.Equal(t, []string{"btn_1", "btn_2", "btn_3"}[j], b.ID)
			assert.False(t, seen[b.Title], "duplicate option %q", b.Title)
			seen[b.Title] = true
			if b.Title == "Paris" {
				correct++
			}
		}
		assert.Equal(t, 1, correct, "correct option must appear in exactly one button")
	}
}

func TestBuildButtonsWithFewOptions(t *testing.T) {
	q := &models.Question{
		CorrectAnswer: "Yes",
		OptionA:       "Yes",
		OptionB:       "No",
	}
	buttons := buildButtons(q)
	require.Len(t, buttons, 2)
}
