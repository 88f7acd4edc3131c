package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodlink/internal/donation/models"
	"foodlink/pkg/domain"
)

var march = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func donationOn(date string, amount float64, unit string) *models.Donation {
	return &models.Donation{
		ID:       domain.NewDonationID(),
		DonorID:  domain.DonorID(uuid.Nil),
		Quantity: models.Quantity{Amount: amount, Unit: unit},
		Window:   models.PickupWindow{Date: date, TimeFrom: "09:00", TimeTo: "10:00"},
	}
}

// replay adds n donations one by one, feeding each evaluation's state into
// the next, and returns the counts at which a milestone fired.
func replay(n int, now time.Time) ([]int, models.MilestoneState) {
	var (
		ledger []*models.Donation
		state  models.MilestoneState
		fired  []int
	)
	for i := range n {
		ledger = append(ledger, donationOn(now.Format(models.DateLayout), 1, "kg"))
		e := Evaluate(ledger, now, state)
		if e.Fired {
			fired = append(fired, i+1)
		}
		state = *e.State
	}
	return fired, state
}

func TestEvaluateFiresEveryFifthDonation(t *testing.T) {
	fired, state := replay(10, march)
	assert.Equal(t, []int{5, 10}, fired)
	assert.Equal(t, 10, state.LastMilestoneReached)
	assert.Equal(t, "2024-03", state.MilestoneMonth)
}

func TestEvaluateDoesNotRefireOnReread(t *testing.T) {
	ledger := make([]*models.Donation, 0, 5)
	for range 5 {
		ledger = append(ledger, donationOn("2024-03-02", 2, "kg"))
	}
	first := Evaluate(ledger, march, models.MilestoneState{})
	require.True(t, first.Fired)

	second := Evaluate(ledger, march, *first.State)
	assert.False(t, second.Fired)
	assert.False(t, changed(*first.State, second.State))
}

func TestEvaluateFiresForThresholdPassedBetweenReads(t *testing.T) {
	ledger := make([]*models.Donation, 0, 11)
	for range 4 {
		ledger = append(ledger, donationOn("2024-03-04", 1, "kg"))
	}
	first := Evaluate(ledger, march, models.MilestoneState{})
	require.False(t, first.Fired)

	ledger = append(ledger, donationOn("2024-03-05", 1, "kg"), donationOn("2024-03-06", 1, "kg"))
	second := Evaluate(ledger, march, *first.State)
	assert.True(t, second.Fired)
	assert.True(t, second.Eligible)
	assert.Equal(t, 6, second.State.MonthlyDonationCount)
	assert.Equal(t, 5, second.State.LastMilestoneReached)

	seventh := Evaluate(append(ledger, donationOn("2024-03-07", 1, "kg")), march, *second.State)
	assert.False(t, seventh.Fired, "the same threshold fires once")
	assert.Equal(t, 5, seventh.State.LastMilestoneReached)

	for range 4 {
		ledger = append(ledger, donationOn("2024-03-08", 1, "kg"))
	}
	jumped := Evaluate(ledger, march, *seventh.State)
	assert.True(t, jumped.Fired)
	assert.Equal(t, 10, jumped.State.LastMilestoneReached)
}

func TestEvaluateResetsWhenMonthChanges(t *testing.T) {
	_, state := replay(5, march)
	state.CertifiedMilestone = 5

	april := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	e := Evaluate(nil, april, state)
	assert.Equal(t, "2024-04", e.State.MilestoneMonth)
	assert.Zero(t, e.State.MonthlyDonationCount)
	assert.Zero(t, e.State.LastMilestoneReached)
	assert.Zero(t, e.State.CertifiedMilestone)
	assert.False(t, e.Eligible)
	assert.True(t, changed(state, e.State))
}

func TestEvaluateChart(t *testing.T) {
	ledger := []*models.Donation{
		donationOn("2024-03-02", 2, "kg"),
		donationOn("2023-12-30", 1, "Plates"),
		donationOn("2024-03-09", 1.5, "Kg"),
		donationOn("2024-01-15", 4, "plates"),
		donationOn("not-a-date", 9, "kg"),
	}
	e := Evaluate(ledger, march, models.MilestoneState{})

	require.Len(t, e.Chart, 3)
	assert.Equal(t, "December 2023", e.Chart[0].Month)
	assert.Equal(t, "January 2024", e.Chart[1].Month)
	assert.Equal(t, "March 2024", e.Chart[2].Month)
	assert.Equal(t, 2, e.Chart[2].Donations)
	assert.Equal(t, []UnitTotal{{Unit: "kg", Amount: 3.5}}, e.Chart[2].Totals)
	assert.Equal(t, 2, e.State.MonthlyDonationCount)
}

func TestEvaluateEligibility(t *testing.T) {
	ledger := make([]*models.Donation, 0, 5)
	for range 5 {
		ledger = append(ledger, donationOn("2024-03-01", 1, "kg"))
	}
	e := Evaluate(ledger, march, models.MilestoneState{})
	assert.True(t, e.Eligible)

	certified := *e.State
	certified.CertifiedMilestone = 5
	assert.False(t, Evaluate(ledger, march, certified).Eligible)
}

func TestEvaluateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("milestones fire only at positive multiples of five", prop.ForAll(
		func(n int) bool {
			fired, _ := replay(n, march)
			for _, c := range fired {
				if c <= 0 || c%models.MilestoneEvery != 0 {
					return false
				}
			}
			return len(fired) == n/models.MilestoneEvery
		},
		gen.IntRange(0, 40),
	))

	properties.Property("last milestone never decreases within a month", prop.ForAll(
		func(counts []int) bool {
			var state models.MilestoneState
			last := 0
			for _, c := range counts {
				ledger := make([]*models.Donation, 0, c)
				for range c {
					ledger = append(ledger, donationOn("2024-03-05", 1, "kg"))
				}
				state = *Evaluate(ledger, march, state).State
				if state.LastMilestoneReached < last {
					return false
				}
				last = state.LastMilestoneReached
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 25)),
	))

	properties.Property("any read sequence records the highest threshold reached", prop.ForAll(
		func(counts []int) bool {
			var state models.MilestoneState
			for _, c := range counts {
				ledger := make([]*models.Donation, 0, c)
				for range c {
					ledger = append(ledger, donationOn("2024-03-05", 1, "kg"))
				}
				state = *Evaluate(ledger, march, state).State
			}
			best := 0
			for _, c := range counts {
				best = max(best, c/models.MilestoneEvery*models.MilestoneEvery)
			}
			return state.LastMilestoneReached == best
		},
		gen.SliceOf(gen.IntRange(0, 25)),
	))

	properties.Property("chart buckets are chronological", prop.ForAll(
		func(months []int) bool {
			ledger := make([]*models.Donation, 0, len(months))
			for _, m := range months {
				ledger = append(ledger, donationOn(fmt.Sprintf("2023-%02d-10", m), 1, "kg"))
			}
			chart := Evaluate(ledger, march, models.MilestoneState{}).Chart
			for i := 1; i < len(chart); i++ {
				if !chart[i-1].start.Before(chart[i].start) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 12)),
	))

	properties.TestingRun(t)
}
