package service

import (
	"slices"
	"strings"
	"time"

	"foodlink/internal/donation/models"
)

// monthKeyLayout is the stored MilestoneMonth format.
const monthKeyLayout = "2006-01"

// monthLabelLayout labels chart buckets, e.g. "March 2024".
const monthLabelLayout = "January 2006"

// UnitTotal is the summed quantity of one unit in a month.
type UnitTotal struct {
	Unit   string  `json:"unit"`
	Amount float64 `json:"amount"`
}

// MonthTotal is one chart bucket.
type MonthTotal struct {
	Month     string      `json:"month"`
	Donations int         `json:"donations"`
	Totals    []UnitTotal `json:"totals"`
	start     time.Time
}

// Evaluation is the outcome of recomputing a donor's milestones.
type Evaluation struct {
	State *models.MilestoneState
	// Fired is set when this evaluation crossed a new threshold.
	Fired bool
	// Eligible is set while the month's last milestone has no certificate.
	Eligible bool
	Chart    []MonthTotal
}

// Evaluate recomputes milestone state from a donor's ledger. Donations are
// bucketed by the month of their pickup date. A milestone fires when the
// highest multiple of MilestoneEvery the current month's count has reached is
// above the last one recorded, so a threshold passed between two evaluations
// still fires once. The last milestone resets when the month changes.
func Evaluate(donations []*models.Donation, now time.Time, previous models.MilestoneState) Evaluation {
	currentMonth := now.Format(monthKeyLayout)

	buckets := map[string]*MonthTotal{}
	count := 0
	for _, d := range donations {
		day := d.Window.Day()
		if day.IsZero() {
			continue
		}
		key := day.Format(monthKeyLayout)
		b, ok := buckets[key]
		if !ok {
			start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
			b = &MonthTotal{Month: day.Format(monthLabelLayout), start: start}
			buckets[key] = b
		}
		b.Donations++
		addUnit(b, d.Quantity)
		if key == currentMonth {
			count++
		}
	}

	chart := make([]MonthTotal, 0, len(buckets))
	for _, b := range buckets {
		slices.SortFunc(b.Totals, func(x, y UnitTotal) int { return strings.Compare(x.Unit, y.Unit) })
		chart = append(chart, *b)
	}
	slices.SortFunc(chart, func(x, y MonthTotal) int { return x.start.Compare(y.start) })

	state := previous
	if state.MilestoneMonth != currentMonth {
		state.MilestoneMonth = currentMonth
		state.LastMilestoneReached = 0
		state.CertifiedMilestone = 0
	}
	state.MonthlyDonationCount = count

	reached := count / models.MilestoneEvery * models.MilestoneEvery
	fired := reached > state.LastMilestoneReached
	if fired {
		state.LastMilestoneReached = reached
	}
	return Evaluation{
		State:    &state,
		Fired:    fired,
		Eligible: state.LastMilestoneReached > state.CertifiedMilestone,
		Chart:    chart,
	}
}

// addUnit sums by unit, treating "kg" and "Kg" as one unit.
func addUnit(b *MonthTotal, q models.Quantity) {
	for i := range b.Totals {
		if strings.EqualFold(b.Totals[i].Unit, q.Unit) {
			b.Totals[i].Amount += q.Amount
			return
		}
	}
	b.Totals = append(b.Totals, UnitTotal{Unit: q.Unit, Amount: q.Amount})
}

// changed reports whether the stored state needs rewriting.
func changed(before models.MilestoneState, after *models.MilestoneState) bool {
	return before.MilestoneMonth != after.MilestoneMonth ||
		before.MonthlyDonationCount != after.MonthlyDonationCount ||
		before.LastMilestoneReached != after.LastMilestoneReached ||
		before.CertifiedMilestone != after.CertifiedMilestone
}
