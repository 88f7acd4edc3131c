package models

import "foodlink/pkg/domain"

// MilestoneEvery is the number of donations in one month per milestone.
const MilestoneEvery = 5

// MilestoneState is derived from the donor's ledger and stored only to keep
// milestones monotonic within a month.
type MilestoneState struct {
	DonorID              domain.DonorID `json:"donor_id"`
	MonthlyDonationCount int            `json:"monthly_donation_count"`
	LastMilestoneReached int            `json:"last_milestone_reached"`
	// MilestoneMonth is the YYYY-MM the counters belong to.
	MilestoneMonth string `json:"milestone_month"`
	// CertifiedMilestone is the last threshold of MilestoneMonth that has a
	// certificate.
	CertifiedMilestone int      `json:"certified_milestone"`
	Certificates       []string `json:"certificates"`
	Version            int64    `json:"-"`
}
