// Package store maps the donation workflow's typed records onto the flat
// documents of records.Store. Each repository owns one subcollection.
package store

import (
	"foodlink/internal/donation/models"
	"foodlink/internal/records"
	"foodlink/pkg/domain"
)

// Subcollection names.
const (
	SubSchedule      = "schedule"
	SubNotifications = "notifications"
	SubAvailableFood = "availableFood"
	SubTask          = "task"
	SubMilestones    = "milestones"
)

// milestoneDocID is the single milestone document per donor.
const milestoneDocID = "current"

func SchedulePath(donor domain.DonorID) records.Path {
	return records.Path{Collection: records.CollectionDonors, OwnerID: donor.String(), Subcollection: SubSchedule}
}

func NotificationsPath(donor domain.DonorID) records.Path {
	return records.Path{Collection: records.CollectionDonors, OwnerID: donor.String(), Subcollection: SubNotifications}
}

func RequestsPath(recipient domain.RecipientID) records.Path {
	return records.Path{Collection: records.CollectionRecipients, OwnerID: recipient.String(), Subcollection: SubAvailableFood}
}

func TasksPath(volunteer domain.VolunteerID) records.Path {
	return records.Path{Collection: records.CollectionVolunteers, OwnerID: volunteer.String(), Subcollection: SubTask}
}

func MilestonesPath(donor domain.DonorID) records.Path {
	return records.Path{Collection: records.CollectionDonors, OwnerID: donor.String(), Subcollection: SubMilestones}
}

func DonationKey(donor domain.DonorID, donation domain.DonationID) records.Key {
	return SchedulePath(donor).Doc(donation.String())
}

func NotificationKey(donor domain.DonorID, donation domain.DonationID) records.Key {
	return NotificationsPath(donor).Doc(donation.String())
}

func RequestKey(recipient domain.RecipientID, donation domain.DonationID) records.Key {
	return RequestsPath(recipient).Doc(donation.String())
}

func TaskKey(volunteer domain.VolunteerID, recipient domain.RecipientID, donation domain.DonationID) records.Key {
	return TasksPath(volunteer).Doc(models.TaskID(recipient, donation))
}

func MilestoneKey(donor domain.DonorID) records.Key {
	return MilestonesPath(donor).Doc(milestoneDocID)
}
