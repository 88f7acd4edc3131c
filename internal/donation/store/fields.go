package store

import (
	"encoding/json"
	"fmt"
	"time"

	"foodlink/internal/donation/models"
	"foodlink/internal/records"
	"foodlink/pkg/domain"
)

// Field names shared by every subcollection.
const (
	fDonationID         = "donationId"
	fDonorID            = "donorId"
	fDonorName          = "donorName"
	fDonorPhone         = "donorPhone"
	fFoodName           = "foodName"
	fFoodType           = "foodType"
	fQuantity           = "quantity"
	fPickupDate         = "pickupDate"
	fTimeFrom           = "timeFrom"
	fTimeTo             = "timeTo"
	fAddress            = "address"
	fPincode            = "pincode"
	fImageRef           = "imageRef"
	fLedgerStatus       = "donorLedgerStatus"
	fCreatedAt          = "createdAt"
	fUpdatedAt          = "updatedAt"
	fRecipientID        = "recipientId"
	fRecipientName      = "recipientName"
	fRecipientPhone     = "recipientPhone"
	fRecipientAddress   = "recipientAddress"
	fFulfillmentMode    = "fulfillmentMode"
	fStatus             = "status"
	fRequestedAt        = "requestedAt"
	fClaimedBy          = "claimedBy"
	fClaimedAt          = "claimedAt"
	fVolunteerID        = "volunteerId"
	fVolunteerName      = "volunteerName"
	fVolunteerPhone     = "volunteerPhone"
	fFoodStatus         = "foodStatus"
	fAcceptedAt         = "acceptedAt"
	fMonthlyCount       = "monthlyDonationCount"
	fLastMilestone      = "lastMilestoneReached"
	fMilestoneMonth     = "milestoneMonth"
	fCertifiedMilestone = "certifiedMilestone"
	fCertificates       = "certificates"
)

// FieldDonationID and FieldClaimedBy are exported for collection-group scans.
const (
	FieldDonationID = fDonationID
	FieldClaimedBy  = fClaimedBy
	FieldLedger     = fLedgerStatus
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// reader decodes typed values from a document and remembers the first error.
type reader struct {
	f   records.Fields
	err error
}

func (r *reader) str(name string) string { return r.f[name] }

func (r *reader) fail(name string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("field %s: %w", name, err)
	}
}

func (r *reader) time(name string) time.Time {
	v := r.f[name]
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		r.fail(name, err)
	}
	return t
}

func (r *reader) int(name string) int {
	v := r.f[name]
	if v == "" {
		return 0
	}
	var n int
	if _, err := fmt.Sscan(v, &n); err != nil {
		r.fail(name, err)
	}
	return n
}

func (r *reader) donationID(name string) domain.DonationID {
	id, err := domain.ParseDonationID(r.f[name])
	if err != nil {
		r.fail(name, err)
	}
	return id
}

func (r *reader) donorID(name string) domain.DonorID {
	id, err := domain.ParseDonorID(r.f[name])
	if err != nil {
		r.fail(name, err)
	}
	return id
}

func (r *reader) recipientID(name string) domain.RecipientID {
	id, err := domain.ParseRecipientID(r.f[name])
	if err != nil {
		r.fail(name, err)
	}
	return id
}

// optVolunteerID returns the nil id for an absent field.
func (r *reader) optVolunteerID(name string) domain.VolunteerID {
	if r.f[name] == "" {
		return domain.VolunteerID{}
	}
	id, err := domain.ParseVolunteerID(r.f[name])
	if err != nil {
		r.fail(name, err)
	}
	return id
}

func (r *reader) optRecipientID(name string) domain.RecipientID {
	if r.f[name] == "" {
		return domain.RecipientID{}
	}
	return r.recipientID(name)
}

func (r *reader) quantity(name string) models.Quantity {
	q, err := models.ParseQuantity(r.f[name])
	if err != nil {
		r.fail(name, err)
	}
	return q
}

func (r *reader) strings(name string) []string {
	v := r.f[name]
	if v == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		r.fail(name, err)
	}
	return out
}

func idString[T interface {
	IsNil() bool
	String() string
}](id T) string {
	if id.IsNil() {
		return ""
	}
	return id.String()
}

// snapshotFields writes the donation attributes carried by requests and tasks.
func snapshotFields(f records.Fields, s models.DonationSnapshot) {
	f[fDonationID] = s.DonationID.String()
	f[fDonorID] = s.DonorID.String()
	f[fDonorName] = s.DonorName
	f[fDonorPhone] = s.DonorPhone
	f[fFoodName] = s.FoodName
	f[fFoodType] = s.FoodType
	f[fQuantity] = s.Quantity.String()
	f[fPickupDate] = s.Window.Date
	f[fTimeFrom] = s.Window.TimeFrom
	f[fTimeTo] = s.Window.TimeTo
	f[fAddress] = s.Location.Address
	f[fPincode] = s.Location.Pincode
	f[fImageRef] = s.ImageRef
}

func (r *reader) snapshot() models.DonationSnapshot {
	return models.DonationSnapshot{
		DonationID: r.donationID(fDonationID),
		DonorID:    r.donorID(fDonorID),
		DonorName:  r.str(fDonorName),
		DonorPhone: r.str(fDonorPhone),
		FoodName:   r.str(fFoodName),
		FoodType:   r.str(fFoodType),
		Quantity:   r.quantity(fQuantity),
		Window:     models.PickupWindow{Date: r.str(fPickupDate), TimeFrom: r.str(fTimeFrom), TimeTo: r.str(fTimeTo)},
		Location:   models.Location{Address: r.str(fAddress), Pincode: r.str(fPincode)},
		ImageRef:   r.str(fImageRef),
	}
}

func recipientFields(f records.Fields, rc models.Recipient) {
	f[fRecipientID] = rc.ID.String()
	f[fRecipientName] = rc.Name
	f[fRecipientPhone] = rc.Phone
	f[fRecipientAddress] = rc.Address
}

func (r *reader) recipient() models.Recipient {
	return models.Recipient{
		ID:      r.recipientID(fRecipientID),
		Name:    r.str(fRecipientName),
		Phone:   r.str(fRecipientPhone),
		Address: r.str(fRecipientAddress),
	}
}

// Donation codec.

func donationFields(d *models.Donation) records.Fields {
	f := records.Fields{}
	snapshotFields(f, d.Snapshot())
	f[fLedgerStatus] = d.LedgerStatus.String()
	f[fCreatedAt] = formatTime(d.CreatedAt)
	f[fUpdatedAt] = formatTime(d.UpdatedAt)
	return f
}

func toDonation(doc *records.Document) (*models.Donation, error) {
	r := &reader{f: doc.Fields}
	s := r.snapshot()
	d := &models.Donation{
		ID:           s.DonationID,
		DonorID:      s.DonorID,
		DonorName:    s.DonorName,
		DonorPhone:   s.DonorPhone,
		FoodName:     s.FoodName,
		FoodType:     s.FoodType,
		Quantity:     s.Quantity,
		Window:       s.Window,
		Location:     s.Location,
		ImageRef:     s.ImageRef,
		LedgerStatus: models.LedgerStatus(r.str(fLedgerStatus)),
		CreatedAt:    r.time(fCreatedAt),
		UpdatedAt:    r.time(fUpdatedAt),
		Version:      doc.Version,
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode donation %s: %w", doc.Key, r.err)
	}
	return d, nil
}

// RecipientRequest codec.

func requestFields(req *models.RecipientRequest) records.Fields {
	f := records.Fields{}
	snapshotFields(f, req.Donation)
	recipientFields(f, req.Recipient)
	f[fFulfillmentMode] = req.Mode.String()
	f[fStatus] = req.Status.String()
	f[fRequestedAt] = formatTime(req.RequestedAt)
	f[fClaimedBy] = idString(req.ClaimedBy)
	f[fClaimedAt] = formatTime(req.ClaimedAt)
	return f
}

func toRequest(doc *records.Document) (*models.RecipientRequest, error) {
	r := &reader{f: doc.Fields}
	req := &models.RecipientRequest{
		Donation:    r.snapshot(),
		Recipient:   r.recipient(),
		Mode:        models.FulfillmentMode(r.str(fFulfillmentMode)),
		Status:      models.DeliveryStatus(r.str(fStatus)),
		RequestedAt: r.time(fRequestedAt),
		ClaimedBy:   r.optVolunteerID(fClaimedBy),
		ClaimedAt:   r.time(fClaimedAt),
		Version:     doc.Version,
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode request %s: %w", doc.Key, r.err)
	}
	return req, nil
}

// VolunteerTask codec.

func taskFields(t *models.VolunteerTask) records.Fields {
	f := records.Fields{}
	snapshotFields(f, t.Donation)
	recipientFields(f, t.Recipient)
	f[fVolunteerID] = t.Volunteer.ID.String()
	f[fVolunteerName] = t.Volunteer.Name
	f[fVolunteerPhone] = t.Volunteer.Phone
	f[fFoodStatus] = t.FoodStatus.String()
	f[fAcceptedAt] = formatTime(t.AcceptedAt)
	return f
}

func toTask(doc *records.Document) (*models.VolunteerTask, error) {
	r := &reader{f: doc.Fields}
	t := &models.VolunteerTask{
		Volunteer: models.Volunteer{
			ID:    r.optVolunteerID(fVolunteerID),
			Name:  r.str(fVolunteerName),
			Phone: r.str(fVolunteerPhone),
		},
		Recipient:  r.recipient(),
		Donation:   r.snapshot(),
		FoodStatus: models.DeliveryStatus(r.str(fFoodStatus)),
		AcceptedAt: r.time(fAcceptedAt),
		Version:    doc.Version,
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode task %s: %w", doc.Key, r.err)
	}
	return t, nil
}

// DonorNotification codec. Only populated fields are written so merges from
// different workflow steps never erase each other.

func notificationFields(n *models.DonorNotification) records.Fields {
	f := records.Fields{
		fDonationID:      n.DonationID.String(),
		fDonorID:         n.DonorID.String(),
		fFoodName:        n.FoodName,
		fRecipientID:     idString(n.RecipientID),
		fRecipientName:   n.RecipientName,
		fRecipientPhone:  n.RecipientPhone,
		fFulfillmentMode: n.Mode.String(),
		fVolunteerID:     idString(n.VolunteerID),
		fVolunteerName:   n.VolunteerName,
		fVolunteerPhone:  n.VolunteerPhone,
		fFoodStatus:      n.FoodStatus.String(),
		fUpdatedAt:       formatTime(n.UpdatedAt),
	}
	for k, v := range f {
		if v == "" {
			delete(f, k)
		}
	}
	return f
}

func toNotification(doc *records.Document) (*models.DonorNotification, error) {
	r := &reader{f: doc.Fields}
	n := &models.DonorNotification{
		DonationID:     r.donationID(fDonationID),
		FoodName:       r.str(fFoodName),
		RecipientID:    r.optRecipientID(fRecipientID),
		RecipientName:  r.str(fRecipientName),
		RecipientPhone: r.str(fRecipientPhone),
		Mode:           models.FulfillmentMode(r.str(fFulfillmentMode)),
		VolunteerID:    r.optVolunteerID(fVolunteerID),
		VolunteerName:  r.str(fVolunteerName),
		VolunteerPhone: r.str(fVolunteerPhone),
		FoodStatus:     models.DeliveryStatus(r.str(fFoodStatus)),
		UpdatedAt:      r.time(fUpdatedAt),
	}
	// the owner segment is authoritative for the donor
	donor, err := domain.ParseDonorID(doc.Key.OwnerID)
	if err != nil {
		r.fail("owner", err)
	}
	n.DonorID = donor
	if r.err != nil {
		return nil, fmt.Errorf("decode notification %s: %w", doc.Key, r.err)
	}
	return n, nil
}

// MilestoneState codec.

func milestoneFields(m *models.MilestoneState) (records.Fields, error) {
	f := records.Fields{
		fDonorID:            m.DonorID.String(),
		fMonthlyCount:       fmt.Sprint(m.MonthlyDonationCount),
		fLastMilestone:      fmt.Sprint(m.LastMilestoneReached),
		fMilestoneMonth:     m.MilestoneMonth,
		fCertifiedMilestone: fmt.Sprint(m.CertifiedMilestone),
	}
	if len(m.Certificates) > 0 {
		raw, err := json.Marshal(m.Certificates)
		if err != nil {
			return nil, fmt.Errorf("encode certificates: %w", err)
		}
		f[fCertificates] = string(raw)
	}
	return f, nil
}

func toMilestone(doc *records.Document) (*models.MilestoneState, error) {
	r := &reader{f: doc.Fields}
	m := &models.MilestoneState{
		DonorID:              r.donorID(fDonorID),
		MonthlyDonationCount: r.int(fMonthlyCount),
		LastMilestoneReached: r.int(fLastMilestone),
		MilestoneMonth:       r.str(fMilestoneMonth),
		CertifiedMilestone:   r.int(fCertifiedMilestone),
		Certificates:         r.strings(fCertificates),
		Version:              doc.Version,
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode milestone %s: %w", doc.Key, r.err)
	}
	return m, nil
}

func decodeAll[T any](docs []*records.Document, decode func(*records.Document) (*T, error)) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		v, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
