package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	statussync "foodlink/internal/statussync/service"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/testutil"
)

type stubService struct {
	actor   domain.Actor
	change  statussync.Change
	toggled bool
	err     error
}

func (s *stubService) SetDeliveryStatus(_ context.Context, actor domain.Actor, change statussync.Change) (*statussync.Result, error) {
	s.actor, s.change = actor, change
	if s.err != nil {
		return nil, s.err
	}
	return &statussync.Result{Status: change.Status, NotificationsUpdated: 2}, nil
}

func (s *stubService) ToggleDeliveryStatus(_ context.Context, actor domain.Actor, donationID domain.DonationID, recipientID domain.RecipientID) (*statussync.Result, error) {
	s.actor, s.toggled = actor, true
	s.change = statussync.Change{DonationID: donationID, RecipientID: recipientID}
	return &statussync.Result{Status: "Delivered"}, s.err
}

func newRouter(svc *stubService, actor domain.Actor) http.Handler {
	r := testutil.ActorRouter(&actor, time.Time{})
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func TestSetStatus(t *testing.T) {
	volunteer := domain.Actor{ID: uuid.NewString(), Role: domain.RoleVolunteer}
	donation := domain.NewDonationID()
	recipient := domain.RecipientID(uuid.New())

	t.Run("passes the change through", func(t *testing.T) {
		svc := &stubService{}
		body := `{"status":"Delivered","recipient_id":"` + recipient.String() + `"}`
		rec := testutil.Serve(newRouter(svc, volunteer), http.MethodPut, "/donations/"+donation.String()+"/status", body)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, volunteer, svc.actor)
		assert.Equal(t, statussync.Change{DonationID: donation, RecipientID: recipient, Status: "Delivered"}, svc.change)
		assert.JSONEq(t, `{"status":"Delivered","unchanged":false,"notifications_updated":2,"notifications_failed":0}`, rec.Body.String())
	})

	t.Run("bad recipient id", func(t *testing.T) {
		svc := &stubService{}
		rec := testutil.Serve(newRouter(svc, volunteer), http.MethodPut, "/donations/"+donation.String()+"/status", `{"status":"Delivered","recipient_id":"x"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid transition is a conflict", func(t *testing.T) {
		svc := &stubService{err: dErrors.New(dErrors.CodeInvalidTransition, "a volunteer is delivering this donation")}
		rec := testutil.Serve(newRouter(svc, volunteer), http.MethodPut, "/donations/"+donation.String()+"/status", `{"status":"Pending"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "invalid_transition", testutil.ErrorCode(t, rec))
	})
}

func TestToggleWithoutBody(t *testing.T) {
	svc := &stubService{}
	donor := domain.Actor{ID: uuid.NewString(), Role: domain.RoleDonor}
	donation := domain.NewDonationID()

	rec := testutil.Serve(newRouter(svc, donor), http.MethodPost, "/donations/"+donation.String()+"/status/toggle", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.toggled)
	assert.Equal(t, donation, svc.change.DonationID)
	assert.True(t, svc.change.RecipientID.IsNil())
}
