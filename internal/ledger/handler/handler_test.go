package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"foodlink/internal/donation/models"
	"foodlink/internal/ledger/handler/mocks"
	ledger "foodlink/internal/ledger/service"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/requestcontext"
)

type LedgerHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
	actor   domain.Actor
	donorID domain.DonorID
}

func TestLedgerHandlerSuite(t *testing.T) {
	suite.Run(t, new(LedgerHandlerSuite))
}

func (s *LedgerHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.donorID = domain.DonorID(uuid.New())
	s.actor = domain.Actor{ID: s.donorID.String(), Role: domain.RoleDonor, Name: "Dana"}

	s.router = chi.NewRouter()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(r.Context(), s.actor)))
		})
	})
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *LedgerHandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func (s *LedgerHandlerSuite) TestSchedule() {
	body, err := json.Marshal(scheduleRequest{
		FoodName: "Veg Biryani",
		FoodType: "Cooked",
		Quantity: "10 Kg",
		Window:   models.PickupWindow{Date: "2024-03-15", TimeFrom: "09:00", TimeTo: "11:00"},
		Location: models.Location{Address: "12 MG Road", Pincode: "560001"},
	})
	s.Require().NoError(err)

	s.service.EXPECT().ScheduleDonation(gomock.Any(), s.actor, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.Actor, d models.DonationDetails) (*models.Donation, error) {
			s.Equal(models.Quantity{Amount: 10, Unit: "Kg"}, d.Quantity)
			return &models.Donation{ID: domain.NewDonationID(), DonorID: s.donorID, FoodName: d.FoodName, LedgerStatus: models.LedgerPending}, nil
		})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/donations", bytes.NewReader(body)))
	s.Equal(http.StatusCreated, rec.Code)

	var got map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Equal("Veg Biryani", got["food_name"])
	s.Equal("Pending", got["donor_ledger_status"])
}

func (s *LedgerHandlerSuite) TestScheduleRejectsBadInput() {
	s.Run("unknown field", func() {
		rec := s.do(http.MethodPost, "/donations", `{"food":"x"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
	s.Run("bad quantity", func() {
		rec := s.do(http.MethodPost, "/donations", `{"food_name":"x","quantity":"lots"}`)
		s.Equal(http.StatusUnprocessableEntity, rec.Code)
	})
}

func (s *LedgerHandlerSuite) TestGetMapsNotFound() {
	id := domain.NewDonationID()
	s.service.EXPECT().GetDonation(gomock.Any(), s.donorID, id).
		Return(nil, dErrors.New(dErrors.CodeNotFound, "donation not found"))

	rec := s.do(http.MethodGet, "/donations/"+id.String(), "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.Contains(rec.Body.String(), "donation not found")
}

func (s *LedgerHandlerSuite) TestGetRejectsBadID() {
	rec := s.do(http.MethodGet, "/donations/not-a-uuid", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *LedgerHandlerSuite) TestUpdate() {
	id := domain.NewDonationID()
	s.service.EXPECT().UpdateDonation(gomock.Any(), s.donorID, id, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.DonorID, _ domain.DonationID, e models.DonationEdit) (*models.Donation, error) {
			s.Require().NotNil(e.Quantity)
			s.Equal(2.5, e.Quantity.Amount)
			s.Nil(e.FoodName)
			return &models.Donation{ID: id, Quantity: *e.Quantity}, nil
		})

	rec := s.do(http.MethodPatch, "/donations/"+id.String(), `{"quantity":"2.5 L"}`)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *LedgerHandlerSuite) TestListEmptyIsArray() {
	s.service.EXPECT().ListDonations(gomock.Any(), s.donorID).Return(nil, nil)
	rec := s.do(http.MethodGet, "/donations", "")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"donations":[]}`, rec.Body.String())
}

func (s *LedgerHandlerSuite) TestAvailableIsForRecipients() {
	rec := s.do(http.MethodGet, "/available", "")
	s.Equal(http.StatusForbidden, rec.Code)

	s.actor = domain.Actor{ID: uuid.NewString(), Role: domain.RoleRecipient, Name: "Ravi"}
	s.service.EXPECT().ListAvailable(gomock.Any()).Return([]*models.Donation{{FoodName: "Idli"}}, nil)
	rec = s.do(http.MethodGet, "/available", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Idli")

	rec = s.do(http.MethodPost, "/donations", `{}`)
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *LedgerHandlerSuite) TestImageUpload() {
	s.service.EXPECT().RequestImageUpload(gomock.Any(), s.donorID, "image/png").
		Return(&ledger.ImageUpload{Ref: "s3://b/k", UploadURL: "https://b/k", ExpiresAt: time.Unix(0, 0).UTC()}, nil)
	rec := s.do(http.MethodPost, "/donations/images", `{"content_type":"image/png"}`)
	s.Equal(http.StatusCreated, rec.Code)
	s.Contains(rec.Body.String(), `"image_ref":"s3://b/k"`)
}

func TestRetryableErrorsAdvertiseRetryAfter(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().ListAvailable(gomock.Any()).Return(nil, dErrors.New(dErrors.CodeUnavailable, "record store unavailable"))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			actor := domain.Actor{ID: uuid.NewString(), Role: domain.RoleVolunteer}
			next.ServeHTTP(w, req.WithContext(requestcontext.WithActor(req.Context(), actor)))
		})
	})
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/available", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
