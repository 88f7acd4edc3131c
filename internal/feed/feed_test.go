package feed

import (
	"bufio"
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

	"foodlink/internal/donation/models"
	"foodlink/internal/donation/store"
	"foodlink/internal/records"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/requestcontext"
)

func TestPathFor(t *testing.T) {
	donor := domain.Actor{ID: uuid.NewString(), Role: domain.RoleDonor}
	volunteer := domain.Actor{ID: uuid.NewString(), Role: domain.RoleVolunteer}

	p, err := PathFor(donor, FeedNotifications)
	require.NoError(t, err)
	assert.Equal(t, "donors/"+donor.ID+"/notifications", p.String())

	p, err = PathFor(volunteer, FeedTasks)
	require.NoError(t, err)
	assert.Equal(t, "volunteers/"+volunteer.ID+"/task", p.String())

	_, err = PathFor(volunteer, FeedSchedule)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = PathFor(donor, "everything")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestWatchStreamsChanges(t *testing.T) {
	rs := records.NewInMemoryStore(0)
	donations := store.NewDonations(rs)
	donorID := domain.DonorID(uuid.New())
	actor := domain.Actor{ID: donorID.String(), Role: domain.RoleDonor, Name: "Dana"}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(requestcontext.WithActor(req.Context(), actor)))
		})
	})
	New(rs, slog.New(slog.NewTextHandler(io.Discard, nil)), WithHeartbeat(time.Hour)).Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/watch/schedule", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	d, err := models.NewDonation(domain.NewDonationID(), actor, donorID, models.DonationDetails{
		FoodName: "Upma",
		FoodType: "Cooked",
		Quantity: models.Quantity{Amount: 3, Unit: "kg"},
		Window:   models.PickupWindow{Date: "2024-03-15", TimeFrom: "07:00", TimeTo: "08:00"},
		Location: models.Location{Address: "1 Lake Rd", Pincode: "600001"},
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, donations.Create(ctx, d))

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, "added", event)

	var e Event
	require.NoError(t, json.Unmarshal([]byte(data), &e))
	assert.Equal(t, d.ID.String(), e.ID)
	assert.Equal(t, int64(1), e.Version)
	assert.Equal(t, "Upma", e.Fields["foodName"])
}

func TestWatchRejectsOtherRolesFeeds(t *testing.T) {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			actor := domain.Actor{ID: uuid.NewString(), Role: domain.RoleRecipient}
			next.ServeHTTP(w, req.WithContext(requestcontext.WithActor(req.Context(), actor)))
		})
	})
	New(records.NewInMemoryStore(0), slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/watch/tasks", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
