// Package feed streams an actor's own subcollection to the client as
// Server-Sent Events so dashboards update without polling.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"foodlink/internal/donation/store"
	"foodlink/internal/records"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/platform/httputil"
	"foodlink/pkg/requestcontext"
)

// Feed names a watchable subcollection.
type Feed string

const (
	FeedSchedule      Feed = "schedule"
	FeedNotifications Feed = "notifications"
	FeedRequests      Feed = "requests"
	FeedTasks         Feed = "tasks"
)

const defaultHeartbeat = 15 * time.Second

// Watcher is the part of the record store the feed needs.
type Watcher interface {
	Watch(ctx context.Context, path records.Path) (<-chan records.Change, error)
}

// Event is the JSON payload of one SSE frame.
type Event struct {
	Type    records.ChangeType `json:"type"`
	ID      string             `json:"id,omitempty"`
	Version int64              `json:"version,omitempty"`
	Fields  records.Fields     `json:"fields,omitempty"`
}

type Handler struct {
	watcher   Watcher
	logger    *slog.Logger
	heartbeat time.Duration
}

type Option func(*Handler)

func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		h.heartbeat = d
	}
}

func New(watcher Watcher, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{watcher: watcher, logger: logger, heartbeat: defaultHeartbeat}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/watch/{feed}", h.handleWatch)
}

// PathFor resolves which of actor's subcollections feed refers to. Actors
// only ever watch their own records.
func PathFor(actor domain.Actor, feed Feed) (records.Path, error) {
	switch feed {
	case FeedSchedule, FeedNotifications:
		donor, err := actor.DonorID()
		if err != nil {
			return records.Path{}, err
		}
		if feed == FeedSchedule {
			return store.SchedulePath(donor), nil
		}
		return store.NotificationsPath(donor), nil
	case FeedRequests:
		recipient, err := actor.RecipientID()
		if err != nil {
			return records.Path{}, err
		}
		return store.RequestsPath(recipient), nil
	case FeedTasks:
		volunteer, err := actor.VolunteerID()
		if err != nil {
			return records.Path{}, err
		}
		return store.TasksPath(volunteer), nil
	default:
		return records.Path{}, dErrors.New(dErrors.CodeNotFound, "unknown feed "+string(feed))
	}
}

func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := PathFor(requestcontext.Actor(ctx), Feed(chi.URLParam(r, "feed")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}
	changes, err := h.watcher.Watch(ctx, path)
	if err != nil {
		h.logger.WarnContext(ctx, "watch failed", "path", path.String(), "error", err)
		httputil.WriteError(w, store.DomainError(err, "feed"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.DebugContext(ctx, "watch opened", "path", path.String())
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case c, ok := <-changes:
			if !ok {
				return
			}
			if err := writeEvent(w, toEvent(c)); err != nil {
				h.logger.DebugContext(ctx, "watch closed by client", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func toEvent(c records.Change) Event {
	e := Event{Type: c.Type, ID: c.Key.ID}
	if c.Doc != nil {
		e.Version = c.Doc.Version
		e.Fields = c.Doc.Fields
	}
	return e
}

func writeEvent(w http.ResponseWriter, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
