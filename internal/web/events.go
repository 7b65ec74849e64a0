package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"homecal/internal/calendar"
	appLog "homecal/internal/log"
	"homecal/internal/model"
	"homecal/internal/store"
)

// eventDTO is the wire shape of an event definition. Instants are strings
// so clients may send zone-less local times for the event's zone.
type eventDTO struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Location       string   `json:"location,omitempty"`
	StartAt        string   `json:"start_at"`
	EndAt          string   `json:"end_at"`
	Timezone       string   `json:"timezone"`
	AllDay         bool     `json:"all_day"`
	RecurrenceRule string   `json:"recurrence_rule,omitempty"`
	ExceptionDates []string `json:"exception_dates"`
	AdditionDates  []string `json:"addition_dates"`
	Source         string   `json:"source"`
}

func toDTO(def model.EventDefinition) eventDTO {
	row := store.EncodeRow(def)
	return eventDTO{
		ID:             row.ID,
		Title:          row.Title,
		Description:    row.Description,
		Location:       row.Location,
		StartAt:        row.StartAt,
		EndAt:          row.EndAt,
		Timezone:       row.Timezone,
		AllDay:         row.AllDay,
		RecurrenceRule: row.RecurrenceRule,
		ExceptionDates: row.ExceptionDates,
		AdditionDates:  row.AdditionDates,
		Source:         row.Source,
	}
}

// decodeEvent reads and validates a request body. Unlike stored rows,
// API input is rejected outright on any bad value.
func decodeEvent(w http.ResponseWriter, r *http.Request, id string) (model.EventDefinition, error) {
	var in eventDTO
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return model.EventDefinition{}, fmt.Errorf("invalid JSON body: %w", err)
	}

	if in.Timezone != "" {
		if _, err := calendar.LoadZone(in.Timezone); err != nil {
			return model.EventDefinition{}, err
		}
	}

	def, dropped, err := store.EventRow{
		ID:             id,
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		Location:       in.Location,
		StartAt:        in.StartAt,
		EndAt:          in.EndAt,
		Timezone:       in.Timezone,
		AllDay:         in.AllDay,
		RecurrenceRule: strings.TrimSpace(in.RecurrenceRule),
		ExceptionDates: in.ExceptionDates,
		AdditionDates:  in.AdditionDates,
		Source:         model.SourceNative,
	}.Decode()
	if err != nil {
		return model.EventDefinition{}, err
	}
	if len(dropped) > 0 {
		return model.EventDefinition{}, errors.Join(dropped...)
	}
	if def.EndAt.Before(def.StartAt) {
		return model.EventDefinition{}, errors.New("end_at is before start_at")
	}
	if def.RecurrenceRule != "" {
		zone, _ := calendar.LoadZone(def.Timezone)
		if _, err := calendar.ParseRule(def.RecurrenceRule, def.StartAt, zone, nil, nil); err != nil {
			return model.EventDefinition{}, err
		}
	}
	return def, nil
}

func isImported(def model.EventDefinition) bool {
	return strings.HasPrefix(def.Source, model.SourceImported)
}

// handleCreateEvent stores a new native event under a fresh id.
//
// POST /api/events
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	def, err := decodeEvent(w, r, uuid.NewString())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.PutEvent(r.Context(), def); err != nil {
		s.writeServiceError(w, "create event", err)
		return
	}
	s.svc.InvalidateEvent(def)
	appLog.Info("event created", "id", def.ID, "recurring", def.IsRecurring())

	w.Header().Set("Location", "/api/events/"+def.ID)
	writeJSON(w, http.StatusCreated, toDTO(def))
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	def, err := s.store.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(def))
}

// handleUpdateEvent replaces an existing native event. Views holding the
// old and the new version are both invalidated.
//
// PUT /api/events/{id}
func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	old, err := s.store.GetEvent(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "update event", err)
		return
	}
	if isImported(old) {
		writeError(w, http.StatusConflict, "event is managed by a feed")
		return
	}
	def, err := decodeEvent(w, r, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.PutEvent(r.Context(), def); err != nil {
		s.writeServiceError(w, "update event", err)
		return
	}
	s.svc.InvalidateEvent(old)
	s.svc.InvalidateEvent(def)
	appLog.Info("event updated", "id", id)
	writeJSON(w, http.StatusOK, toDTO(def))
}

// handleDeleteEvent removes a native event.
//
// DELETE /api/events/{id}
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	old, err := s.store.GetEvent(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "delete event", err)
		return
	}
	if isImported(old) {
		writeError(w, http.StatusConflict, "event is managed by a feed")
		return
	}
	if err := s.store.DeleteEvent(r.Context(), id); err != nil {
		s.writeServiceError(w, "delete event", err)
		return
	}
	s.svc.InvalidateEvent(old)
	appLog.Info("event deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}
