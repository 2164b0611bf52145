package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rentmarket/internal/domain"
	"rentmarket/internal/models"
)

type createItemRequest struct {
	CategoryID  int64  `json:"category_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
}

type createReservationRequest struct {
	ItemID    int64  `json:"item_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type paymentRequest struct {
	Method string `json:"method"`
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type incidentRequest struct {
	Description string `json:"description"`
}

type advanceIncidentRequest struct {
	State string `json:"state"`
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return domain.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validationf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, domain.Validationf("invalid %s %q", name, raw)
	}
	return v, nil
}

func parseDates(start, end string) (time.Time, time.Time, error) {
	s, err := models.ParseDay(strings.TrimSpace(start))
	if err != nil {
		return time.Time{}, time.Time{}, domain.Validationf("invalid start_date %q; expected YYYY-MM-DD", start)
	}
	e, err := models.ParseDay(strings.TrimSpace(end))
	if err != nil {
		return time.Time{}, time.Time{}, domain.Validationf("invalid end_date %q; expected YYYY-MM-DD", end)
	}
	return s, e, nil
}

func (s *HTTPServer) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.svc.Items.ListCategories(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *HTTPServer) handleListItems(w http.ResponseWriter, r *http.Request) {
	filter, err := itemFilterFromQuery(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items, err := s.svc.Items.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func itemFilterFromQuery(r *http.Request) (models.ItemFilter, error) {
	var filter models.ItemFilter
	var err error
	if filter.CategoryID, err = queryInt(r, "category_id"); err != nil {
		return filter, err
	}
	if filter.OwnerID, err = queryInt(r, "owner_id"); err != nil {
		return filter, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return filter, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return filter, err
	}
	filter.Limit, filter.Offset = int(limit), int(offset)

	if raw := strings.TrimSpace(r.URL.Query().Get("published")); raw != "" {
		published, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, domain.Validationf("invalid published %q", raw)
		}
		filter.Published = &published
	}
	filter.Availability = models.AvailabilityState(strings.TrimSpace(r.URL.Query().Get("availability")))
	return filter, nil
}

func (s *HTTPServer) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	item, err := s.svc.Items.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleCreateItem(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	var body createItemRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	item := &models.Item{
		CategoryID:  body.CategoryID,
		Name:        body.Name,
		Description: body.Description,
		PriceCents:  body.PriceCents,
	}
	if err := s.svc.Items.CreateItem(r.Context(), actor, item); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handlePublishItem(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	s.itemAction(w, r, actor, s.svc.Items.Publish)
}

func (s *HTTPServer) handleRetireItem(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	s.itemAction(w, r, actor, s.svc.Items.Retire)
}

func (s *HTTPServer) itemAction(w http.ResponseWriter, r *http.Request, actor models.Actor,
	fn func(context.Context, models.Actor, int64) (*models.Item, error),
) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	item, err := fn(r.Context(), actor, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleListItemReservations(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	list, err := s.svc.Reservations.ListByItem(r.Context(), actor, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": list})
}

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	var body createReservationRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	start, end, err := parseDates(body.StartDate, body.EndDate)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	reservation, err := s.svc.Reservations.Create(r.Context(), actor, body.ItemID, start, end)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

func (s *HTTPServer) handleListReservations(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	renterID, err := queryInt(r, "renter_id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	list, err := s.svc.Reservations.ListByRenter(r.Context(), actor, renterID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": list})
}

func (s *HTTPServer) handleListPending(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	list, err := s.svc.Reservations.ListPendingForOwner(r.Context(), actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": list})
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	s.reservationAction(w, r, actor, s.svc.Reservations.Get)
}

func (s *HTTPServer) transitionHandler(fn func(context.Context, models.Actor, int64) (*models.Reservation, error)) actorHandler {
	return func(w http.ResponseWriter, r *http.Request, actor models.Actor) {
		s.reservationAction(w, r, actor, fn)
	}
}

func (s *HTTPServer) reservationAction(w http.ResponseWriter, r *http.Request, actor models.Actor,
	fn func(context.Context, models.Actor, int64) (*models.Reservation, error),
) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	reservation, err := fn(r.Context(), actor, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (s *HTTPServer) handleComputeAmount(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	// Сумму видят только участники брони
	if _, err := s.svc.Reservations.Get(r.Context(), actor, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	amount, err := s.svc.Payments.ComputeAmount(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservation_id": id, "amount_cents": amount})
}

func (s *HTTPServer) handleProcessPayment(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var body paymentRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	payment, err := s.svc.Payments.ProcessPayment(r.Context(), actor, id, body.Method)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *HTTPServer) handleListPayments(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	renterID, err := queryInt(r, "renter_id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	list, err := s.svc.Payments.ListByRenter(r.Context(), actor, renterID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": list})
}

func (s *HTTPServer) handleListReviews(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	list, err := s.svc.PostRental.ListReviewsByItem(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": list})
}

func (s *HTTPServer) handleReviewEligibility(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	eligible, err := s.svc.PostRental.IsReviewEligible(r.Context(), actor.UserID, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "eligible": eligible})
}

func (s *HTTPServer) handleCreateReview(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var body reviewRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	review, err := s.svc.PostRental.CreateReview(r.Context(), actor, id, body.Rating, body.Comment)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (s *HTTPServer) handleUpdateReview(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var body reviewRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	review, err := s.svc.PostRental.UpdateReview(r.Context(), actor, id, body.Rating, body.Comment)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (s *HTTPServer) handleDeleteReview(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.svc.PostRental.DeleteReview(r.Context(), actor, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleReportIncident(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var body incidentRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	incident, err := s.svc.PostRental.ReportIncident(r.Context(), actor, id, body.Description)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, incident)
}

func (s *HTTPServer) handleListIncidents(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	list, err := s.svc.PostRental.ListIncidents(r.Context(), actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": list})
}

func (s *HTTPServer) handleAdvanceIncident(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var body advanceIncidentRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	incident, err := s.svc.PostRental.AdvanceIncident(r.Context(), actor, id, models.IncidentState(strings.TrimSpace(body.State)))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (s *HTTPServer) handleCompleteDue(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	if !actor.IsAdmin() {
		s.writeServiceError(w, r, domain.Forbiddenf("only admins may run the completion sweep"))
		return
	}
	n, err := s.svc.Reservations.CompleteDue(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completed": n})
}
