// Package web provides HTTP handlers and REST API endpoints for the review
// lifecycle engine.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/reviewloop/reviewloop/pkg/events"
	"github.com/reviewloop/reviewloop/pkg/models"
	"github.com/reviewloop/reviewloop/pkg/persistence"
	"github.com/reviewloop/reviewloop/pkg/services"
)

type APIHandlers struct {
	flowService      *services.Flow
	escalationSvc    *services.Escalation
	incentiveService *services.Incentive
	milestoneService *services.Milestone
	persistence      persistence.Persistence
	validator        *validator.Validate
}

func NewAPIHandlers(
	flowService *services.Flow,
	escalationSvc *services.Escalation,
	incentiveService *services.Incentive,
	milestoneService *services.Milestone,
	p persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		flowService:      flowService,
		escalationSvc:    escalationSvc,
		incentiveService: incentiveService,
		milestoneService: milestoneService,
		persistence:      p,
		validator:        validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Reviewloop API is healthy"
	httpStatus := http.StatusOK

	repositoryErr := h.persistence.HealthCheck(c.Context())
	if repositoryErr != nil {
		status = "unhealthy"
		message = "Reviewloop API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	flows, err := h.flowService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"flows":       flows,
		"total_count": len(flows),
	})
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	flow, err := h.flowService.Get(c.Context(), id)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return notFound(c, "Flow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.flowService.Create(c.Context(), req.Name, models.Channel(req.Channel))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *APIHandlers) ImportFlow(c fiber.Ctx) error {
	flow, err := h.flowService.Import(c.Context(), c.Body())
	if err != nil {
		if models.IsInvalidFlowDefinition(err) {
			return badRequest(c, err.Error())
		}

		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

// UpdateFlowStep merges configuration into one step. Unknown flow or step
// ids are accepted and ignored.
func (h *APIHandlers) UpdateFlowStep(c fiber.Ctx) error {
	id := c.Params("id")
	stepID := c.Params("stepId")

	if id == "" || stepID == "" {
		return badRequest(c, "Flow ID and step ID are required")
	}

	var req UpdateStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.flowService.UpdateStep(c.Context(), id, stepID, req.Config); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) UpdateFlowTemplates(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	var patch services.TemplatePatch
	if err := c.Bind().JSON(&patch); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	flow, err := h.flowService.UpdateTemplates(c.Context(), id, patch)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return notFound(c, "Flow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) ToggleFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	flow, err := h.flowService.ToggleStatus(c.Context(), id)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return notFound(c, "Flow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) UpdateFlowDelay(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	var req UpdateDelayRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.flowService.UpdateDelay(c.Context(), id, req.Hours); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetEscalations(c fiber.Ctx) error {
	filters := services.EscalationFilters{}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.EscalationStatus(statusStr)
		filters.Status = &status
	}

	if priorityStr := c.Query("priority"); priorityStr != "" {
		priority := models.EscalationPriority(priorityStr)
		filters.Priority = &priority
	}

	if assignee := c.Query("assignee_id"); assignee != "" {
		filters.AssigneeID = &assignee
	}

	if overdueStr := c.Query("overdue"); overdueStr != "" {
		overdue, err := strconv.ParseBool(overdueStr)
		if err != nil {
			return badRequest(c, "Invalid overdue parameter")
		}

		filters.Overdue = &overdue
	}

	escalations, err := h.escalationSvc.List(c.Context(), filters)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"escalations": escalations,
		"total_count": len(escalations),
	})
}

func (h *APIHandlers) GetEscalationStats(c fiber.Ctx) error {
	stats, err := h.escalationSvc.Stats(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetEscalation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Escalation ID is required")
	}

	escalation, err := h.escalationSvc.Get(c.Context(), id)
	if err != nil {
		if persistence.IsEscalationNotFound(err) {
			return notFound(c, "Escalation not found")
		}

		return internalError(c, err)
	}

	return c.JSON(escalation)
}

func (h *APIHandlers) CreateEscalation(c fiber.Ctx) error {
	var req CreateEscalationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	serviceReq := services.CreateEscalationRequest{
		ReviewID:   req.ReviewID,
		CustomerID: req.CustomerID,
		Rating:     req.Rating,
		Content:    req.Content,
		Deadline:   req.Deadline,
	}
	if req.Priority != nil {
		priority := models.EscalationPriority(*req.Priority)
		serviceReq.Priority = &priority
	}

	escalation, err := h.escalationSvc.Create(c.Context(), serviceReq)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(escalation)
}

func (h *APIHandlers) UpdateEscalation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Escalation ID is required")
	}

	var patch services.UpdateEscalationPatch
	if err := c.Bind().JSON(&patch); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(patch); err != nil {
		return badRequest(c, err.Error())
	}

	escalation, err := h.escalationSvc.Update(c.Context(), id, patch)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(escalation)
}

func (h *APIHandlers) AddEscalationNote(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Escalation ID is required")
	}

	var req AddNoteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	escalation, err := h.escalationSvc.AddNote(c.Context(), id, req.Text, req.AuthorID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(escalation)
}

func (h *APIHandlers) AssignEscalation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Escalation ID is required")
	}

	var req AssignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	escalation, err := h.escalationSvc.Assign(c.Context(), id, req.UserID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(escalation)
}

func (h *APIHandlers) ResolveEscalation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Escalation ID is required")
	}

	var req ResolveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	escalation, err := h.escalationSvc.Resolve(c.Context(), id, models.ResolutionType(req.Type), req.Content)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(escalation)
}

func (h *APIHandlers) CreateIncentive(c fiber.Ctx) error {
	var req CreateIncentiveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	incentive, err := h.incentiveService.Create(c.Context(), req.toService())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(incentive)
}

func (h *APIHandlers) BulkCreateIncentives(c fiber.Ctx) error {
	var req BulkCreateIncentivesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	incentives, err := h.incentiveService.BulkCreate(c.Context(), req.toService(), req.Count)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"incentives":  incentives,
		"total_count": len(incentives),
	})
}

func (h *APIHandlers) GetIncentives(c fiber.Ctx) error {
	filters, err := parseIncentiveFilters(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	incentives, err := h.incentiveService.List(c.Context(), filters)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"incentives":  incentives,
		"total_count": len(incentives),
	})
}

func parseIncentiveFilters(c fiber.Ctx) (services.IncentiveFilters, error) {
	filters := services.IncentiveFilters{}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.IncentiveStatus(statusStr)
		filters.Status = &status
	}

	if typeStr := c.Query("type"); typeStr != "" {
		incentiveType := models.IncentiveType(typeStr)
		filters.Type = &incentiveType
	}

	if customerID := c.Query("customer_id"); customerID != "" {
		filters.CustomerID = &customerID
	}

	if campaignID := c.Query("campaign_id"); campaignID != "" {
		filters.CampaignID = &campaignID
	}

	if minStr := c.Query("min_value"); minStr != "" {
		minValue, err := strconv.ParseFloat(minStr, 64)
		if err != nil {
			return filters, err
		}

		filters.MinValue = &minValue
	}

	if maxStr := c.Query("max_value"); maxStr != "" {
		maxValue, err := strconv.ParseFloat(maxStr, 64)
		if err != nil {
			return filters, err
		}

		filters.MaxValue = &maxValue
	}

	if afterStr := c.Query("created_after"); afterStr != "" {
		after, err := time.Parse(time.RFC3339, afterStr)
		if err != nil {
			return filters, err
		}

		filters.CreatedAfter = &after
	}

	if beforeStr := c.Query("created_before"); beforeStr != "" {
		before, err := time.Parse(time.RFC3339, beforeStr)
		if err != nil {
			return filters, err
		}

		filters.CreatedBefore = &before
	}

	return filters, nil
}

func (h *APIHandlers) GetIncentiveStats(c fiber.Ctx) error {
	stats, err := h.incentiveService.Stats(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetIncentive(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Incentive ID is required")
	}

	incentive, err := h.incentiveService.Get(c.Context(), id)
	if err != nil {
		if persistence.IsIncentiveNotFound(err) {
			return notFound(c, "Incentive not found")
		}

		return internalError(c, err)
	}

	return c.JSON(incentive)
}

func (h *APIHandlers) SendIncentive(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Incentive ID is required")
	}

	var req SendIncentiveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	incentive, err := h.incentiveService.Send(c.Context(), id, req.CustomerID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(incentive)
}

func (h *APIHandlers) RedeemIncentive(c fiber.Ctx) error {
	var req RedeemRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	incentive, err := h.incentiveService.Redeem(c.Context(), req.Code)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(incentive)
}

func (h *APIHandlers) ExpireIncentive(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Incentive ID is required")
	}

	incentive, err := h.incentiveService.Expire(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(incentive)
}

func (h *APIHandlers) DetectMilestones(c fiber.Ctx) error {
	var req DetectMilestonesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	milestones, err := h.milestoneService.Detect(c.Context(), req.Current, req.Previous)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"milestones":  milestones,
		"total_count": len(milestones),
	})
}

func (h *APIHandlers) GetMilestones(c fiber.Ctx) error {
	filters := services.MilestoneFilters{}

	if typeStr := c.Query("type"); typeStr != "" {
		milestoneType := models.MilestoneType(typeStr)
		filters.Type = &milestoneType
	}

	if achievedStr := c.Query("achieved"); achievedStr != "" {
		achieved, err := strconv.ParseBool(achievedStr)
		if err != nil {
			return badRequest(c, "Invalid achieved parameter")
		}

		filters.Achieved = &achieved
	}

	if fromStr, toStr := c.Query("from"), c.Query("to"); fromStr != "" && toStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return badRequest(c, "Invalid from parameter")
		}

		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return badRequest(c, "Invalid to parameter")
		}

		filters.From = &from
		filters.To = &to
	}

	milestones, err := h.milestoneService.GetMilestones(c.Context(), filters)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"milestones":  milestones,
		"total_count": len(milestones),
	})
}

func (h *APIHandlers) GetMilestoneProgress(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Milestone ID is required")
	}

	currentStr := c.Query("current_value")
	if currentStr == "" {
		return badRequest(c, "current_value query parameter is required")
	}

	currentValue, err := strconv.ParseFloat(currentStr, 64)
	if err != nil {
		return badRequest(c, "Invalid current_value parameter")
	}

	progress, err := h.milestoneService.GetProgress(c.Context(), id, currentValue)
	if err != nil {
		if persistence.IsMilestoneNotFound(err) {
			return notFound(c, "Milestone not found")
		}

		return internalError(c, err)
	}

	return c.JSON(progress)
}

// AppointmentCompleted is the HTTP intake for a finished customer
// appointment; it schedules the flow's deferred solicitation.
func (h *APIHandlers) AppointmentCompleted(c fiber.Ctx) error {
	var req AppointmentCompletedRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := events.AppointmentCompleted{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.AppointmentCompletedEvent,
			Timestamp: time.Now(),
		},
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		Address:      req.Address,
		Channel:      models.Channel(req.Channel),
	}

	if err := h.flowService.HandleTrigger(c.Context(), event); err != nil {
		if persistence.IsFlowNotFound(err) {
			return notFound(c, "No flow configured for channel")
		}

		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"event_id": event.ID})
}

// FeedbackReceived is the HTTP intake for a rating response; it branches
// the flow and kicks off escalation or incentive hand-offs.
func (h *APIHandlers) FeedbackReceived(c fiber.Ctx) error {
	var req FeedbackReceivedRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := events.FeedbackReceived{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.FeedbackReceivedEvent,
			Timestamp: time.Now(),
		},
		FlowID:       req.FlowID,
		ReviewID:     req.ReviewID,
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		Address:      req.Address,
		Channel:      models.Channel(req.Channel),
		Rating:       req.Rating,
		Comment:      req.Comment,
	}

	if err := h.flowService.HandleRating(c.Context(), event); err != nil {
		if persistence.IsFlowNotFound(err) {
			return notFound(c, "No flow configured for channel")
		}

		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"event_id": event.ID})
}

// RatingLink handles the rating links embedded in solicitation messages.
// It converts the click into a feedback event.
func (h *APIHandlers) RatingLink(c fiber.Ctx) error {
	flowID := c.Params("flowId")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	rating, err := strconv.Atoi(c.Query("rating"))
	if err != nil || rating < 1 || rating > 5 {
		return badRequest(c, "Rating must be between 1 and 5")
	}

	customerID := c.Query("customer")
	if customerID == "" {
		return badRequest(c, "Customer is required")
	}

	flow, err := h.flowService.Get(c.Context(), flowID)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return notFound(c, "Flow not found")
		}

		return internalError(c, err)
	}

	event := events.FeedbackReceived{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.FeedbackReceivedEvent,
			Timestamp: time.Now(),
		},
		FlowID:     flowID,
		ReviewID:   uuid.New().String(),
		CustomerID: customerID,
		Channel:    flow.Channel,
		Rating:     rating,
	}

	if err := h.flowService.HandleRating(c.Context(), event); err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"review_id": event.ReviewID,
		"rating":    rating,
		"message":   "Thank you for your feedback!",
	})
}
