package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xu-registrar/doctrack/internal/audit"
	"github.com/xu-registrar/doctrack/internal/rbac"
)

// IDPrefix marks every request id.
const IDPrefix = "req_"

const trackingAttempts = 5

// Permission denial messages.
const (
	msgCreateDenied = "You do not have permission to create requests"
	msgUpdateDenied = "You do not have permission to update request status"
	msgReadDenied   = "You do not have permission to view requests"
)

// Notifier delivers status notifications to applicants.
type Notifier interface {
	NotifyStatus(ctx context.Context, n StatusNotification) error
}

// StatusNotification describes a status change worth telling the applicant about.
type StatusNotification struct {
	RequestID    string    `json:"requestId"`
	TrackingCode string    `json:"trackingCode"`
	Status       Status    `json:"status"`
	EmailAddress string    `json:"emailAddress"`
	UpdatedBy    string    `json:"updatedBy"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Auditor receives request management events.
type Auditor interface {
	Record(ctx context.Context, eventType, action string, details map[string]any)
}

// Config wires Service dependencies.
type Config struct {
	Repository Repository
	Validator  *Validator
	Notifier   Notifier
	Audit      Auditor
	Logger     *slog.Logger
	Clock      func() time.Time
	// Numbers supplies the number part of new tracking codes.
	Numbers NumberSource
}

// Service validates and manages document requests.
type Service struct {
	repo      Repository
	validator *Validator
	notifier  Notifier
	audit     Auditor
	logger    *slog.Logger
	clock     func() time.Time
	numbers   NumberSource
}

// NewService constructs a Service.
func NewService(cfg Config) *Service {
	s := &Service{
		repo:      cfg.Repository,
		validator: cfg.Validator,
		notifier:  cfg.Notifier,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		numbers:   cfg.Numbers,
	}
	if s.repo == nil {
		s.repo = NewMemoryRepository()
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if s.validator == nil {
		s.validator = NewValidator(ValidatorConfig{Clock: s.clock})
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.numbers == nil {
		s.numbers = RandomNumber
	}
	return s
}

type sections struct {
	student   ValidationResult[StudentDetails]
	documents ValidationResult[RequestedDocuments]
	other     ValidationResult[OtherDetails]
	remarks   ValidationResult[Remarks]
}

func (s sections) errors() []string {
	var out []string
	out = append(out, s.student.Errors...)
	out = append(out, s.documents.Errors...)
	out = append(out, s.other.Errors...)
	out = append(out, s.remarks.Errors...)
	return out
}

// validate runs the four section validators concurrently.
func (s *Service) validate(ctx context.Context, in CreateInput) (sections, error) {
	var res sections
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res.student = s.validator.ValidateStudent(in.StudentDetails)
		return nil
	})
	g.Go(func() error {
		res.documents = s.validator.ValidateDocuments(in.RequestedDocuments)
		return nil
	})
	g.Go(func() error {
		other, err := s.validator.ValidateOtherDetails(ctx, in.OtherDetails, s.repo.ControlNumberExists)
		if err != nil {
			return fmt.Errorf("check control number: %w", err)
		}
		res.other = other
		return nil
	})
	g.Go(func() error {
		res.remarks = s.validator.ValidateRemarks(in.Remarks)
		return nil
	})
	if err := g.Wait(); err != nil {
		return sections{}, err
	}
	return res, nil
}

// Create validates every section and stores a new request. Nothing is stored when any
// section fails; the error is then a *ValidationError listing every message.
func (s *Service) Create(ctx context.Context, caller Caller, in CreateInput) (*Request, error) {
	if err := requirePermission(caller, rbac.PermCreateRequests, msgCreateDenied); err != nil {
		return nil, err
	}
	res, err := s.validate(ctx, in)
	if err != nil {
		return nil, err
	}
	if errs := res.errors(); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	now := s.clock()
	email := caller.PrincipalEmail()
	req := &Request{
		ID:                 IDPrefix + uuid.NewString(),
		ControlNumber:      res.other.Sanitized.ControlNumber,
		Status:             StatusReceived,
		StudentDetails:     *res.student.Sanitized,
		RequestedDocuments: *res.documents.Sanitized,
		OtherDetails:       *res.other.Sanitized,
		Remarks:            *res.remarks.Sanitized,
		StatusHistory:      []HistoryEntry{{Status: StatusReceived, UpdatedBy: email, UpdatedAt: now}},
		CreatedBy:          email,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for attempt := 1; ; attempt++ {
		req.TrackingCode = TrackingCode(req.StudentDetails.LastName, s.numbers())
		err = s.repo.Insert(ctx, req)
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, ErrDuplicateControlNumber):
			return nil, &ValidationError{Errors: []string{"Control number already exists"}}
		case errors.Is(err, ErrDuplicateTrackingCode) && attempt < trackingAttempts:
			continue
		}
		return nil, fmt.Errorf("insert request: %w", err)
	}

	s.record(ctx, "REQUEST_CREATED", map[string]any{
		"requestId":     req.ID,
		"trackingCode":  req.TrackingCode,
		"controlNumber": req.ControlNumber,
		"createdBy":     email,
	})
	s.logger.Info("request created",
		slog.String("request_id", req.ID),
		slog.String("tracking_code", req.TrackingCode),
		slog.String("created_by", email),
	)
	return req.Clone(), nil
}

// UpdateStatus moves a request to status, appending to its history.
func (s *Service) UpdateStatus(ctx context.Context, caller Caller, id string, status Status) (*Request, error) {
	if err := requirePermission(caller, rbac.PermUpdateRequestStatus, msgUpdateDenied); err != nil {
		return nil, err
	}
	now := s.clock()
	email := caller.PrincipalEmail()
	var previous Status
	updated, err := s.repo.Update(ctx, id, func(req *Request) error {
		if err := CheckTransition(req.Status, status); err != nil {
			return err
		}
		previous = req.Status
		req.Status = status
		req.UpdatedBy = email
		req.UpdatedAt = now
		req.StatusHistory = append(req.StatusHistory, HistoryEntry{Status: status, UpdatedBy: email, UpdatedAt: now})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, "STATUS_UPDATED", map[string]any{
		"requestId": id,
		"from":      string(previous),
		"to":        string(status),
		"updatedBy": email,
	})
	if status == StatusReady && previous != StatusReady {
		s.notify(ctx, updated)
	}
	return updated, nil
}

func (s *Service) notify(ctx context.Context, req *Request) {
	if s.notifier == nil || req.OtherDetails.EmailAddress == "" {
		return
	}
	n := StatusNotification{
		RequestID:    req.ID,
		TrackingCode: req.TrackingCode,
		Status:       req.Status,
		EmailAddress: req.OtherDetails.EmailAddress,
		UpdatedBy:    req.UpdatedBy,
		UpdatedAt:    req.UpdatedAt,
	}
	if err := s.notifier.NotifyStatus(ctx, n); err != nil {
		s.logger.Warn("enqueue status notification", slog.String("request_id", req.ID), slog.Any("error", err))
	}
}

// Get returns a request the caller may read. Callers limited to assigned requests get
// ErrNotFound for anything not assigned to them.
func (s *Service) Get(ctx context.Context, caller Caller, id string) (*Request, error) {
	all, err := readScope(caller)
	if err != nil {
		return nil, err
	}
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !all && !strings.EqualFold(req.StudentDetails.Evaluator, caller.PrincipalEmail()) {
		return nil, ErrNotFound
	}
	return req, nil
}

// List returns requests visible to the caller, newest first.
func (s *Service) List(ctx context.Context, caller Caller, status Status) ([]*Request, error) {
	all, err := readScope(caller)
	if err != nil {
		return nil, err
	}
	filter := ListFilter{Status: status}
	if !all {
		filter.Evaluator = caller.PrincipalEmail()
	}
	return s.repo.List(ctx, filter)
}

// Track runs the public tracking search.
func (s *Service) Track(ctx context.Context, input string) (TrackingView, error) {
	code, err := normalizeTrackingCode(input)
	if err != nil {
		return TrackingView{}, err
	}
	surname, number := splitTrackingCode(code)
	req, err := s.repo.GetByTrackingNumber(ctx, number)
	if errors.Is(err, ErrNotFound) {
		return TrackingView{}, trackingNotFound(strings.TrimSpace(input))
	}
	if err != nil {
		return TrackingView{}, err
	}
	if owner, _ := splitTrackingCode(req.TrackingCode); owner != surname {
		return TrackingView{}, ErrSurnameMismatch
	}
	return trackingView(req), nil
}

// Seed stores fixed records, skipping any whose control number is already used.
func (s *Service) Seed(ctx context.Context, records []*Request) (int, error) {
	inserted := 0
	for _, req := range records {
		err := s.repo.Insert(ctx, req)
		switch {
		case err == nil:
			inserted++
		case errors.Is(err, ErrDuplicateControlNumber), errors.Is(err, ErrDuplicateTrackingCode), errors.Is(err, ErrDuplicateID):
		default:
			return inserted, fmt.Errorf("seed %s: %w", req.TrackingCode, err)
		}
	}
	return inserted, nil
}

func (s *Service) record(ctx context.Context, action string, details map[string]any) {
	if s.audit != nil {
		s.audit.Record(ctx, audit.TypeRequestManagement, action, details)
	}
}

func requirePermission(caller Caller, permission, message string) error {
	if caller == nil {
		return ErrUnauthenticated
	}
	if !caller.Can(permission) {
		return &PermissionError{Message: message}
	}
	return nil
}

func readScope(caller Caller) (all bool, err error) {
	if caller == nil {
		return false, ErrUnauthenticated
	}
	switch {
	case caller.Can(rbac.PermReadAllRequests):
		return true, nil
	case caller.Can(rbac.PermReadAssignedRequests):
		return false, nil
	}
	return false, &PermissionError{Message: msgReadDenied}
}
