package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// ===== Error model (same shape as catalog/lending) =====

type Code string

const (
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeDeactivationBlocked Code = "DEACTIVATION_BLOCKED"
	CodeInternal            Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }

func ErrDeactivationBlocked(openLoans int) *APIError {
	return &APIError{
		Code:    CodeDeactivationBlocked,
		Message: fmt.Sprintf("member still holds %d open loan(s)", openLoans),
	}
}

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeConflict, CodeDeactivationBlocked:
			return 409
		default:
			return 500
		}
	}
	return 500
}

// ===== DTOs =====

type MemberResponse struct {
	MemberID    int64     `json:"member_id"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"is_active"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
	Address     *string   `json:"address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	OpenLoans   int       `json:"open_loans"`
}

func toDTO(m *Member) MemberResponse {
	resp := MemberResponse{
		MemberID:  m.MemberID,
		Username:  m.Username,
		Role:      m.Role,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		OpenLoans: m.OpenLoans,
	}
	if m.PhoneNumber.Valid {
		val := m.PhoneNumber.String
		resp.PhoneNumber = &val
	}
	if m.Address.Valid {
		val := m.Address.String
		resp.Address = &val
	}
	return resp
}

// ===== Service =====

type Service struct {
	store MemberStore
}

func NewService(db *sql.DB) *Service {
	return &Service{store: NewStore(db)}
}

func (s *Service) GetMember(ctx context.Context, id int64) (MemberResponse, error) {
	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		return MemberResponse{}, err
	}
	if m == nil {
		return MemberResponse{}, ErrNotFound("member not found")
	}
	return toDTO(m), nil
}

func (s *Service) ListMembers(ctx context.Context, role string, limit, offset int) ([]MemberResponse, error) {
	ms, err := s.store.List(ctx, role, limit, offset)
	if err != nil {
		return nil, err
	}
	res := make([]MemberResponse, 0, len(ms))
	for i := range ms {
		res = append(res, toDTO(&ms[i]))
	}
	return res, nil
}

// Deactivate blocks while the member holds any open loan. The store-level
// guard is authoritative; the re-read only produces a precise error message.
func (s *Service) Deactivate(ctx context.Context, id int64) (MemberResponse, error) {
	affected, err := s.store.DeactivateIfNoOpenLoans(ctx, id)
	if err != nil {
		return MemberResponse{}, err
	}

	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		return MemberResponse{}, err
	}
	if m == nil {
		return MemberResponse{}, ErrNotFound("member not found")
	}
	if affected == 0 {
		if m.OpenLoans > 0 {
			return MemberResponse{}, ErrDeactivationBlocked(m.OpenLoans)
		}
		if !m.IsActive {
			return MemberResponse{}, ErrConflict("member is already inactive")
		}
		return MemberResponse{}, ErrConflict("member state changed concurrently")
	}

	log.Printf("[INFO] member %s deactivated", m.Username)
	return toDTO(m), nil
}

func (s *Service) Activate(ctx context.Context, id int64) (MemberResponse, error) {
	affected, err := s.store.Activate(ctx, id)
	if err != nil {
		return MemberResponse{}, err
	}

	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		return MemberResponse{}, err
	}
	if m == nil {
		return MemberResponse{}, ErrNotFound("member not found")
	}
	if affected == 0 {
		return MemberResponse{}, ErrConflict("member is already active")
	}
	return toDTO(m), nil
}
