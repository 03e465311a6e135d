package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"assetflow/internal/model"
	"assetflow/internal/policy"
	"assetflow/internal/repository"
	"assetflow/pkg/pagination"

	"golang.org/x/crypto/bcrypt"
)

// DTOs for Request validation
type LoginRequest struct {
	EmployeeCode string `json:"employee_code" binding:"required"`
	Password     string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type CreateUserRequest struct {
	EmployeeCode  string `json:"employee_code" binding:"required,min=4,max=20"`
	Name          string `json:"name" binding:"required,max=100"`
	Email         string `json:"email"`
	Password      string `json:"password" binding:"required,min=6"`
	Role          string `json:"role" binding:"required"`
	SalesOffice   string `json:"so"`
	DistributorID *uint  `json:"distributor_id"`
}

// UpdateUserRequest replaces every field; an empty password keeps the current one.
type UpdateUserRequest struct {
	EmployeeCode  string `json:"employee_code" binding:"required,min=4,max=20"`
	Name          string `json:"name" binding:"required,max=100"`
	Email         string `json:"email"`
	Password      string `json:"password" binding:"omitempty,min=6"`
	Role          string `json:"role" binding:"required"`
	SalesOffice   string `json:"so"`
	DistributorID *uint  `json:"distributor_id"`
}

type UserListFilter struct {
	Page   int
	Limit  int
	Search string
	Sort   string
	Order  string
}

// UserResponse never carries the password hash.
type UserResponse struct {
	ID            uint    `json:"id"`
	EmployeeCode  string  `json:"employee_code"`
	Name          string  `json:"name"`
	Email         *string `json:"email"`
	Role          string  `json:"role"`
	SalesOffice   string  `json:"so"`
	DistributorID *uint   `json:"distributor_id"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// TokenIssuer signs a session token for an authenticated actor.
type TokenIssuer interface {
	IssueToken(actor policy.Actor) (string, error)
}

// UserService covers sign-in and the admin user directory.
type UserService interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Me(ctx context.Context, actor policy.Actor) (*UserResponse, error)
	List(ctx context.Context, actor policy.Actor, f UserListFilter) ([]UserResponse, int64, error)
	Get(ctx context.Context, actor policy.Actor, id uint) (*UserResponse, error)
	Create(ctx context.Context, actor policy.Actor, req CreateUserRequest) (*UserResponse, error)
	Update(ctx context.Context, actor policy.Actor, id uint, req UpdateUserRequest) (*UserResponse, error)
	Delete(ctx context.Context, actor policy.Actor, id uint) error
}

type userService struct {
	txManager    repository.TransactionManager
	users        repository.UserRepository
	distributors repository.DistributorRepository
	audit        repository.AuditRepository
	tokens       TokenIssuer
}

// NewUserService returns a new instance of UserService
func NewUserService(
	txManager repository.TransactionManager,
	users repository.UserRepository,
	distributors repository.DistributorRepository,
	audit repository.AuditRepository,
	tokens TokenIssuer,
) UserService {
	return &userService{
		txManager:    txManager,
		users:        users,
		distributors: distributors,
		audit:        audit,
		tokens:       tokens,
	}
}

func mapUserResponse(u *model.User) *UserResponse {
	return &UserResponse{
		ID:            u.ID,
		EmployeeCode:  u.EmployeeCode,
		Name:          u.Name,
		Email:         u.Email,
		Role:          u.Role,
		SalesOffice:   u.SalesOffice,
		DistributorID: u.DistributorID,
		CreatedAt:     u.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     u.UpdatedAt.Format(time.RFC3339),
	}
}

// ActorOf derives the authorization identity carried in a session token.
func ActorOf(u *model.User) policy.Actor {
	role, _ := policy.ParseRole(u.Role)
	actor := policy.Actor{ID: u.ID, Role: role}
	if role == policy.RoleDB {
		actor.DistributorID = u.DistributorID
	}
	return actor
}

func requireAdmin(actor policy.Actor) error {
	if actor.Role != policy.RoleAdmin {
		return fmt.Errorf("%w: admin access required", ErrForbidden)
	}
	return nil
}

func (s *userService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.users.GetByEmployeeCode(ctx, strings.TrimSpace(req.EmployeeCode))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid employee code or password", ErrUnauthorized)
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("%w: invalid employee code or password", ErrUnauthorized)
	}

	actor := ActorOf(user)
	if !actor.Role.Valid() {
		return nil, fmt.Errorf("%w: account has no usable role", ErrForbidden)
	}

	token, err := s.tokens.IssueToken(actor)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &LoginResponse{Token: token, User: *mapUserResponse(user)}, nil
}

func (s *userService) Me(ctx context.Context, actor policy.Actor) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, lookupErr(err, "user")
	}
	return mapUserResponse(user), nil
}

func (s *userService) List(ctx context.Context, actor policy.Actor, f UserListFilter) ([]UserResponse, int64, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	page := pagination.Bound(f.Page, f.Limit)
	f.Page, f.Limit = page.Page, page.Limit

	users, total, err := s.users.List(ctx, repository.UserFilter{
		Search: strings.TrimSpace(f.Search),
		Sort:   f.Sort,
		Order:  f.Order,
		Offset: page.Offset,
		Limit:  f.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapUserResponse(&users[i]))
	}
	return responses, total, nil
}

func (s *userService) Get(ctx context.Context, actor policy.Actor, id uint) (*UserResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, fmt.Sprintf("user %d", id))
	}
	return mapUserResponse(user), nil
}

// userFields is the validated form shared by create and update.
type userFields struct {
	code          string
	name          string
	email         *string
	role          policy.Role
	salesOffice   string
	distributorID *uint
}

func (s *userService) validateUser(ctx context.Context, selfID uint, code, name, email, role, so string, distributorID *uint) (*userFields, error) {
	f := &userFields{
		code:        strings.TrimSpace(code),
		name:        strings.TrimSpace(name),
		salesOffice: strings.TrimSpace(so),
	}
	if n := len(f.code); n < 4 || n > 20 {
		return nil, validationf("employee code must be 4 to 20 characters")
	}
	if f.name == "" {
		return nil, validationf("name is required")
	}

	r, ok := policy.ParseRole(role)
	if !ok {
		return nil, validationf("role must be one of SE, BM, RH, DB, Admin")
	}
	f.role = r

	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		if _, err := mail.ParseAddress(e); err != nil {
			return nil, validationf("invalid email format")
		}
		f.email = &e
	}

	if existing, err := s.users.GetByEmployeeCode(ctx, f.code); err == nil && existing.ID != selfID {
		return nil, conflictf("employee code %s already exists", f.code)
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if f.email != nil {
		if existing, err := s.users.GetByEmail(ctx, *f.email); err == nil && existing.ID != selfID {
			return nil, conflictf("email %s already exists", *f.email)
		} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	// A distributor link only means something for distributor logins.
	if f.role == policy.RoleDB {
		if distributorID == nil {
			return nil, validationf("a distributor is required for DB users")
		}
		if _, err := s.distributors.GetByID(ctx, *distributorID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, validationf("distributor %d does not exist", *distributorID)
			}
			return nil, err
		}
		f.distributorID = distributorID
	}

	return f, nil
}

func (s *userService) Create(ctx context.Context, actor policy.Actor, req CreateUserRequest) (*UserResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if len(req.Password) < 6 {
		return nil, validationf("password must be at least 6 characters")
	}

	f, err := s.validateUser(ctx, 0, req.EmployeeCode, req.Name, req.Email, req.Role, req.SalesOffice, req.DistributorID)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		EmployeeCode:  f.code,
		Name:          f.name,
		Email:         f.email,
		Role:          f.role.String(),
		PasswordHash:  string(hash),
		SalesOffice:   f.salesOffice,
		DistributorID: f.distributorID,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.users.Create(txCtx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return conflictf("employee code or email already exists")
			}
			return err
		}
		return writeAudit(txCtx, s.audit, actor.ID, model.ActionCreateUser, user.ID, user.Name, map[string]interface{}{
			"employee_code": user.EmployeeCode,
			"role":          user.Role,
		})
	})
	if err != nil {
		return nil, err
	}

	return mapUserResponse(user), nil
}

func (s *userService) Update(ctx context.Context, actor policy.Actor, id uint, req UpdateUserRequest) (*UserResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, fmt.Sprintf("user %d", id))
	}

	f, err := s.validateUser(ctx, user.ID, req.EmployeeCode, req.Name, req.Email, req.Role, req.SalesOffice, req.DistributorID)
	if err != nil {
		return nil, err
	}

	if req.Password != "" {
		if len(req.Password) < 6 {
			return nil, validationf("password must be at least 6 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}

	previousRole := user.Role
	user.EmployeeCode = f.code
	user.Name = f.name
	user.Email = f.email
	user.Role = f.role.String()
	user.SalesOffice = f.salesOffice
	user.DistributorID = f.distributorID

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.users.Update(txCtx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return conflictf("employee code or email already exists")
			}
			return err
		}
		return writeAudit(txCtx, s.audit, actor.ID, model.ActionUpdateUser, user.ID, user.Name, map[string]interface{}{
			"role":             user.Role,
			"previous_role":    previousRole,
			"password_changed": req.Password != "",
		})
	})
	if err != nil {
		return nil, err
	}

	return mapUserResponse(user), nil
}

func (s *userService) Delete(ctx context.Context, actor policy.Actor, id uint) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if actor.ID == id {
		return conflictf("you cannot delete your own account")
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.users.GetByID(txCtx, id)
		if err != nil {
			return lookupErr(err, fmt.Sprintf("user %d", id))
		}

		refs, err := s.users.CountReferences(txCtx, id)
		if err != nil {
			return err
		}
		if refs.Requests > 0 {
			return conflictf("user %s is referenced by %d asset request(s)", user.Name, refs.Requests)
		}
		if refs.Distributors > 0 {
			return conflictf("user %s is assigned to %d distributor(s)", user.Name, refs.Distributors)
		}

		if err := s.users.Delete(txCtx, id); err != nil {
			return err
		}
		return writeAudit(txCtx, s.audit, actor.ID, model.ActionDeleteUser, id, user.Name, map[string]interface{}{
			"employee_code": user.EmployeeCode,
		})
	})
}
