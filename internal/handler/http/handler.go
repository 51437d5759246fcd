package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"AuthPlatform/internal/domain"
	"AuthPlatform/internal/events"
	"AuthPlatform/internal/middleware"
	"AuthPlatform/internal/service"
	"AuthPlatform/pkg/database"
	"AuthPlatform/pkg/errors"
	"AuthPlatform/pkg/logger"
	"AuthPlatform/pkg/metrics"
	"AuthPlatform/pkg/validation"
)

const (
	defaultLimit = 10
	maxLimit     = 100
	maxBodyBytes = 1 << 20
	// размер VARCHAR колонок email и name
	maxFieldLength = 255
)

// Handler обработчики HTTP API
type Handler struct {
	auth      service.AuthService
	users     service.UserService
	tx        database.TxManager
	events    events.Publisher
	metrics   *metrics.Metrics
	validator *validation.Validator
	log       logger.Logger
}

// NewHandler создает новый экземпляр Handler
func NewHandler(
	auth service.AuthService,
	users service.UserService,
	tx database.TxManager,
	publisher events.Publisher,
	m *metrics.Metrics,
	log logger.Logger,
) *Handler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Handler{
		auth:      auth,
		users:     users,
		tx:        tx,
		events:    publisher,
		metrics:   m,
		validator: validation.NewValidator(),
		log:       log,
	}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateUserRequest struct {
	Name *string `json:"name,omitempty"`
	Role *string `json:"role,omitempty"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type loginUser struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
}

type loginResponse struct {
	Token string    `json:"token"`
	User  loginUser `json:"user"`
}

type userView struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Role      domain.Role `json:"role"`
	AuthID    string      `json:"authId"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

type listUsersResponse struct {
	Users      []userView `json:"users"`
	Pagination pagination `json:"pagination"`
}

type roleChangedResponse struct {
	Message string      `json:"message"`
	ID      string      `json:"id"`
	Role    domain.Role `json:"role"`
}

func newUserView(u *domain.User) userView {
	return userView{
		ID:        u.ID,
		Name:      u.Name,
		Role:      u.Role,
		AuthID:    u.AuthID,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Signup регистрирует пользователя. Обе записи создаются в одной транзакции
func (h *Handler) Signup(r *http.Request) (*middleware.Response, error) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}

	if err := h.validateSignup(&req); err != nil {
		h.recordAuth("signup", err)
		return nil, err
	}

	var user *domain.User
	err := h.tx.WithinTx(r.Context(), func(ctx context.Context, tx database.DBTX) error {
		var err error
		user, err = h.auth.Signup(ctx, tx, service.SignupInput{
			Email:    req.Email,
			Password: req.Password,
			Name:     req.Name,
			Role:     domain.Role(req.Role),
		})
		return err
	})
	h.recordAuth("signup", err)
	if err != nil {
		return nil, err
	}

	h.events.Publish(r.Context(), events.UserRegistered, events.NewUserPayload(user))
	h.log.Info("User registered",
		logger.CtxField(r.Context()),
		logger.String("user_id", user.ID),
		logger.String("role", string(user.Role)))

	return middleware.Created(messageResponse{Message: "User registered successfully"}), nil
}

// Login проверяет учетные данные и выпускает токен
func (h *Handler) Login(r *http.Request) (*middleware.Response, error) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}

	if err := h.validator.ValidateEmail(req.Email); err != nil {
		return nil, errors.Wrap(err, errors.ErrValidation, err.Error())
	}
	if err := h.validator.ValidateRequired(req.Password, "password"); err != nil {
		return nil, errors.Wrap(err, errors.ErrValidation, err.Error())
	}

	user, err := h.auth.ValidateCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		h.recordAuth("login", err)
		return nil, err
	}

	token, err := h.auth.IssueToken(user)
	h.recordAuth("login", err)
	if err != nil {
		return nil, err
	}

	return middleware.OK(loginResponse{
		Token: token,
		User: loginUser{
			ID:   user.ID,
			Name: user.Name,
			Role: user.Role,
		},
	}), nil
}

// ListUsers возвращает страницу профилей. limit ограничивается [1,100], offset не меньше 0
func (h *Handler) ListUsers(r *http.Request) (*middleware.Response, error) {
	query := r.URL.Query()

	limit, err := h.validator.ParseOptionalInt(query.Get("limit"), "limit", defaultLimit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrValidation, err.Error())
	}
	offset, err := h.validator.ParseOptionalInt(query.Get("offset"), "offset", 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrValidation, err.Error())
	}

	page := domain.Page{
		Limit:  validation.Clamp(limit, 1, maxLimit),
		Offset: max(offset, 0),
	}

	result, err := h.users.List(r.Context(), page)
	if err != nil {
		return nil, err
	}

	views := make([]userView, 0, len(result.Data))
	for _, u := range result.Data {
		views = append(views, newUserView(u))
	}

	return middleware.OK(listUsersResponse{
		Users: views,
		Pagination: pagination{
			Total:   result.Total,
			Limit:   page.Limit,
			Offset:  page.Offset,
			HasMore: result.HasMore,
		},
	}), nil
}

// GetMe возвращает профиль вызывающего
func (h *Handler) GetMe(r *http.Request) (*middleware.Response, error) {
	principal := middleware.PrincipalFrom(r.Context())

	user, err := h.users.Get(r.Context(), principal.ID)
	if err != nil {
		return nil, err
	}
	return middleware.OK(newUserView(user)), nil
}

// UpdateMe меняет имя и роль вызывающего
func (h *Handler) UpdateMe(r *http.Request) (*middleware.Response, error) {
	principal := middleware.PrincipalFrom(r.Context())

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}

	in := service.UpdateProfileInput{Name: req.Name}
	if req.Name != nil {
		if err := h.validator.ValidateStringLength(*req.Name, "name", 1, maxFieldLength); err != nil {
			return nil, errors.Wrap(err, errors.ErrValidation, err.Error())
		}
	}
	if req.Role != nil {
		if err := h.validator.ValidateEnum(*req.Role, domain.Roles, "role"); err != nil {
			return nil, errors.Wrap(err, errors.ErrValidation, err.Error())
		}
		role := domain.Role(*req.Role)
		in.Role = &role
	}

	user, err := h.users.UpdateProfile(r.Context(), principal.ID, in)
	if err != nil {
		return nil, err
	}

	h.events.Publish(r.Context(), events.UserUpdated, events.NewUserPayload(user))

	return middleware.OK(messageResponse{Message: "User updated successfully"}), nil
}

// ChangeRole назначает роль пользователю {id}
func (h *Handler) ChangeRole(r *http.Request) (*middleware.Response, error) {
	id := r.PathValue("id")
	if err := h.validator.ValidateUUID(id, "id"); err != nil {
		return nil, errors.Wrap(err, errors.ErrValidation, err.Error())
	}

	var req changeRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	if err := h.validator.ValidateEnum(req.Role, domain.Roles, "role"); err != nil {
		return nil, errors.Wrap(err, errors.ErrValidation, err.Error())
	}

	user, err := h.users.ChangeRole(r.Context(), id, domain.Role(req.Role))
	if err != nil {
		return nil, err
	}

	h.events.Publish(r.Context(), events.UserUpdated, events.NewUserPayload(user))
	h.log.Info("User role changed",
		logger.CtxField(r.Context()),
		logger.String("user_id", user.ID),
		logger.String("role", string(user.Role)),
		logger.String("changed_by", middleware.PrincipalFrom(r.Context()).ID),
		logger.String("idempotency_key", middleware.IdempotencyKeyFrom(r.Context())))

	return middleware.OK(roleChangedResponse{
		Message: "User role updated successfully",
		ID:      user.ID,
		Role:    user.Role,
	}), nil
}

// NotFound ответ для неизвестных маршрутов
func (h *Handler) NotFound(r *http.Request) (*middleware.Response, error) {
	return nil, errors.Newf(errors.ErrNotFound, "route %s %s not found", r.Method, r.URL.Path)
}

func (h *Handler) validateSignup(req *signupRequest) error {
	if err := h.validator.ValidateEmail(req.Email); err != nil {
		return errors.Wrap(err, errors.ErrValidation, err.Error())
	}
	if err := h.validator.ValidateStringLength(req.Email, "email", 1, maxFieldLength); err != nil {
		return errors.Wrap(err, errors.ErrValidation, err.Error())
	}
	if err := h.validator.ValidateRequired(req.Password, "password"); err != nil {
		return errors.Wrap(err, errors.ErrValidation, err.Error())
	}
	if err := h.validator.ValidateRequired(req.Name, "name"); err != nil {
		return errors.Wrap(err, errors.ErrValidation, err.Error())
	}
	if err := h.validator.ValidateStringLength(req.Name, "name", 1, maxFieldLength); err != nil {
		return errors.Wrap(err, errors.ErrValidation, err.Error())
	}
	if req.Role != "" {
		if err := h.validator.ValidateEnum(req.Role, domain.Roles, "role"); err != nil {
			return errors.Wrap(err, errors.ErrValidation, err.Error())
		}
	}
	return nil
}

func (h *Handler) recordAuth(operation string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(errors.CodeOf(err))
	}
	h.metrics.RecordAuth(operation, outcome)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.New(errors.ErrValidation, "request body is required")
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrValidation, "invalid request body")
	}
	return nil
}
