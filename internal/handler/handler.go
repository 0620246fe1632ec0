package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/campuscoin/coin-service/internal/infrastructure/auth"
	"github.com/campuscoin/coin-service/internal/models"
	repo "github.com/campuscoin/coin-service/internal/repository"
	service "github.com/campuscoin/coin-service/internal/services"
	pkgerrors "github.com/campuscoin/coin-service/pkg/errors"
	"github.com/gorilla/mux"
)

type Handler struct {
	authSvc     *service.AuthService
	transferSvc *service.TransferService
	goalSvc     *service.GoalService
	accountSvc  *service.AccountService
}

func NewHandler(authSvc *service.AuthService, transferSvc *service.TransferService, goalSvc *service.GoalService, accountSvc *service.AccountService) *Handler {
	return &Handler{
		authSvc:     authSvc,
		transferSvc: transferSvc,
		goalSvc:     goalSvc,
		accountSvc:  accountSvc,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// writeServiceError maps domain sentinels onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrSelfTransfer),
		errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrInsufficientBalance):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, pkgerrors.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, pkgerrors.ErrForbidden),
		errors.Is(err, pkgerrors.ErrAccountInactive),
		errors.Is(err, pkgerrors.ErrApprovalPending),
		errors.Is(err, pkgerrors.ErrApprovalRejected):
		h.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, pkgerrors.ErrUserNotFound),
		errors.Is(err, pkgerrors.ErrGoalNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrRequestNotFound),
		errors.Is(err, pkgerrors.ErrAchievementNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, pkgerrors.ErrAlreadyProcessed),
		errors.Is(err, pkgerrors.ErrAlreadyCompleted),
		errors.Is(err, pkgerrors.ErrDuplicatePending),
		errors.Is(err, pkgerrors.ErrEmailExists),
		errors.Is(err, pkgerrors.ErrGoalInactive):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, pkgerrors.ErrWalletLocked):
		h.writeError(w, http.StatusTooManyRequests, err)
	default:
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request, name string) (int32, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id in path")
	}
	return int32(id), nil
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/logout", h.Logout).Methods("POST")
	r.HandleFunc("/me", h.Me).Methods("GET")
	r.HandleFunc("/me/photo", h.SetProfilePhoto).Methods("PUT")
	r.HandleFunc("/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/achievements", h.GetAchievements).Methods("GET")
	r.HandleFunc("/transfers", h.Transfer).Methods("POST")
	r.HandleFunc("/transactions/{id:[0-9]+}", h.GetTransaction).Methods("GET")
	r.HandleFunc("/goals", h.ListGoals).Methods("GET")
	r.HandleFunc("/goals/completed", h.ListCompletedGoals).Methods("GET")
	r.HandleFunc("/goals/{id:[0-9]+}", h.GetGoal).Methods("GET")
	r.HandleFunc("/goals/{id:[0-9]+}/complete", h.CompleteGoal).Methods("POST")
}

// RegisterStaffRoutes mounts the instructor/admin review surface.
func (h *Handler) RegisterStaffRoutes(r *mux.Router) {
	r.HandleFunc("/rewards", h.IssueReward).Methods("POST")
	r.HandleFunc("/requests", h.ListGoalRequests).Methods("GET")
	r.HandleFunc("/requests/{id:[0-9]+}/resolve", h.ResolveGoalRequest).Methods("POST")
}

// RegisterAdminRoutes mounts the admin-only surface. Pending transfers live
// here, not on the staff router: instructors initiate them and must not
// resolve them.
func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/transfers/pending", h.ListPendingTransfers).Methods("GET")
	r.HandleFunc("/transfers/{id:[0-9]+}/resolve", h.ResolveTransfer).Methods("POST")
	r.HandleFunc("/goals", h.CreateGoal).Methods("POST")
	r.HandleFunc("/goals", h.ListAllGoals).Methods("GET")
	r.HandleFunc("/goals/{id:[0-9]+}", h.UpdateGoal).Methods("PUT")
	r.HandleFunc("/goals/{id:[0-9]+}", h.DeleteGoal).Methods("DELETE")
	r.HandleFunc("/users/{id:[0-9]+}/approve", h.ApproveInstructor).Methods("POST")
	r.HandleFunc("/users/{id:[0-9]+}/reject", h.RejectInstructor).Methods("POST")
	r.HandleFunc("/users/{id:[0-9]+}", h.DeactivateUser).Methods("DELETE")
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	role := models.Role(req.Role)
	if role == "" {
		role = models.RoleStudent
	}

	user, err := h.authSvc.Register(r.Context(), req.Name, req.Email, req.Password, role)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, user, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "user": user})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authSvc.Logout(r.Context(), auth.UserID(r.Context())); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.accountSvc.GetUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) SetProfilePhoto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhotoRef string `json:"photo_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	earned, err := h.accountSvc.SetProfilePhoto(r.Context(), auth.UserID(r.Context()), req.PhotoRef)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "updated", "achievements": earned})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.transferSvc.GetBalance(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int32{"balance": balance})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	filter := repo.TransactionFilter{
		Direction: models.Direction(r.URL.Query().Get("direction")),
		Status:    models.Status(r.URL.Query().Get("status")),
	}
	transactions, err := h.transferSvc.History(r.Context(), auth.UserID(r.Context()), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) GetAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := h.accountSvc.Achievements(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, achievements)
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToUserID    int32  `json:"to_user_id"`
		Amount      int32  `json:"amount"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := h.transferSvc.InitiateTransfer(r.Context(), auth.UserID(r.Context()), req.ToUserID, req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if tx.Status == models.StatusPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, tx)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := h.transferSvc.GetTransaction(r.Context(), id, auth.UserID(r.Context()), auth.CallerRole(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := h.goalSvc.ListAvailable(r.Context(), auth.UserID(r.Context()), r.URL.Query().Get("category"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

func (h *Handler) ListCompletedGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := h.goalSvc.ListCompletedBy(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	goal, err := h.goalSvc.GetGoal(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

func (h *Handler) CompleteGoal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		EvidenceText string `json:"evidence_text"`
		EvidenceFile string `json:"evidence_file"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	outcome, err := h.goalSvc.RequestCompletion(r.Context(), auth.UserID(r.Context()), id, service.Evidence{
		Text:    req.EvidenceText,
		FileRef: req.EvidenceFile,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if outcome.Request != nil {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "pending review", "request": outcome.Request})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "completed",
		"reward":       outcome.Reward,
		"achievements": outcome.Earned,
	})
}

func (h *Handler) IssueReward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      int32  `json:"user_id"`
		Amount      int32  `json:"amount"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := h.transferSvc.IssueReward(r.Context(), auth.UserID(r.Context()), req.UserID, req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) ListPendingTransfers(w http.ResponseWriter, r *http.Request) {
	transactions, err := h.transferSvc.ListPending(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) ResolveTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := h.transferSvc.ResolvePending(r.Context(), auth.UserID(r.Context()), id, service.Decision(req.Decision))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) ListGoalRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.goalSvc.ListRequests(r.Context(), models.Status(r.URL.Query().Get("status")))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (h *Handler) ResolveGoalRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Decision string `json:"decision"`
		Comment  string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := h.goalSvc.ResolveRequest(r.Context(), id, auth.UserID(r.Context()), service.Decision(req.Decision), req.Comment)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var goal models.Goal
	if err := json.NewDecoder(r.Body).Decode(&goal); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.goalSvc.CreateGoal(r.Context(), &goal); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, goal)
}

func (h *Handler) ListAllGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := h.goalSvc.ListAll(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

func (h *Handler) UpdateGoal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var goal models.Goal
	if err := json.NewDecoder(r.Body).Decode(&goal); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	goal.ID = id

	if err := h.goalSvc.UpdateGoal(r.Context(), &goal); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

func (h *Handler) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.goalSvc.DeleteGoal(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) ApproveInstructor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.accountSvc.ApproveInstructor(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (h *Handler) RejectInstructor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.accountSvc.RejectInstructor(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.accountSvc.Deactivate(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
