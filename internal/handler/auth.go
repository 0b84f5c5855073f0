package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/amello/sheetgrader/internal/model"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string           `json:"token"`
	Username    string           `json:"username"`
	DisplayName string           `json:"display_name"`
	Role        model.GraderRole `json:"role"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	grader, err := h.store.GetGraderByUsername(req.Username)
	if err != nil {
		slog.Error("failed to get grader", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if grader == nil || !grader.Active {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(grader.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.store.CreateAuthSession(grader.ID)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:       token,
		Username:    grader.Username,
		DisplayName: grader.DisplayName,
		Role:        grader.Role,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		_ = h.store.DeleteAuthSession(token)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// requireGrader is middleware that resolves the bearer token to an active
// grader and stores it in the request context.
func (h *Handler) requireGrader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		sess, err := h.store.GetAuthSession(token)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		grader, err := h.store.GetGraderByID(sess.GraderID)
		if err != nil || grader == nil || !grader.Active {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := model.ContextWithGrader(r.Context(), grader)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the grader has one of the
// allowed roles.
func requireRole(allowed ...model.GraderRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			grader := model.GraderFromContext(r.Context())
			if grader == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range allowed {
				if grader.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

type createGraderRequest struct {
	Username    string           `json:"username"`
	DisplayName string           `json:"display_name"`
	Password    string           `json:"password"`
	Role        model.GraderRole `json:"role"`
}

func (h *Handler) handleCreateGrader(w http.ResponseWriter, r *http.Request) {
	var req createGraderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if req.Role == "" {
		req.Role = model.RoleGrader
	}
	if req.Role != model.RoleGrader && req.Role != model.RoleAdmin {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	existing, err := h.store.GetGraderByUsername(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	id, err := h.store.CreateGrader(model.Grader{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create grader")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "username": req.Username, "role": req.Role})
}
