package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"quickchat/internal/auth"
	"quickchat/internal/content"
	"quickchat/internal/conversations"
	"quickchat/internal/delivery"
	"quickchat/internal/filestore"
	"quickchat/internal/models"
	"quickchat/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

type ctxKey string

const ctxUserID ctxKey = "userID"

type API struct {
	auth     *auth.AuthService
	store    *storage.BboltStore
	router   *delivery.Router
	convos   *conversations.Aggregator
	files    filestore.FileStore
	validate *validator.Validate

	maxImageBytes int64
}

func New(
	authService *auth.AuthService,
	store *storage.BboltStore,
	router *delivery.Router,
	convos *conversations.Aggregator,
	files filestore.FileStore,
	maxImageBytes int64,
) *API {
	return &API{
		auth:          authService,
		store:         store,
		router:        router,
		convos:        convos,
		files:         files,
		validate:      validator.New(),
		maxImageBytes: maxImageBytes,
	}
}

func getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth resolves the caller's identity and aborts with a structured
// 401 before the handler runs if there is none.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(getToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxUserID, userID)))
	}
}

func currentUserID(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserID).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses. The body is always
// a structured JSON error object.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrPayloadTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, auth.ErrUserExists):
		status = http.StatusConflict
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("internal error", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body exceeds %d bytes", models.ErrPayloadTooLarge, maxErr.Limit)
		}
		return fmt.Errorf("%w: invalid request body", models.ErrValidation)
	}
	return nil
}

type RegisterRequest struct {
	Username    string `json:"username" validate:"required"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password" validate:"required"`
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}

	user, err := a.auth.Register(req.Username, req.DisplayName, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}

	token, expiry, err := a.auth.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(expiry, 0),
	})

	writeJSON(w, http.StatusOK, LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: expiry,
	})
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.auth.GetUser(currentUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type UpdateProfileRequest struct {
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
}

func (a *API) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := a.auth.UpdateProfile(currentUserID(r), req.DisplayName, req.Bio)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UploadAvatarHandler accepts raw image bytes, stores them and points the
// caller's avatar at the stored copy.
func (a *API) UploadAvatarHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxImageBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, fmt.Errorf("%w: avatar exceeds %d bytes", models.ErrPayloadTooLarge, maxErr.Limit))
			return
		}
		writeError(w, fmt.Errorf("%w: failed to read body", models.ErrValidation))
		return
	}

	if !filetype.IsImage(body) {
		writeError(w, fmt.Errorf("%w: avatar must be an image", models.ErrValidation))
		return
	}
	kind, err := filetype.Match(body)
	if err != nil {
		writeError(w, fmt.Errorf("%w: could not detect image type", models.ErrValidation))
		return
	}

	hash, size, err := a.files.Save(bytes.NewReader(body))
	if err != nil {
		writeError(w, err)
		return
	}

	meta := storage.DBFile{
		ID:        uuid.NewString(),
		Hash:      hash,
		MimeType:  kind.MIME.Value,
		Size:      size,
		OwnerID:   currentUserID(r),
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := a.store.UpsertFileMetadata(meta); err != nil {
		writeError(w, err)
		return
	}

	user, err := a.auth.SetAvatar(currentUserID(r), "/api/images/"+meta.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) ConversationsHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.convos.ListWithUnseen(currentUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// HistoryHandler returns the full ordered history with a counterpart and
// marks the counterpart's messages seen. The mark must happen before unseen
// counts are read again, or the badge never clears.
func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	viewerID := currentUserID(r)
	counterpartID := r.PathValue("counterpartId")

	messages, err := a.store.History(viewerID, counterpartID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := a.store.MarkSeen(viewerID, counterpartID); err != nil {
		writeError(w, err)
		return
	}

	for i := range messages {
		if messages[i].Text != "" {
			messages[i].HTML = content.Render(messages[i].Text)
		}
	}

	writeJSON(w, http.StatusOK, messages)
}

type SendRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

func (a *API) SendHandler(w http.ResponseWriter, r *http.Request) {
	// Slack on top of the image cap for the JSON envelope around it.
	r.Body = http.MaxBytesReader(w, r.Body, a.maxImageBytes+64*1024)

	var req SendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	recipientID := r.PathValue("recipientId")
	if _, err := a.auth.GetUser(recipientID); err != nil {
		writeError(w, err)
		return
	}

	msg, err := a.router.Send(r.Context(), currentUserID(r), recipientID, req.Text, req.Image)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) GetImageHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.store.GetFileMetadata(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := a.files.Get(meta.Hash)
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, f); err != nil {
		slog.Debug("failed to stream image", "id", meta.ID, "error", err)
	}
}
