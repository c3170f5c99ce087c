package rest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ken-lyk/qrkeeper/internal/common"
	"github.com/ken-lyk/qrkeeper/internal/httpx"
	"github.com/ken-lyk/qrkeeper/internal/server/models"
)

// fail logs err and writes the matching problem response.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "route", routePattern(r), "error", err)
	} else {
		s.logger.Debug(r.Context(), "request rejected", "route", routePattern(r), "status", status, "error", err)
	}
	httpx.RespondError(w, err)
}

func (s *HTTPServer) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := s.validate.Struct(target); err != nil {
		return validationError(err)
	}
	return nil
}

func parsePage(r *http.Request) (models.Page, error) {
	page := models.DefaultPage()
	q := r.URL.Query()

	offset, limit := page.Offset, page.Limit
	var err error
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return page, fmt.Errorf("%w: offset must be an integer", common.ErrorValidation)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return page, fmt.Errorf("%w: limit must be an integer", common.ErrorValidation)
		}
	}
	return models.NewPage(offset, limit)
}

func (s *HTTPServer) banner(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"service": "qrkeeper", "status": "ok"})
}

func (s *HTTPServer) health(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			s.logger.Error(r.Context(), "health check failed", "error", err)
			httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "database unreachable")
			return
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- auth ----

func (s *HTTPServer) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.users.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, newUserResponse(user))
}

func (s *HTTPServer) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	token, err := s.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	httpx.JSON(w, http.StatusOK, newTokenResponse(token))
}

// token implements the OAuth2 password grant over a form body.
func (s *HTTPServer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", common.ErrorValidation, err))
		return
	}

	if gt := r.PostForm.Get("grant_type"); gt != "" && gt != "password" {
		s.fail(w, r, fmt.Errorf("%w: unsupported grant_type %q", common.ErrorValidation, gt))
		return
	}

	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	if username == "" || password == "" {
		s.fail(w, r, fmt.Errorf("%w: username and password are required", common.ErrorValidation))
		return
	}

	token, err := s.users.Login(r.Context(), username, password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, newTokenResponse(token))
}

// ---- qr ----

func (s *HTTPServer) createQR(w http.ResponseWriter, r *http.Request) {
	var req qrRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	rec, err := s.qrs.CreateFromValue(r.Context(), callerFromContext(r.Context()), req.Path, req.Data)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.metrics.recordCreated(rec.Origin.String())
	httpx.JSON(w, http.StatusCreated, newQRResponse(rec))
}

func (s *HTTPServer) createQRFromImageData(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUpload() * 2
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var req qrRequest
	if err := s.decode(r, &req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			tooLarge(w, limit)
			return
		}
		s.fail(w, r, err)
		return
	}

	rec, err := s.qrs.CreateFromImageData(r.Context(), callerFromContext(r.Context()), req.Path, req.Data)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.metrics.recordCreated(rec.Origin.String())
	httpx.JSON(w, http.StatusCreated, newQRResponse(rec))
}

func (s *HTTPServer) maxUpload() int64 {
	if s.config.MaxUploadSize > 0 {
		return s.config.MaxUploadSize
	}
	return 10 << 20
}

func tooLarge(w http.ResponseWriter, limit int64) {
	httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large",
		fmt.Sprintf("upload exceeds %d bytes", limit))
}

func (s *HTTPServer) createQRFromImageFile(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUpload()
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			tooLarge(w, limit)
			return
		}
		s.fail(w, r, fmt.Errorf("%w: multipart form: %v", common.ErrorValidation, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: form field \"file\" is required", common.ErrorValidation))
		return
	}
	defer file.Close()

	if header.Size > limit {
		tooLarge(w, limit)
		return
	}

	body, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: read upload: %v", common.ErrorValidation, err))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(body)
	}

	rec, err := s.qrs.CreateFromImageFile(r.Context(), callerFromContext(r.Context()), header.Filename, contentType, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.metrics.recordCreated(rec.Origin.String())
	httpx.JSON(w, http.StatusCreated, newQRResponse(rec))
}

func (s *HTTPServer) getQR(w http.ResponseWriter, r *http.Request) {
	rec, err := s.qrs.Get(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newQRResponse(rec))
}

func (s *HTTPServer) listQR(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	recs, err := s.qrs.List(r.Context(), callerFromContext(r.Context()), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]qrResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newQRResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (s *HTTPServer) qrImage(w http.ResponseWriter, r *http.Request) {
	url, err := s.qrs.ImageURL(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

func (s *HTTPServer) deleteQR(w http.ResponseWriter, r *http.Request) {
	if err := s.qrs.Delete(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- users ----

func (s *HTTPServer) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.Get(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newUserResponse(user))
}

func (s *HTTPServer) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	users, err := s.users.List(r.Context(), callerFromContext(r.Context()), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, newUserResponse(u))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (s *HTTPServer) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.users.Delete(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
