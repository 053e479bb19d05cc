package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/deploy"
)

const maxDeployBody = 1 << 20

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, &deploy.Result{
			Status:  deploy.StatusError,
			Message: "method not allowed, use POST",
		})
		return
	}
	if s.deployer == nil {
		writeJSON(w, http.StatusInternalServerError, &deploy.Result{
			Status:  deploy.StatusError,
			Message: "deployment is not configured",
		})
		return
	}

	req, err := parseDeployRequest(r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, &deploy.Result{Status: deploy.StatusError, Message: err.Error()})
		return
	}

	res, err := s.deployer.Run(r.Context(), req)
	if res == nil {
		res = &deploy.Result{Status: deploy.StatusError}
	}
	if err != nil {
		res.Status = deploy.StatusError
		res.Message = err.Error()
		s.logger.Warn("deploy request failed", zap.Error(err))
		writeJSON(w, statusFor(err, false), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseDeployRequest reads token and force from the posted form, falling
// back to a JSON body and then to a raw urlencoded body.
func parseDeployRequest(r *http.Request) (deploy.Request, error) {
	var req deploy.Request

	var post url.Values
	var raw []byte
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxDeployBody); err != nil {
			return req, apperr.Wrap(apperr.Validation, err, "reading request body")
		}
		post = r.PostForm
	default:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxDeployBody))
		if err != nil {
			return req, apperr.Wrap(apperr.Validation, err, "reading request body")
		}
		raw = body
		if ct == "application/x-www-form-urlencoded" {
			post, _ = url.ParseQuery(string(body))
		}
	}

	var doc map[string]interface{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &doc)
	}

	req.Token = post.Get("token")
	if req.Token == "" {
		if v, ok := doc["token"].(string); ok {
			req.Token = v
		} else if len(raw) > 0 {
			if parsed, err := url.ParseQuery(string(raw)); err == nil {
				req.Token = parsed.Get("token")
			}
		}
	}

	if post.Has("force") {
		req.Force = truthy(post.Get("force"))
	} else if v, ok := doc["force"]; ok {
		req.Force = truthy(v)
	}
	return req, nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return t == "1" || t == "true"
	case bool:
		return t
	}
	return false
}
