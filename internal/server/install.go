package server

import (
	"crypto/subtle"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/branding"
	"github.com/ocmod-labs/ocmodctl/internal/deploy"
	"github.com/ocmod-labs/ocmodctl/internal/installer"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
)

const uploadDirName = "tmp-web-install"

type installResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Log     []string `json:"log"`
	Trace   string   `json:"trace,omitempty"`
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	resp := installResponse{Log: []string{}}
	verbose := false

	fail := func(err error) {
		resp.Message = "module installation failed: " + err.Error()
		if verbose {
			resp.Trace = apperr.Trace(err)
		}
		s.logger.Warn("install request failed", zap.Error(err))
		writeJSON(w, statusFor(err, true), resp)
	}

	if err := s.checkInstallToken(r); err != nil {
		fail(err)
		return
	}

	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		fail(apperr.Wrap(apperr.Validation, err, "file upload error; make sure the file is sent as multipart field \"file\" and is at most %s", units.BytesSize(float64(s.maxUpload))))
		return
	}
	defer r.MultipartForm.RemoveAll()

	overwrite := r.PostFormValue("overwrite") == "1"
	verbose = r.PostFormValue("verbose") == "1"

	file, header, err := r.FormFile("file")
	if err != nil {
		fail(apperr.Wrap(apperr.Validation, err, "no file was uploaded"))
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".zip") {
		fail(apperr.New(apperr.Validation, "only zip archives are supported"))
		return
	}
	if header.Size > s.maxUpload {
		fail(apperr.New(apperr.Validation, "file size exceeds %s", units.BytesSize(float64(s.maxUpload))))
		return
	}

	tmp, err := s.saveUpload(file)
	if err != nil {
		fail(err)
		return
	}
	defer s.fs.Remove(tmp)

	execLog := logging.NewExecLog(verbose, logging.WithZap(s.logger))
	opts := append([]installer.Option{installer.WithSource("http"), installer.WithMetrics(s.metrics)}, s.installerOpts...)
	inst := installer.New(s.fs, s.roots, s.deps, execLog, opts...)

	_, err = inst.Install(r.Context(), installer.Request{
		ArchivePath: tmp,
		Filename:    filepath.Base(header.Filename),
		Overwrite:   overwrite,
	})
	resp.Log = append(resp.Log, execLog.Lines()...)
	if err != nil {
		fail(err)
		return
	}

	resp.Success = true
	resp.Message = "module installed successfully"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) checkInstallToken(r *http.Request) error {
	values, err := s.deps.Settings.GetSetting(r.Context(), branding.SettingsGroup())
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "reading settings")
	}
	secret := values[branding.SettingKey(deploy.KeySecret)]
	if secret == "" {
		return apperr.New(apperr.Auth, "secret key is not configured")
	}
	token := r.URL.Query().Get("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return apperr.New(apperr.Auth, "invalid secret key")
	}
	return nil
}

func (s *Server) saveUpload(src io.Reader) (string, error) {
	dir := filepath.Join(s.roots.Upload, uploadDirName)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return "", apperr.Wrap(apperr.IO, err, "creating %s", dir)
	}
	p := filepath.Join(dir, "module_"+uuid.NewString()+".zip")
	out, err := s.fs.Create(p)
	if err != nil {
		return "", apperr.Wrap(apperr.IO, err, "could not save the uploaded file")
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		s.fs.Remove(p)
		return "", apperr.Wrap(apperr.IO, err, "could not save the uploaded file")
	}
	if err := out.Close(); err != nil {
		s.fs.Remove(p)
		return "", apperr.Wrap(apperr.IO, err, "could not save the uploaded file")
	}
	return p, nil
}
