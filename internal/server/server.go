package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/blurface/internal/pipeline"
	"github.com/andresmejia3/blurface/internal/store"
	"github.com/andresmejia3/blurface/internal/types"
	"github.com/cyclopcam/logs"
	"github.com/go-basic/uuid"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

const (
	msgNoFile       = "No file selected"
	msgUnsupported  = "File type not supported. Please upload images (jpg, jpeg, png) or videos (mp4, avi, mov)"
	msgNotFound     = "File not found"
	msgInternal     = "Internal server error"
	shutdownTimeout = 30 * time.Second
)

// MediaProcessor is the part of *pipeline.Processor the server calls
type MediaProcessor interface {
	ProcessFile(ctx context.Context, inPath, outPath string, kind types.Kind, cfg types.Config, observer pipeline.Observer) (types.Report, error)
}

// JobRecorder persists the outcome of every upload. *store.Store implements it.
type JobRecorder interface {
	RecordJob(ctx context.Context, job store.Job) error
}

type Options struct {
	UploadDir      string
	ResultDir      string
	MaxUploadBytes int64
	RateLimit      int // uploads per IP per minute, 0 disables the limit
	Processing     types.Config
}

// Server is the upload/download front end for the processor
type Server struct {
	log    logs.Log
	proc   MediaProcessor
	jobs   JobRecorder
	opts   Options
	router *httprouter.Router
}

// New creates the upload and result directories and registers the routes.
// jobs may be nil, in which case nothing is recorded.
func New(log logs.Log, proc MediaProcessor, jobs JobRecorder, opts Options) (*Server, error) {
	for _, dir := range []string{opts.UploadDir, opts.ResultDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	s := &Server{log: log, proc: proc, jobs: jobs, opts: opts}
	s.router = httprouter.New()
	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Resource not found", http.StatusNotFound)
	})
	s.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, rec interface{}) {
		s.log.Errorf("Panic serving %v: %v", r.URL.Path, rec)
		sendError(w, msgInternal, http.StatusInternalServerError)
	}

	upload := httprouter.Handle(s.httpUpload)
	if opts.RateLimit > 0 {
		limited := httprate.Limit(opts.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
		inner := upload
		upload = func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inner(w, r, params)
			})).ServeHTTP(w, r)
		}
	}

	s.router.POST("/upload", upload)
	s.router.GET("/download/:filename", s.httpDownload)
	s.router.GET("/results/:filename", s.httpResult)
	s.router.GET("/health", s.httpHealth)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then drains in-flight requests
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Infof("Listening on %v", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.log.Infof("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type uploadResponse struct {
	Success     bool       `json:"success"`
	FileType    types.Kind `json:"file_type"`
	ResultURL   string     `json:"result_url"`
	DownloadURL string     `json:"download_url"`
	Message     string     `json:"message"`
	Faces       int        `json:"faces"`
	Frames      int        `json:"frames"`
}

func (s *Server) httpUpload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	tooLarge := fmt.Sprintf("File too large. Maximum size is %dMB", s.opts.MaxUploadBytes>>20)
	if r.ContentLength > s.opts.MaxUploadBytes {
		sendError(w, tooLarge, http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			sendError(w, tooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		sendError(w, msgNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Filename == "" {
		sendError(w, msgNoFile, http.StatusBadRequest)
		return
	}

	kind, err := types.KindFromPath(header.Filename)
	if err != nil {
		sendError(w, msgUnsupported, http.StatusBadRequest)
		return
	}

	// The client's name is only used for its extension
	id := uuid.New()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	uploadPath := filepath.Join(s.opts.UploadDir, id+ext)
	resultName := "blurred_" + id + ext
	if kind == types.KindVideo {
		resultName = "blurred_" + id + ".mp4"
	}
	resultPath := filepath.Join(s.opts.ResultDir, resultName)

	if err := saveUpload(file, uploadPath); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			sendError(w, tooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		s.log.Errorf("Failed to save upload %v: %v", uploadPath, err)
		sendError(w, msgInternal, http.StatusInternalServerError)
		return
	}
	defer os.Remove(uploadPath)

	report, err := s.proc.ProcessFile(r.Context(), uploadPath, resultPath, kind, s.opts.Processing, nil)
	s.record(r.Context(), store.NewJob(id, kind, header.Filename, resultName, report, err))
	if err != nil {
		s.log.Warnf("Failed to process %v %v: %v", kind, header.Filename, err)
		sendError(w, fmt.Sprintf("Failed to process %s: %v", kind, err), statusFor(err))
		return
	}

	sendJSON(w, http.StatusOK, uploadResponse{
		Success:     true,
		FileType:    kind,
		ResultURL:   "/results/" + resultName,
		DownloadURL: "/download/" + resultName,
		Message:     report.Message(),
		Faces:       report.Faces,
		Frames:      report.Frames,
	})
}

func (s *Server) record(ctx context.Context, job store.Job) {
	if s.jobs == nil {
		return
	}
	// The request may already be cancelled, and the outcome is still worth keeping
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.jobs.RecordJob(ctx, job); err != nil {
		s.log.Warnf("Failed to record job %v: %v", job.ID, err)
	}
}

func saveUpload(src io.Reader, path string) error {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return err
	}
	return dst.Close()
}

func (s *Server) httpDownload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.serveResult(w, r, params.ByName("filename"), true)
}

func (s *Server) httpResult(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.serveResult(w, r, params.ByName("filename"), false)
}

func (s *Server) serveResult(w http.ResponseWriter, r *http.Request, name string, attachment bool) {
	// Only plain names inside the result directory are served
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		sendError(w, msgNotFound, http.StatusNotFound)
		return
	}

	f, err := os.Open(filepath.Join(s.opts.ResultDir, name))
	if err != nil {
		sendError(w, msgNotFound, http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		sendError(w, msgNotFound, http.StatusNotFound)
		return
	}

	if attachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) httpHealth(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// statusFor maps processing errors to HTTP status codes
func statusFor(err error) int {
	var (
		cfgErr         *types.InvalidConfigError
		unsupportedErr *types.UnsupportedKindError
		decodeErr      *types.DecodeError
		frameErr       *types.FrameDecodeError
	)
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &unsupportedErr):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &decodeErr), errors.As(err, &frameErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, msg string, status int) {
	sendJSON(w, status, map[string]string{"error": msg})
}
