package api

import (
	"context"
	"encoding/json"
	"errors"
	"gridjobs/internal/domain"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// ctime is the timestamp layout of status documents.
const ctime = time.ANSIC

const multipartMemory = 32 << 20

type ctxKey struct{}

type errorBody struct {
	Error string `json:"error"`
}

type statusBody struct {
	CreatedAt      string   `json:"Created at"`
	Elapsed        string   `json:"Elapsed time"`
	Status         string   `json:"Status"`
	FailureMessage []string `json:"Failure message,omitempty"`
	StoppedAt      string   `json:"Stopped at,omitempty"`
}

type opBody struct {
	Name        string         `json:"name"`
	Fields      []domain.Field `json:"fields"`
	Artifact    string         `json:"artifact"`
	ContentType string         `json:"content_type"`
}

func newStatusBody(meta domain.Metadata) statusBody {
	b := statusBody{
		CreatedAt: meta.CreatedAt.Format(ctime),
		Elapsed:   domain.FormatElapsed(meta.Elapsed),
		Status:    string(meta.Status),
	}
	if meta.Status == domain.StatusFailed {
		b.FailureMessage = strings.Split(strings.TrimRight(meta.FailureMessage, "\n"), "\n")
	}
	if !meta.StoppedAt.IsZero() {
		b.StoppedAt = meta.StoppedAt.Format(ctime)
	}
	return b
}

// operation resolves the {op} path segment against the catalog.
func (s *Server) operation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, err := s.catalog.Get(chi.URLParam(r, "op"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, op)))
	})
}

func operationFrom(r *http.Request) domain.Operation {
	op, _ := r.Context().Value(ctxKey{}).(domain.Operation)
	return op
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listOps(w http.ResponseWriter, _ *http.Request) {
	ops := s.catalog.All()
	out := make([]opBody, 0, len(ops))
	for _, op := range ops {
		fields := op.Fields
		if fields == nil {
			fields = []domain.Field{}
		}
		out = append(out, opBody{Name: op.Name, Fields: fields, Artifact: op.Artifact, ContentType: op.ContentType})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	op := operationFrom(r)
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}

	payload, files, err := readPayload(r, op)
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.jobs.Launcher.Start(r.Context(), op, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, "/"+op.Name+"/"+id, http.StatusSeeOther)
}

// readPayload collects the declared fields of op from a multipart or
// urlencoded form. The returned files must be closed by the caller.
func readPayload(r *http.Request, op domain.Operation) (domain.Payload, []multipart.File, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if ct == "multipart/form-data" {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.Payload{}, nil, err
		}
		return domain.Payload{}, nil, &domain.ValidationError{Field: "form", Reason: err.Error()}
	}

	p := domain.Payload{Fields: map[string]string{}, Files: map[string]io.Reader{}}
	var files []multipart.File
	for _, f := range op.Fields {
		if f.Kind != domain.KindFile {
			if v, ok := r.PostForm[f.Name]; ok && len(v) > 0 {
				p.Fields[f.Name] = v[0]
			}
			continue
		}
		if r.MultipartForm == nil {
			continue
		}
		file, _, err := r.FormFile(f.Name)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return domain.Payload{}, files, &domain.ValidationError{Field: f.Name, Reason: err.Error()}
		}
		files = append(files, file)
		p.Files[f.Name] = file
	}
	return p, files, nil
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	op := operationFrom(r)
	id := chi.URLParam(r, "id")
	meta, err := s.jobs.Inspector.Status(r.Context(), op, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondStatus(w, r, op, id, meta)
}

// respondStatus answers a status probe: a JSON document while the task is
// unfinished or failed, a redirect to the download once it is ready.
func respondStatus(w http.ResponseWriter, r *http.Request, op domain.Operation, id string, meta domain.Metadata) {
	if meta.Status == domain.StatusReady {
		http.Redirect(w, r, "/"+op.Name+"/"+id+"/download", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, newStatusBody(meta))
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	op := operationFrom(r)
	art, err := s.jobs.Retriever.Download(r.Context(), op, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() {
		if err := art.Close(); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("cleaning up downloaded task")
		}
	}()

	h := w.Header()
	h.Set("Content-Type", art.ContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	if art.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(art.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, art); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("streaming artifact")
	}
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	meta, err := s.jobs.Stopper.Stop(r.Context(), operationFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatusBody(meta))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *domain.ValidationError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownOperation):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: http.StatusText(http.StatusInternalServerError)})
	}
}
