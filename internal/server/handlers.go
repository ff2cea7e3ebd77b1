package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/career-assistant/internal/llm"
	"github.com/jonathan/career-assistant/internal/orchestrator"
	"github.com/jonathan/career-assistant/internal/pipeline"
	"github.com/jonathan/career-assistant/internal/registry"
)

const (
	maxUploadBytes    = 10 << 20 // per file
	maxMultipartBytes = 32 << 20
	streamPollPeriod  = 200 * time.Millisecond
)

// submitForm carries the scalar form fields for validation.
type submitForm struct {
	SessionID      string `validate:"omitempty,max=128"`
	UserID         string `validate:"omitempty,max=64"`
	CVLink         string `validate:"omitempty,url"`
	OfferLink      string `validate:"omitempty,url"`
	Considerations string `validate:"omitempty,max=10000"`
	UserIP         string `validate:"omitempty,ip"`
}

// processResponse answers the submit endpoints.
type processResponse struct {
	ProcessID     string                `json:"process_id"`
	SessionID     string                `json:"session_id"`
	Status        registry.Status       `json:"status"`
	FromCache     bool                  `json:"from_cache"`
	Results       *llm.ComparisonResult `json:"results,omitempty"`
	CVAnalysis    string                `json:"cv_analysis,omitempty"`
	OfferAnalysis string                `json:"job_offer_analysis,omitempty"`
}

// statusResponse is the polling snapshot of one process.
type statusResponse struct {
	ProcessID string          `json:"process_id"`
	SessionID string          `json:"session_id"`
	Status    registry.Status `json:"status"`
	Stage     registry.Stage  `json:"stage"`
	registry.StageFlags
	Results         *llm.ComparisonResult `json:"results,omitempty"`
	Error           *errorDetail          `json:"error,omitempty"`
	ReportAvailable bool                  `json:"report_available"`
	FromCache       bool                  `json:"from_cache,omitempty"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// handleProcess accepts a submission and answers with a process handle,
// or the full result when the cache already holds one.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseSubmitRequest(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	s.metrics.submissions.Inc()
	res, err := s.orch.Submit(r.Context(), req)
	if err != nil {
		s.countRejection(err)
		s.errorResponse(w, err)
		return
	}

	if res.FromCache {
		s.metrics.cacheHits.Inc()
	} else {
		s.metrics.runsStarted.Inc()
	}

	s.jsonResponse(w, http.StatusOK, processResponse{
		ProcessID:     res.ProcessID,
		SessionID:     res.SessionID,
		Status:        res.Status,
		FromCache:     res.FromCache,
		Results:       res.Results,
		CVAnalysis:    res.CVAnalysis,
		OfferAnalysis: res.OfferAnalysis,
	})
}

// handleProcessStream runs the same submission but streams stage progress
// as Server-Sent Events until the run finishes.
func (s *Server) handleProcessStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseSubmitRequest(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	events := make(chan pipeline.ProgressEvent, 8)
	req.OnProgress = func(e pipeline.ProgressEvent) {
		select {
		case events <- e:
		default:
		}
	}

	s.metrics.submissions.Inc()
	res, err := s.orch.Submit(r.Context(), req)
	if err != nil {
		s.countRejection(err)
		sse.WriteError(envelope(err))
		return
	}

	if res.FromCache {
		s.metrics.cacheHits.Inc()
		sse.WriteComplete(processResponse{
			ProcessID: res.ProcessID,
			SessionID: res.SessionID,
			Status:    res.Status,
			FromCache: true,
			Results:   res.Results,
		})
		return
	}
	s.metrics.runsStarted.Inc()

	ticker := time.NewTicker(streamPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			sse.WriteEvent("step", e) //nolint:errcheck
		case <-ticker.C:
			p, err := s.orch.Status(r.Context(), res.ProcessID)
			if err != nil {
				sse.WriteError(envelope(err))
				return
			}
			switch p.Status {
			case registry.StatusFailed:
				s.drainEvents(sse, events)
				sse.WriteError(errorEnvelope{Error: p.ErrorKind, Message: p.ErrorMessage})
				return
			case registry.StatusCompleted:
				s.drainEvents(sse, events)
				sse.WriteComplete(processResponse{
					ProcessID: p.ID,
					SessionID: p.SessionID,
					Status:    p.Status,
					Results:   p.Result,
				})
				return
			}
		}
	}
}

// drainEvents flushes progress events that raced the final poll.
func (s *Server) drainEvents(sse *SSEWriter, events chan pipeline.ProgressEvent) {
	for {
		select {
		case e := <-events:
			sse.WriteEvent("step", e) //nolint:errcheck
		default:
			return
		}
	}
}

// handleStatus returns a process snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	processID := r.PathValue("process_id")

	p, err := s.orch.Status(r.Context(), processID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	resp := statusResponse{
		ProcessID:       p.ID,
		SessionID:       p.SessionID,
		Status:          p.Status,
		Stage:           p.Stage,
		StageFlags:      p.Flags,
		ReportAvailable: p.Status == registry.StatusCompleted && len(p.Artifact) > 0,
		FromCache:       p.FromCache,
	}
	if p.Status == registry.StatusCompleted {
		resp.Results = p.Result
	}
	if p.Status == registry.StatusFailed {
		resp.Error = &errorDetail{Kind: p.ErrorKind, Message: p.ErrorMessage}
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleDownload serves the PDF report for a completed process.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	processID := r.PathValue("process_id")

	data, err := s.orch.Download(r.Context(), processID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="career_analysis_%s.pdf"`, processID))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("failed to write report", zap.Error(err))
	}
}

// parseSubmitRequest turns the multipart form into an orchestrator request.
func (s *Server) parseSubmitRequest(r *http.Request) (orchestrator.SubmitRequest, error) {
	var req orchestrator.SubmitRequest

	if err := r.ParseMultipartForm(maxMultipartBytes); err != nil {
		return req, &orchestrator.Error{
			Kind:    orchestrator.KindInvalidRequest,
			Message: "request body must be a multipart form",
			Err:     err,
		}
	}

	form := submitForm{
		SessionID:      r.FormValue("session_id"),
		UserID:         r.FormValue("user_id"),
		CVLink:         r.FormValue("cv_link"),
		OfferLink:      r.FormValue("job_offer_link"),
		Considerations: r.FormValue("additional_considerations"),
		UserIP:         r.FormValue("user_ip"),
	}
	if err := s.validate.Struct(form); err != nil {
		return req, &orchestrator.Error{
			Kind:       orchestrator.KindInvalidRequest,
			Message:    "invalid form fields",
			Suggestion: "check link URLs and field lengths",
			Err:        err,
		}
	}

	req.SessionID = form.SessionID
	req.UserID = form.UserID
	req.CVLink = form.CVLink
	req.OfferLink = form.OfferLink
	req.Considerations = form.Considerations
	req.OfferText = r.FormValue("job_offer_text")

	// Proxied deployments forward the real client address in the form.
	req.Origin = form.UserIP
	if req.Origin == "" {
		req.Origin = s.extractClientID(r)
	}

	data, name, contentType, err := s.readFormFile(r, "cv_file")
	if err != nil {
		return req, err
	}
	req.CVFile = data
	req.CVFileName = name
	req.CVContentType = contentType

	data, name, contentType, err = s.readFormFile(r, "job_offer_file")
	if err != nil {
		return req, err
	}
	req.OfferFile = data
	req.OfferFileName = name
	req.OfferContentType = contentType

	return req, nil
}

// readFormFile reads one optional uploaded file, capped at maxUploadBytes.
func (s *Server) readFormFile(r *http.Request, field string) ([]byte, string, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", "", nil
		}
		return nil, "", "", &orchestrator.Error{
			Kind:    orchestrator.KindInvalidRequest,
			Message: fmt.Sprintf("could not read uploaded file %q", field),
			Err:     err,
		}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, "", "", &orchestrator.Error{
			Kind:    orchestrator.KindInvalidRequest,
			Message: fmt.Sprintf("could not read uploaded file %q", field),
			Err:     err,
		}
	}
	if len(data) > maxUploadBytes {
		return nil, "", "", &orchestrator.Error{
			Kind:       orchestrator.KindInvalidRequest,
			Message:    fmt.Sprintf("file %q exceeds the %d MB limit", field, maxUploadBytes>>20),
			Suggestion: "upload a smaller document",
		}
	}

	return data, header.Filename, fileContentType(header), nil
}

func fileContentType(header *multipart.FileHeader) string {
	if header == nil {
		return ""
	}
	return header.Header.Get("Content-Type")
}

// countRejection feeds the admission metrics from a submit error.
func (s *Server) countRejection(err error) {
	var oe *orchestrator.Error
	if !errors.As(err, &oe) {
		return
	}
	switch oe.Kind {
	case orchestrator.KindOriginRateLimit:
		s.metrics.rejections.WithLabelValues("origin").Inc()
	case orchestrator.KindGlobalRateLimit:
		s.metrics.rejections.WithLabelValues("global").Inc()
	}
}
