package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"piimask/internal/audit"
	"piimask/internal/classifier"
	"piimask/internal/detect"
	"piimask/internal/sanitizer"
	"piimask/internal/stats"
	"piimask/internal/trace"
)

type classifyRequest struct {
	EmailBody *string `json:"email_body"`
}

// maskedEntity is the /classify wire form of an accepted span.
type maskedEntity struct {
	Position       [2]int `json:"position"`
	Classification string `json:"classification"`
	Entity         string `json:"entity"`
}

type classifyResponse struct {
	InputEmailBody       string         `json:"input_email_body"`
	ListOfMaskedEntities []maskedEntity `json:"list_of_masked_entities"`
	MaskedEmail          string         `json:"masked_email"`
	CategoryOfTheEmail   string         `json:"category_of_the_email"`
}

type maskRequest struct {
	Text *string `json:"text"`
}

var errEmptyBody = errors.New("request body is empty")

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// decodeBody reads a size-limited JSON body into dst.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(body) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.Wrap(err, "decode json")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "/v1/mask", http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.Text == nil {
		s.fail(w, r, "/v1/mask", http.StatusBadRequest, "invalid_request", errors.New("text is required"))
		return
	}
	res, err := s.sanitizer.Sanitize(r.Context(), *req.Text)
	if err != nil {
		s.fail(w, r, "/v1/mask", http.StatusInternalServerError, "mask_failed", err)
		return
	}
	s.record(r, "/v1/mask", http.StatusOK, res, "")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "/classify", http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.EmailBody == nil {
		s.fail(w, r, "/classify", http.StatusBadRequest, "invalid_request", errors.New("email_body is required"))
		return
	}
	ctx := r.Context()
	res, err := s.sanitizer.Sanitize(ctx, *req.EmailBody)
	if err != nil {
		s.fail(w, r, "/classify", http.StatusInternalServerError, "mask_failed", err)
		return
	}

	tr, _ := trace.FromContext(ctx)
	classifyStart := time.Now()
	category, err := s.classifier.Classify(ctx, res.MaskedText)
	if tr != nil {
		tr.ClassifyStart, tr.ClassifyEnd = classifyStart, time.Now()
	}
	if err != nil {
		s.fail(w, r, "/classify", http.StatusInternalServerError, "classify_failed", err)
		return
	}

	s.record(r, "/classify", http.StatusOK, res, category)
	writeJSON(w, http.StatusOK, classifyResponse{
		InputEmailBody:       res.InputText,
		ListOfMaskedEntities: toMaskedEntities(res.InputText, res.Spans),
		MaskedEmail:          res.MaskedText,
		CategoryOfTheEmail:   string(category),
	})
}

// toMaskedEntities reports positions in code points of text, the unit
// /classify clients index input_email_body with. spans are sorted and
// disjoint, so a single forward count converts every byte offset.
func toMaskedEntities(text string, spans []detect.Entity) []maskedEntity {
	out := make([]maskedEntity, 0, len(spans))
	byteAt, runeAt := 0, 0
	advance := func(to int) int {
		runeAt += utf8.RuneCountInString(text[byteAt:to])
		byteAt = to
		return runeAt
	}
	for _, s := range spans {
		start := advance(s.Start)
		end := advance(s.End)
		out = append(out, maskedEntity{
			Position:       [2]int{start, end},
			Classification: s.Classification,
			Entity:         s.Text,
		})
	}
	return out
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var entries []audit.Entry
	if s.auditPath != "" {
		var err error
		entries, err = audit.ParseFile(s.auditPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "stats_failed", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, stats.CollectFromEntries(entries, stats.Options{
		Now:    time.Now().UTC(),
		Status: "running",
		Uptime: time.Since(s.startTime),
		Addr:   s.addr,
	}))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, endpoint string, status int, code string, err error) {
	ev := zerolog.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		ev = zerolog.Ctx(r.Context()).Error()
	}
	ev.Err(err).Str("endpoint", endpoint).Int("status", status).Msg("request failed")
	s.record(r, endpoint, status, nil, "")
	writeError(w, status, code, err.Error())
}

// record writes the audit entry of one request.
func (s *Server) record(r *http.Request, endpoint string, status int, res *sanitizer.Result, category classifier.Category) {
	tr, _ := trace.FromContext(r.Context())
	e := audit.FromResult(res)
	e.Endpoint = endpoint
	e.StatusCode = status
	e.Category = string(category)
	if tr != nil {
		tm := tr.TimingsAt(time.Now())
		e.RequestID = tr.ID
		e.DetectLatencyMs = audit.Millis(tm.Detect)
		e.ReconcileLatencyMs = audit.Millis(tm.Reconcile)
		e.MaskLatencyMs = audit.Millis(tm.Mask)
		e.ClassifyLatencyMs = audit.Millis(tm.Classify)
		e.TotalLatencyMs = audit.Millis(tm.Total)
	}
	if err := s.audit.Log(e); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("audit log write failed")
	}
}
