package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/newshack/newshack/internal/ai"
	"github.com/newshack/newshack/internal/ingest"
	"github.com/newshack/newshack/internal/store"
	"github.com/newshack/newshack/internal/telegram"
)

// writeAIError maps model-path failures onto the HTTP taxonomy: transient
// upstream trouble is 503, a schema-breaking reply after the retry is 502,
// anything else is a storage-side 500.
func writeAIError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ai.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "model temporarily unavailable")
	case errors.Is(err, ai.ErrBadResponse):
		writeError(w, http.StatusBadGateway, "model returned an invalid response")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type sourceView struct {
	ID         int64  `json:"id"`
	URL        string `json:"url"`
	Name       string `json:"name"`
	SourceType string `json:"source_type"`
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	byCategory, err := s.cfg.Store.ListSourcesByCategory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make(map[string][]sourceView, len(byCategory))
	for category, sources := range byCategory {
		views := make([]sourceView, len(sources))
		for i, src := range sources {
			views[i] = sourceView{ID: src.ID, URL: src.URL, Name: src.Name, SourceType: src.SourceType}
		}
		out[category] = views
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	period := r.URL.Query().Get("period")
	if _, err := ai.ParsePeriod(period); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sources := splitCSV(r.URL.Query().Get("sources"))

	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)
	s.cfg.Notifier.SummariesRequested(requestID, period, sources)

	ctx := r.Context()
	if s.cfg.SummaryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SummaryTimeout)
		defer cancel()
	}

	res, err := s.cfg.Summarizer.Run(ctx, period, sources)
	if err != nil {
		writeAIError(w, err)
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TopicsGenerated.Add(r.Context(), int64(len(res.Topics)))
	}

	payload := struct {
		Topics          []store.TopicSummary `json:"topics"`
		NoMessagesFound bool                 `json:"noMessagesFound,omitempty"`
	}{Topics: res.Topics, NoMessagesFound: res.NoMessagesFound}
	if payload.Topics == nil {
		payload.Topics = []store.TopicSummary{}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Topics []store.TopicSummary `json:"topics"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Topics) == 0 {
		writeError(w, http.StatusBadRequest, "topics must be non-empty")
		return
	}
	s.cfg.Notifier.InsightsRequested(len(req.Topics))

	for i := range req.Topics {
		ins, err := s.cfg.Insights.Generate(r.Context(), req.Topics[i])
		if err != nil {
			writeAIError(w, err)
			return
		}
		req.Topics[i].Insights = &ins
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.InsightsGenerated.Add(r.Context(), int64(len(req.Topics)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": req.Topics})
}

func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/message/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	m, err := s.cfg.Store.GetMessage(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":  m.SourceURL,
		"date":    m.Date.UTC().Format(time.RFC3339),
		"content": m.Text,
	})
}

func (s *Server) handleUploadExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	channels, err := telegram.ParseExport(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "channels": channels})
}

func (s *Server) handleClusterChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Channels           []telegram.Channel `json:"channels"`
		SimplifiedFetching bool               `json:"simplified_fetching"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Channels) == 0 {
		writeError(w, http.StatusBadRequest, "channels must be non-empty")
		return
	}
	if len(req.Channels) > s.cfg.MaxSources {
		writeError(w, http.StatusBadRequest, "too many channels")
		return
	}

	requestID := s.requestID(r)
	w.Header().Set("X-Request-ID", requestID)
	// Create the stream before any work so an SSE subscriber racing this
	// request is not rejected.
	s.cfg.Bus.Touch(requestID)

	groups, err := s.cfg.Clusterer.Cluster(r.Context(), req.Channels, requestID)
	if err != nil {
		writeAIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "topics": groups})
}

func (s *Server) handleSaveChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Channels []telegram.Channel `json:"channels"`
		Period   string             `json:"period"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Channels) == 0 {
		writeError(w, http.StatusBadRequest, "channels must be non-empty")
		return
	}
	if len(req.Channels) > s.cfg.MaxSources {
		writeError(w, http.StatusBadRequest, "too many channels")
		return
	}
	window, err := ai.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sources := make([]ingest.Source, 0, len(req.Channels))
	for _, ch := range req.Channels {
		url := ch.URL
		if url == "" {
			url = telegram.CanonicalizeChannelURL(ch.ID)
		}
		if url == "" {
			continue
		}
		sources = append(sources, ingest.Source{URL: url, Name: ch.Name})
	}
	if len(sources) == 0 {
		writeError(w, http.StatusBadRequest, "no usable channel urls")
		return
	}

	requestID := s.requestID(r)
	w.Header().Set("X-Request-ID", requestID)
	s.cfg.Bus.Touch(requestID)

	until := time.Now().UTC()
	// The ingest outlives a dropped client; its work is useful to the store
	// either way.
	res := s.cfg.Ingestor.Run(context.WithoutCancel(r.Context()), ingest.Batch{
		Sources:   sources,
		Since:     until.Add(-window),
		Until:     until,
		RequestID: requestID,
	})
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.MessagesIngested.Add(r.Context(), int64(res.Messages))
		s.cfg.Metrics.SourceFetchErrors.Add(r.Context(), int64(len(res.Failures)))
	}
	s.cfg.Notifier.IngestCompleted(res.Sources, res.Messages, res.Failures)

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": res.Sources})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Email   string `json:"email"`
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	switch req.Type {
	case "feedback", "question", "bug":
	default:
		writeError(w, http.StatusBadRequest, "type must be feedback, question or bug")
		return
	}
	if err := s.cfg.Store.SaveFeedback(r.Context(), req.Email, req.Message, req.Type); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.cfg.Notifier.NewFeedback(req.Email, req.Type, req.Message)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Email  string `json:"email"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	inserted, err := s.cfg.Store.AddSubscriber(r.Context(), email, req.Source)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if inserted {
		s.cfg.Notifier.NewSubscriber(email, req.Source)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// requestID returns the client-supplied X-Request-ID, or allocates one.
func (s *Server) requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-ID")); id != "" {
		return id
	}
	return uuid.NewString()
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
