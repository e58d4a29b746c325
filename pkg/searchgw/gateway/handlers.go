package gateway

import (
	"errors"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
	"github.com/kasioon/searchgw/pkg/searchgw/orchestrator"
	"github.com/kasioon/searchgw/pkg/searchgw/search"
)

// maxQueryRunes bounds the utterance length, counted in runes so Arabic
// text is measured fairly.
const maxQueryRunes = 500

// searchRequest is the POST /api/search and /api/analyze body.
type searchRequest struct {
	Query    string         `json:"query"`
	Language string         `json:"language"`
	Source   string         `json:"source"`
	UserID   string         `json:"userId"`
	Page     int            `json:"page"`
	Limit    int            `json:"limit"`
	Filters  *searchFilters `json:"filters"`
}

// searchFilters override what the planner would otherwise derive from the
// utterance.
type searchFilters struct {
	CityID          int64  `json:"cityId"`
	TransactionType string `json:"transactionType"`
}

func (r searchRequest) toPipeline() (orchestrator.Request, error) {
	query := strings.TrimSpace(r.Query)
	if query == "" {
		return orchestrator.Request{}, apperr.New(apperr.Validation, "query must not be empty")
	}
	if utf8.RuneCountInString(query) > maxQueryRunes {
		return orchestrator.Request{}, apperr.Newf(apperr.Validation, "query exceeds %d characters", maxQueryRunes)
	}
	lang, err := parseLanguage(r.Language)
	if err != nil {
		return orchestrator.Request{}, err
	}
	source, err := parseSource(r.Source)
	if err != nil {
		return orchestrator.Request{}, err
	}
	if err := checkPage(r.Page); err != nil {
		return orchestrator.Request{}, err
	}
	if err := checkLimit(r.Limit); err != nil {
		return orchestrator.Request{}, err
	}

	req := orchestrator.Request{
		Query:    query,
		Language: lang,
		Source:   source,
		UserID:   r.UserID,
		Page:     r.Page,
		Limit:    r.Limit,
	}
	if r.Filters != nil {
		req.CityID = r.Filters.CityID
		req.TransactionType = r.Filters.TransactionType
	}
	return req, nil
}

func (s *Server) handleSearch(c *gin.Context) {
	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.renderError(c, apperr.Wrap(apperr.Validation, "malformed request body", err))
		return
	}
	req, err := body.toPipeline()
	if err != nil {
		s.renderError(c, err)
		return
	}

	resp, err := s.pipeline.Handle(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.Envelope())
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.renderError(c, apperr.Wrap(apperr.Validation, "malformed request body", err))
		return
	}
	req, err := body.toPipeline()
	if err != nil {
		s.renderError(c, err)
		return
	}

	started := time.Now()
	analysis, err := s.pipeline.Analyze(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, err)
		return
	}
	meta := &model.Meta{
		Timestamp: time.Now().UTC(),
		Intent:    string(analysis.Intent.Kind),
		ElapsedMS: time.Since(started).Milliseconds(),
	}
	c.JSON(http.StatusOK, model.OK(analysis, meta))
}

func (s *Server) handleVoice(c *gin.Context) {
	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		s.renderError(c, apperr.Wrap(apperr.Validation, "multipart field audio is required", err))
		return
	}
	defer file.Close()

	// Reject oversized or unsupported uploads before buffering them.
	if s.hooks.Speech != nil {
		if err := s.hooks.Speech.Validate(header.Filename, header.Size); err != nil {
			s.renderError(c, err)
			return
		}
	}

	lang, err := parseLanguage(c.PostForm("language"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	source, err := parseSource(c.PostForm("source"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	page, err := atoiField(c.PostForm("page"), "page")
	if err == nil {
		err = checkPage(page)
	}
	if err != nil {
		s.renderError(c, err)
		return
	}
	limit, err := atoiField(c.PostForm("limit"), "limit")
	if err == nil {
		err = checkLimit(limit)
	}
	if err != nil {
		s.renderError(c, err)
		return
	}

	audio, err := io.ReadAll(file)
	if err != nil {
		s.renderError(c, apperr.Wrap(apperr.Validation, "reading audio upload", err))
		return
	}

	resp, err := s.pipeline.Handle(c.Request.Context(), orchestrator.Request{
		Language:      lang,
		Source:        source,
		Page:          page,
		Limit:         limit,
		Audio:         audio,
		AudioFilename: header.Filename,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.Envelope())
}

func (s *Server) handleCategory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("categoryId"), 10, 64)
	if err != nil || id <= 0 {
		s.renderError(c, apperr.New(apperr.Validation, "categoryId must be a positive integer"))
		return
	}
	lang, err := parseLanguage(c.Query("language"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	page, err := atoiField(c.Query("page"), "page")
	if err == nil {
		err = checkPage(page)
	}
	if err != nil {
		s.renderError(c, err)
		return
	}
	limit, err := atoiField(c.Query("limit"), "limit")
	if err == nil {
		err = checkLimit(limit)
	}
	if err != nil {
		s.renderError(c, err)
		return
	}
	cityID, err := atoiField(c.Query("cityId"), "cityId")
	if err != nil {
		s.renderError(c, err)
		return
	}

	f := search.BrowseFilters{
		Language:        lang,
		CityID:          int64(cityID),
		TransactionType: c.Query("transactionType"),
	}
	resp, err := s.pipeline.Browse(c.Request.Context(), id, f, page, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.Envelope())
}

func (s *Server) handleTelegramWebhook(c *gin.Context) {
	if s.hooks.Telegram == nil {
		s.renderError(c, apperr.New(apperr.Unavailable, "telegram channel is not enabled"))
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.renderError(c, apperr.Wrap(apperr.Validation, "reading webhook body", err))
		return
	}
	if err := s.hooks.Telegram.ProcessWebhook(body); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleWhatsAppVerify answers Meta's handshake with the raw challenge;
// the JSON envelope would break the protocol here.
func (s *Server) handleWhatsAppVerify(c *gin.Context) {
	if s.hooks.WhatsApp == nil {
		c.String(http.StatusForbidden, "whatsapp channel is not enabled")
		return
	}
	challenge, err := s.hooks.WhatsApp.VerifyWebhook(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if err != nil {
		c.String(http.StatusForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

func (s *Server) handleWhatsAppWebhook(c *gin.Context) {
	if s.hooks.WhatsApp == nil {
		s.renderError(c, apperr.New(apperr.Unavailable, "whatsapp channel is not enabled"))
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.renderError(c, apperr.Wrap(apperr.Validation, "reading webhook body", err))
		return
	}
	if err := s.hooks.WhatsApp.ProcessWebhook(body); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleRoot advertises the service surface.
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   serviceName,
		"languages": []string{"ar", "en"},
		"endpoints": []string{
			"POST /api/search",
			"POST /api/analyze",
			"POST /api/search/voice",
			"GET /api/search/category/:categoryId",
			"GET /health",
			"GET /metrics",
		},
		"channels": gin.H{
			"telegram": s.hooks.Telegram != nil,
			"whatsapp": s.hooks.WhatsApp != nil,
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	out := gin.H{
		"status":   "ok",
		"uptime_s": int(time.Since(s.started).Seconds()),
	}
	if s.hooks.Health != nil {
		out["components"] = s.hooks.Health(c.Request.Context())
	}
	c.JSON(http.StatusOK, out)
}

// renderError maps an error to its status code and envelope. Stacks and
// causes are exposed only in debug mode.
func (s *Server) renderError(c *gin.Context, err error) {
	ae := apperr.AsError(err)
	status := ae.Kind.HTTPStatus()

	if status == http.StatusTooManyRequests {
		retry := ae.RetryAfterSec
		if retry <= 0 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
	}

	details := ae.Details
	if s.cfg.Server.Debug {
		dbg := map[string]any{"stack": string(debug.Stack())}
		if cause := errors.Unwrap(ae); cause != nil {
			dbg["cause"] = cause.Error()
		}
		if details != nil {
			dbg["details"] = details
		}
		details = dbg
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", c.Request.URL.Path,
			"status", status,
			"error", err)
	}
	c.AbortWithStatusJSON(status, model.Err(status, ae.Message, details))
}

func parseLanguage(raw string) (model.Language, error) {
	switch raw {
	case "", string(model.LangArabic):
		return model.LangArabic, nil
	case string(model.LangEnglish):
		return model.LangEnglish, nil
	default:
		return "", apperr.Newf(apperr.Validation, "language must be ar or en, got %q", raw)
	}
}

func parseSource(raw string) (string, error) {
	if raw == "" {
		return string(model.SourceAPI), nil
	}
	if !model.Source(raw).Valid() {
		return "", apperr.Newf(apperr.Validation, "unknown source %q", raw)
	}
	return raw, nil
}

// checkPage and checkLimit accept zero as "not set"; the pipeline applies
// the defaults.
func checkPage(v int) error {
	if v == 0 {
		return nil
	}
	if v < 1 || v > 100 {
		return apperr.New(apperr.Validation, "page must be between 1 and 100")
	}
	return nil
}

func checkLimit(v int) error {
	if v == 0 {
		return nil
	}
	if v < 1 || v > 50 {
		return apperr.New(apperr.Validation, "limit must be between 1 and 50")
	}
	return nil
}

func atoiField(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.Validation, "%s must be an integer", field)
	}
	return v, nil
}
