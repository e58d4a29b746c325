// Package orchestrator runs one request through the whole pipeline:
// transcription when the input is a voice note, intent classification,
// planning, then dispatch to the search executor or the stats service.
// Every channel (HTTP, Telegram, WhatsApp) funnels into Handle and renders
// the SearchResult it gets back.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
	"github.com/kasioon/searchgw/pkg/searchgw/render"
	"github.com/kasioon/searchgw/pkg/searchgw/search"
)

const defaultRequestTimeout = 45 * time.Second

// Request is one user utterance from any channel. Audio, when set, takes
// precedence over Query: the transcription drives the pipeline.
type Request struct {
	Query    string
	Language model.Language
	Source   string
	UserID   string
	Page     int
	Limit    int

	// CityID and TransactionType, when set, override whatever the
	// planner derives. The HTTP body's explicit filters map here.
	CityID          int64
	TransactionType string

	Audio         []byte
	AudioFilename string
}

// Response pairs the pipeline result with its wall-clock cost.
type Response struct {
	Result  model.SearchResult
	Elapsed time.Duration
}

// Envelope wraps the response for the HTTP surface.
func (r Response) Envelope() model.ResponseEnvelope {
	meta := &model.Meta{
		Timestamp: time.Now().UTC(),
		Intent:    string(r.Result.Intent),
		ElapsedMS: r.Elapsed.Milliseconds(),
	}
	if r.Result.Limit > 0 {
		p := r.Result.Pagination()
		meta.Pagination = &p
	}
	return model.OK(render.HTTP(r.Result), meta)
}

// Analysis is the Analyze output: the classified intent and, for search
// intents, the plan that Execute would have run.
type Analysis struct {
	Intent model.Intent     `json:"intent"`
	Plan   *model.QueryPlan `json:"plan,omitempty"`
}

type classifier interface {
	Classify(ctx context.Context, utterance string, language model.Language) (model.Intent, error)
}

type planner interface {
	Plan(ctx context.Context, query string, language model.Language) (model.QueryPlan, error)
}

type searcher interface {
	Execute(ctx context.Context, plan model.QueryPlan, page, limit int) (model.SearchResult, error)
	Browse(ctx context.Context, categoryID int64, f search.BrowseFilters, page, limit int) (model.SearchResult, error)
}

type statsService interface {
	MostViewed(ctx context.Context, lang model.Language, limit int) (model.SearchResult, error)
	MostImpressioned(ctx context.Context, lang model.Language, limit int) (model.SearchResult, error)
	Offices(ctx context.Context, lang model.Language, limit int) (model.SearchResult, error)
	OfficeDetails(ctx context.Context, lang model.Language, idOrName string) (model.SearchResult, error)
	OfficeListings(ctx context.Context, lang model.Language, idOrName string, limit int) (model.SearchResult, error)
}

type transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte, language string) (string, error)
}

// Orchestrator wires the pipeline stages. It holds no per-request state.
type Orchestrator struct {
	classifier classifier
	planner    planner
	search     searcher
	stats      statsService
	speech     transcriber
	timeout    time.Duration
	logger     *slog.Logger
}

// New builds an Orchestrator. speech may be nil when voice search is not
// configured; voice requests then fail with Unavailable.
func New(c classifier, p planner, s searcher, st statsService, speech transcriber, cfg config.ServerConfig, logger *slog.Logger) *Orchestrator {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Orchestrator{
		classifier: c,
		planner:    p,
		search:     s,
		stats:      st,
		speech:     speech,
		timeout:    timeout,
		logger:     logger.With("component", "orchestrator"),
	}
}

// Handle runs the full pipeline for one request.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	query, transcription, err := o.resolveQuery(ctx, req)
	if err != nil {
		return Response{}, err
	}
	lang := defaultLanguage(req.Language)

	it, err := o.classifier.Classify(ctx, query, lang)
	if err != nil {
		return Response{}, err
	}

	res, err := o.dispatch(ctx, query, lang, it, req)
	if err != nil {
		return Response{}, err
	}
	if res.Query == "" {
		res.Query = query
	}
	res.Transcription = transcription

	elapsed := time.Since(started)
	attrs := []any{
		"source", req.Source,
		"intent", string(it.Kind),
		"strategy", string(res.Strategy),
		"results", len(res.Listings),
		"elapsed_ms", elapsed.Milliseconds(),
	}
	if req.UserID != "" {
		attrs = append(attrs, "user", req.UserID)
	}
	o.logger.Info("request handled", attrs...)
	return Response{Result: res, Elapsed: elapsed}, nil
}

// Analyze classifies and plans without touching the database.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	query, _, err := o.resolveQuery(ctx, req)
	if err != nil {
		return Analysis{}, err
	}
	lang := defaultLanguage(req.Language)

	it, err := o.classifier.Classify(ctx, query, lang)
	if err != nil {
		return Analysis{}, err
	}
	out := Analysis{Intent: it}
	if it.Kind == model.IntentSearch {
		plan, err := o.planner.Plan(ctx, query, lang)
		if err != nil {
			return Analysis{}, err
		}
		out.Plan = &plan
	}
	return out, nil
}

// Browse serves the category endpoint: no classification, straight to the
// executor's unranked category listing.
func (o *Orchestrator) Browse(ctx context.Context, categoryID int64, f search.BrowseFilters, page, limit int) (Response, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, err := o.search.Browse(ctx, categoryID, f, page, limit)
	if err != nil {
		return Response{}, err
	}
	return Response{Result: res, Elapsed: time.Since(started)}, nil
}

// resolveQuery returns the effective query text, transcribing first when
// the request carries audio.
func (o *Orchestrator) resolveQuery(ctx context.Context, req Request) (query, transcription string, err error) {
	query = strings.TrimSpace(req.Query)
	if len(req.Audio) > 0 {
		if o.speech == nil {
			return "", "", apperr.New(apperr.Unavailable, "voice search is not configured")
		}
		text, err := o.speech.Transcribe(ctx, req.AudioFilename, req.Audio, string(defaultLanguage(req.Language)))
		if err != nil {
			return "", "", err
		}
		query = strings.TrimSpace(text)
		transcription = query
	}
	if query == "" {
		return "", "", apperr.New(apperr.Validation, "query must not be empty")
	}
	return query, transcription, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, query string, lang model.Language, it model.Intent, req Request) (model.SearchResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = it.EffectiveLimit()
	}

	switch it.Kind {
	case model.IntentMostViewed:
		return o.stats.MostViewed(ctx, lang, limit)
	case model.IntentMostImpressioned:
		return o.stats.MostImpressioned(ctx, lang, limit)
	case model.IntentGetOffices:
		return o.stats.Offices(ctx, lang, limit)
	case model.IntentOfficeDetails:
		return o.stats.OfficeDetails(ctx, lang, officeRef(it, query))
	case model.IntentOfficeListings:
		return o.stats.OfficeListings(ctx, lang, officeRef(it, query), limit)
	case model.IntentGreeting, model.IntentHelp:
		return model.SearchResult{Query: query, Language: lang, Intent: it.Kind}, nil
	}

	// Search, and the default for anything the classifier failed to pin.
	plan, err := o.planner.Plan(ctx, query, lang)
	if err != nil {
		return model.SearchResult{}, err
	}
	if req.CityID > 0 {
		plan.City = &model.City{ID: req.CityID}
	}
	if req.TransactionType != "" {
		plan.TransactionType = req.TransactionType
	}
	return o.search.Execute(ctx, plan, req.Page, limit)
}

// officeRef picks the office identifier the classifier extracted, falling
// back to the raw utterance.
func officeRef(it model.Intent, query string) string {
	if it.Office != "" {
		return it.Office
	}
	return query
}

func defaultLanguage(lang model.Language) model.Language {
	if lang == model.LangEnglish {
		return model.LangEnglish
	}
	return model.LangArabic
}
