package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bumperworks/preorders/internal/db"
	"github.com/bumperworks/preorders/internal/debugsession"
	"github.com/bumperworks/preorders/internal/logging"
	"github.com/bumperworks/preorders/internal/models"
	"github.com/bumperworks/preorders/internal/observability"
	"github.com/bumperworks/preorders/internal/zapier"
)

type IssueCategory string

const (
	IssueConfiguration IssueCategory = "configuration"
	IssueNetwork       IssueCategory = "network"
	IssueData          IssueCategory = "data"
)

const (
	StepConfiguration = "configuration"
	StepOrderData     = "order_data"
	StepNetwork       = "network"
	StepPayload       = "payload"
	StepDelivery      = "delivery"
)

const defaultReachTimeout = 5 * time.Second

type DiagnosticIssue struct {
	Category       IssueCategory `json:"category" yaml:"category"`
	Problem        string        `json:"problem" yaml:"problem"`
	Recommendation string        `json:"recommendation" yaml:"recommendation"`
}

// DeliveryTest archives the end-to-end request next to its response.
type DeliveryTest struct {
	URL            string `json:"url" yaml:"url"`
	RequestBody    string `json:"request_body" yaml:"request_body"`
	Signed         bool   `json:"signed" yaml:"signed"`
	HTTPStatus     int    `json:"http_status,omitempty" yaml:"http_status,omitempty"`
	Success        bool   `json:"success" yaml:"success"`
	ResponseTimeMs int64  `json:"response_time_ms" yaml:"response_time_ms"`
	ResponseBody   string `json:"response_body,omitempty" yaml:"response_body,omitempty"`
	Error          string `json:"error,omitempty" yaml:"error,omitempty"`
}

type DiagnosticReport struct {
	SessionID      uuid.UUID          `json:"session_id" yaml:"session_id"`
	OrderNumber    string             `json:"order_number" yaml:"order_number"`
	StartedAt      time.Time          `json:"started_at" yaml:"started_at"`
	ElapsedMs      int64              `json:"elapsed_ms" yaml:"elapsed_ms"`
	Success        bool               `json:"success" yaml:"success"`
	TotalSteps     int                `json:"total_steps" yaml:"total_steps"`
	CompletedSteps int                `json:"completed_steps" yaml:"completed_steps"`
	FailedSteps    int                `json:"failed_steps" yaml:"failed_steps"`
	WarningSteps   int                `json:"warning_steps" yaml:"warning_steps"`
	FailurePoints  []string           `json:"failure_points" yaml:"failure_points"`
	Issues         []DiagnosticIssue  `json:"issues" yaml:"issues"`
	Steps          []models.DebugStep `json:"steps" yaml:"steps"`
	Delivery       *DeliveryTest      `json:"delivery,omitempty" yaml:"delivery,omitempty"`

	// IssuesByCategory holds the same issues grouped for operator display.
	IssuesByCategory map[IssueCategory][]DiagnosticIssue `json:"issues_by_category" yaml:"issues_by_category"`
}

func groupIssues(issues []DiagnosticIssue) map[IssueCategory][]DiagnosticIssue {
	grouped := make(map[IssueCategory][]DiagnosticIssue)
	for _, issue := range issues {
		grouped[issue.Category] = append(grouped[issue.Category], issue)
	}
	return grouped
}

type orderByNumber interface {
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
}

type webhookChecker interface {
	webhookDeliverer
	CheckReach(ctx context.Context, rawURL string, timeout time.Duration) zapier.ReachResult
}

type debugLogStore interface {
	Insert(ctx context.Context, entry *models.DebugLogEntry) error
	SummariesFromView(ctx context.Context, limit int) ([]models.DebugSessionSummary, error)
	RecentEntries(ctx context.Context, limit int) ([]models.DebugLogEntry, error)
}

type DiagnosticDependencies struct {
	Orders          orderByNumber
	Settings        settingsSource
	Client          webhookChecker
	DeliveryLogs    deliveryLogWriter
	Sessions        debugsession.Store
	DebugLogs       debugLogStore
	MaxPayloadBytes int
	ReachTimeout    time.Duration
	Logger          *slog.Logger
}

type DiagnosticService struct {
	orders          orderByNumber
	settings        settingsSource
	client          webhookChecker
	deliveryLogs    deliveryLogWriter
	sessions        debugsession.Store
	debugLogs       debugLogStore
	maxPayloadBytes int
	reachTimeout    time.Duration
	logger          *slog.Logger
}

func NewDiagnosticService(deps DiagnosticDependencies) (*DiagnosticService, error) {
	if deps.Orders == nil {
		return nil, fmt.Errorf("diagnostic service: orders store is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("diagnostic service: settings source is required")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("diagnostic service: webhook client is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("diagnostic service: session store is required")
	}
	reachTimeout := deps.ReachTimeout
	if reachTimeout <= 0 {
		reachTimeout = defaultReachTimeout
	}
	return &DiagnosticService{
		orders:          deps.Orders,
		settings:        deps.Settings,
		client:          deps.Client,
		deliveryLogs:    deps.DeliveryLogs,
		sessions:        deps.Sessions,
		debugLogs:       deps.DebugLogs,
		maxPayloadBytes: deps.MaxPayloadBytes,
		reachTimeout:    reachTimeout,
		logger:          deps.Logger,
	}, nil
}

type stepOutcome struct {
	status  models.StepStatus
	message string
	data    map[string]any
}

func completed(message string, data map[string]any) stepOutcome {
	return stepOutcome{status: models.StepCompleted, message: message, data: data}
}

func failed(message string, data map[string]any) stepOutcome {
	return stepOutcome{status: models.StepFailed, message: message, data: data}
}

func warning(message string, data map[string]any) stepOutcome {
	return stepOutcome{status: models.StepWarning, message: message, data: data}
}

// diagnosticRun is the mutable state of one pipeline execution.
type diagnosticRun struct {
	svc      *DiagnosticService
	logger   *slog.Logger
	session  *models.DebugSession
	report   *DiagnosticReport
	settings models.WebhookSettings
	url      string
	order    *models.Order
	body     []byte
}

// Run executes the five stages in order. Stages one to four always run;
// delivery runs only when none of them failed.
func (s *DiagnosticService) Run(ctx context.Context, orderNumber string) (*DiagnosticReport, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, fmt.Errorf("order number is required")
	}

	started := time.Now().UTC()
	session := &models.DebugSession{
		ID:          uuid.New(),
		OrderNumber: orderNumber,
		StartedAt:   started,
	}
	ctx, logger := logging.With(ctx, s.logger, "debug_session_id", session.ID, "order_number", orderNumber)

	run := &diagnosticRun{
		svc:     s,
		logger:  logger,
		session: session,
		report: &DiagnosticReport{
			SessionID:     session.ID,
			OrderNumber:   orderNumber,
			StartedAt:     started,
			FailurePoints: []string{},
			Issues:        []DiagnosticIssue{},
		},
		settings: models.DefaultWebhookSettings(),
	}
	run.saveSession(ctx)

	run.step(ctx, StepConfiguration, run.checkConfiguration)
	run.step(ctx, StepOrderData, run.checkOrderData)
	run.step(ctx, StepNetwork, run.checkNetwork)
	run.step(ctx, StepPayload, run.checkPayload)
	if run.failedSoFar() {
		run.step(ctx, StepDelivery, func(context.Context) stepOutcome {
			return warning("skipped: earlier stages failed", map[string]any{"skipped": true})
		})
	} else {
		run.step(ctx, StepDelivery, run.deliverTest)
	}

	report := run.finish(started)
	s.persistSteps(ctx, session)

	outcome := "passed"
	if !report.Success {
		outcome = "failed"
	}
	observability.CountOutcome(ctx, "webhook.diagnostics", outcome)
	logger.Info("webhook diagnostics finished", "success", report.Success, "failed_steps", report.FailedSteps, "elapsed_ms", report.ElapsedMs)
	return report, nil
}

// Session returns a live or recently finished diagnostic session.
func (s *DiagnosticService) Session(ctx context.Context, id uuid.UUID) (*models.DebugSession, bool) {
	return s.sessions.Get(ctx, id)
}

// DiscardSession drops a session before its TTL. It reports false when the
// session had already expired. Persisted history is unaffected.
func (s *DiagnosticService) DiscardSession(ctx context.Context, id uuid.UUID) bool {
	if _, ok := s.sessions.Get(ctx, id); !ok {
		return false
	}
	s.sessions.Delete(ctx, id)
	return true
}

func (r *diagnosticRun) step(ctx context.Context, name string, check func(context.Context) stepOutcome) {
	start := time.Now()
	r.session.Steps = append(r.session.Steps, models.DebugStep{
		Name:      name,
		Status:    models.StepStarted,
		StartedAt: start.UTC(),
	})
	idx := len(r.session.Steps) - 1
	r.saveSession(ctx)

	outcome := check(ctx)

	step := &r.session.Steps[idx]
	step.Status = outcome.status
	step.Message = outcome.message
	step.Data = outcome.data
	step.DurationMs = time.Since(start).Milliseconds()
	r.saveSession(ctx)

	if outcome.status == models.StepFailed {
		r.report.FailurePoints = append(r.report.FailurePoints, name+": "+outcome.message)
	}
	r.logger.Debug("diagnostic step finished", "step", name, "status", string(outcome.status), "duration_ms", step.DurationMs)
}

func (r *diagnosticRun) issue(category IssueCategory, problem, recommendation string) {
	r.report.Issues = append(r.report.Issues, DiagnosticIssue{
		Category:       category,
		Problem:        problem,
		Recommendation: recommendation,
	})
}

func (r *diagnosticRun) failedSoFar() bool {
	for _, step := range r.session.Steps {
		if step.Status == models.StepFailed {
			return true
		}
	}
	return false
}

func (r *diagnosticRun) saveSession(ctx context.Context) {
	if err := r.svc.sessions.Save(ctx, r.session); err != nil {
		r.logger.Warn("failed to save diagnostic session", "error", err)
	}
}

func (r *diagnosticRun) checkConfiguration(ctx context.Context) stepOutcome {
	settings, err := r.svc.settings.Get(ctx)
	if err != nil {
		r.issue(IssueConfiguration, "Webhook settings could not be loaded.",
			"Check database connectivity and the zapier_webhook settings record.")
		return failed(fmt.Sprintf("could not load webhook settings: %v", err), nil)
	}
	r.settings = settings

	data := map[string]any{
		"enabled":         settings.Enabled,
		"timeout_seconds": settings.TimeoutSeconds,
		"signed":          settings.Secret != "",
	}

	var problems []string
	if !settings.Enabled {
		problems = append(problems, "webhook is disabled")
		r.issue(IssueConfiguration, "The outbound webhook is disabled.",
			"Enable the webhook in the webhook settings.")
	}

	rawURL := strings.TrimSpace(settings.URL)
	switch {
	case rawURL == "":
		problems = append(problems, "webhook URL is not set")
		r.issue(IssueConfiguration, "No webhook URL is configured.",
			"Paste the Zapier catch hook URL into the webhook settings.")
	case !usableURL(rawURL):
		problems = append(problems, "webhook URL is not a valid http(s) URL")
		r.issue(IssueConfiguration, fmt.Sprintf("The webhook URL %q cannot be parsed as an absolute http(s) URL.", rawURL),
			"Copy the full https://hooks.zapier.com/... URL from the Zap trigger.")
	default:
		r.url = rawURL
		if parsed, err := url.Parse(rawURL); err == nil {
			data["host"] = parsed.Host
		}
	}

	if settings.TimeoutSeconds < 1 || settings.TimeoutSeconds > 60 {
		problems = append(problems, fmt.Sprintf("timeout of %ds is outside 1-60s", settings.TimeoutSeconds))
		r.issue(IssueConfiguration, "The delivery timeout is out of bounds.",
			"Set a timeout between 1 and 60 seconds.")
	}

	if len(problems) > 0 {
		return failed(strings.Join(problems, "; "), data)
	}
	if settings.Secret == "" {
		r.issue(IssueConfiguration, "Payloads are sent without a signature.",
			"Set a signing secret so the receiver can verify the X-Webhook-Signature header.")
		return warning("no signing secret configured", data)
	}
	return completed("configuration is valid", data)
}

func (r *diagnosticRun) checkOrderData(ctx context.Context) stepOutcome {
	orderNumber := r.session.OrderNumber
	order, err := r.svc.orders.GetByOrderNumber(ctx, orderNumber)
	if errors.Is(err, db.ErrNotFound) || (err == nil && order == nil) {
		r.issue(IssueData, fmt.Sprintf("Order %s does not exist.", orderNumber),
			"Check the order number and try again.")
		return failed("order not found", nil)
	}
	if err != nil {
		r.issue(IssueData, fmt.Sprintf("Order %s could not be loaded.", orderNumber),
			"Check database connectivity and retry the diagnostic.")
		return failed(fmt.Sprintf("could not load order: %v", err), nil)
	}
	r.order = order

	data := map[string]any{
		"payment_status": string(order.PaymentStatus),
		"items":          len(order.Items),
		"total_cents":    order.TotalCents,
	}
	if problems := zapier.ValidateOrder(order); len(problems) > 0 {
		r.issue(IssueData, "Order data is incomplete: "+strings.Join(problems, "; ")+".",
			"Correct the listed order fields before redelivering the notification.")
		data["problems"] = problems
		return failed(strings.Join(problems, "; "), data)
	}
	return completed("order data is valid", data)
}

func (r *diagnosticRun) checkNetwork(ctx context.Context) stepOutcome {
	if r.url == "" {
		return warning("skipped: no usable webhook URL to check", map[string]any{"skipped": true})
	}

	reach := r.svc.client.CheckReach(ctx, r.url, r.svc.reachTimeout)
	data := map[string]any{"latency_ms": reach.Latency.Milliseconds()}
	if !reach.Reachable {
		data["failure_kind"] = reach.FailureKind
		if reach.FailureKind == zapier.FailureNetwork {
			r.issue(IssueNetwork, fmt.Sprintf("The webhook host could not be reached: %v", reach.Err),
				"Check DNS resolution, outbound firewall rules, and that the URL host is correct.")
		} else {
			r.issue(IssueNetwork, fmt.Sprintf("The reachability check failed for an unknown reason: %v", reach.Err),
				"Inspect the error; a TLS or proxy setting may be rejecting the request.")
		}
		return failed(fmt.Sprintf("%s failure: %v", reach.FailureKind, reach.Err), data)
	}

	data["status"] = reach.StatusCode
	if reach.StatusCode >= http.StatusInternalServerError {
		r.issue(IssueNetwork, fmt.Sprintf("The webhook host answered the reachability check with status %d.", reach.StatusCode),
			"Check the receiver's status page and that the Zap is turned on.")
		return warning(fmt.Sprintf("host reachable but returned %d", reach.StatusCode), data)
	}
	return completed(fmt.Sprintf("host reachable (status %d)", reach.StatusCode), data)
}

func (r *diagnosticRun) checkPayload(context.Context) stepOutcome {
	if r.order == nil {
		return failed("no order data to build a payload from", nil)
	}

	body, err := zapier.BuildPayload(models.EventDiagnosticTest, r.order, r.settings, r.svc.maxPayloadBytes)
	switch {
	case errors.Is(err, zapier.ErrPayloadTooLarge):
		r.issue(IssueData, fmt.Sprintf("The payload is too large: %v.", err),
			"Turn off optional payload sections or raise WEBHOOK_MAX_PAYLOAD_BYTES.")
		return failed(err.Error(), map[string]any{"max_bytes": r.svc.maxPayloadBytes})
	case errors.Is(err, zapier.ErrMissingOrderFields):
		r.issue(IssueData, "The order is missing fields required in every payload.",
			"Make sure the order has an id and order number.")
		return failed(err.Error(), nil)
	case err != nil:
		r.issue(IssueData, fmt.Sprintf("The payload could not be built: %v.", err),
			"Check the order record for values that cannot be encoded.")
		return failed(err.Error(), nil)
	}

	data := map[string]any{"bytes": len(body), "max_bytes": r.svc.maxPayloadBytes}
	if problems := zapier.ValidateOrder(r.order); len(problems) > 0 {
		return failed("payload would carry invalid order data", data)
	}
	r.body = body
	return completed(fmt.Sprintf("payload built (%d bytes)", len(body)), data)
}

func (r *diagnosticRun) deliverTest(ctx context.Context) stepOutcome {
	delivery := r.svc.client.Deliver(ctx, zapier.DeliveryRequest{
		URL:     r.url,
		Secret:  r.settings.Secret,
		Event:   models.EventDiagnosticTest,
		Body:    r.body,
		Timeout: r.settings.Timeout(),
	})

	test := &DeliveryTest{
		URL:            r.url,
		RequestBody:    string(r.body),
		Signed:         r.settings.Secret != "",
		HTTPStatus:     delivery.StatusCode,
		Success:        delivery.Success,
		ResponseTimeMs: delivery.ResponseTime.Milliseconds(),
		ResponseBody:   delivery.ResponseBody,
		Error:          delivery.ErrorMessage(),
	}
	r.report.Delivery = test

	if r.svc.deliveryLogs != nil {
		entry := &models.WebhookDeliveryLog{
			OrderID:        r.order.ID,
			EventType:      models.EventDiagnosticTest,
			URL:            r.url,
			RequestBody:    test.RequestBody,
			HTTPStatus:     delivery.StatusCode,
			Success:        delivery.Success,
			ResponseTimeMs: test.ResponseTimeMs,
			ResponseBody:   delivery.ResponseBody,
			ErrorMessage:   test.Error,
		}
		if err := r.svc.deliveryLogs.Insert(ctx, entry); err != nil {
			r.logger.Warn("failed to archive diagnostic delivery", "error", err)
		}
	}

	data := map[string]any{"status": delivery.StatusCode, "response_time_ms": test.ResponseTimeMs}
	if delivery.Success {
		return completed(fmt.Sprintf("test payload accepted (status %d)", delivery.StatusCode), data)
	}
	if delivery.Err != nil {
		r.issue(IssueNetwork, fmt.Sprintf("The test delivery failed: %v", delivery.Err),
			"Retry the diagnostic; if it persists, raise the timeout or check outbound connectivity.")
	} else {
		r.issue(IssueConfiguration, fmt.Sprintf("The receiver rejected the test payload with status %d.", delivery.StatusCode),
			"Confirm the Zap is turned on and the catch hook URL is current.")
	}
	return failed(test.Error, data)
}

func (r *diagnosticRun) finish(started time.Time) *DiagnosticReport {
	report := r.report
	report.ElapsedMs = time.Since(started).Milliseconds()
	report.Steps = r.session.Steps
	for _, step := range r.session.Steps {
		report.TotalSteps++
		switch step.Status {
		case models.StepCompleted:
			report.CompletedSteps++
		case models.StepFailed:
			report.FailedSteps++
		case models.StepWarning:
			report.WarningSteps++
		}
	}
	report.IssuesByCategory = groupIssues(report.Issues)
	report.Success = report.FailedSteps == 0 && report.Delivery != nil && report.Delivery.Success
	return report
}

// persistSteps writes the final step states for history. It stops quietly
// when the debug log table does not exist.
func (s *DiagnosticService) persistSteps(ctx context.Context, session *models.DebugSession) {
	if s.debugLogs == nil {
		return
	}
	logger := logging.FromContext(ctx, s.logger)
	for _, step := range session.Steps {
		entry := &models.DebugLogEntry{
			SessionID:   session.ID,
			OrderNumber: session.OrderNumber,
			StepName:    step.Name,
			Status:      step.Status,
			Message:     step.Message,
			DurationMs:  step.DurationMs,
		}
		err := s.debugLogs.Insert(ctx, entry)
		if errors.Is(err, db.ErrSourceUnavailable) {
			logger.Debug("debug log table unavailable; diagnostic history not persisted")
			return
		}
		if err != nil {
			logger.Warn("failed to persist diagnostic step", "error", err, "step", step.Name)
		}
	}
}

func usableURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "https" || parsed.Scheme == "http"
}
