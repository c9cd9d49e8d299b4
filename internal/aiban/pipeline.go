package aiban

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatescope/gatescope/internal/analytics"
	"github.com/gatescope/gatescope/internal/cache"
	"github.com/gatescope/gatescope/internal/database"
	"github.com/gatescope/gatescope/internal/logging"
	"github.com/gatescope/gatescope/internal/resilience"
)

// Audit actions written by the pipeline.
const (
	ActionBanned      = "banned"
	ActionWouldBan    = "would_ban"
	ActionUnbanned    = "unbanned"
	ActionSkipped     = "skipped"
	ActionWhitelisted = "skipped_whitelist"
	OperatorPipeline  = "ai_ban_pipeline"
)

// ErrScanInProgress rejects overlapping scans.
var ErrScanInProgress = fmt.Errorf("a scan is already running")

// Service drives the risk scoring and ban pipeline: feature extraction from
// the analytics engine, rule scoring, the optional AI verdict, and the ban
// write with its audit trail.
type Service struct {
	engine *analytics.Engine
	gw     *database.Gateway
	local  *database.LocalStore
	cache  *cache.Manager

	breaker *resilience.Breaker

	mu       sync.Mutex
	settings Settings
	chat     ChatClient
	scanning bool

	// newChat builds the client from settings; tests swap it out.
	newChat func(baseURL, apiKey string) ChatClient
}

func NewService(engine *analytics.Engine, gw *database.Gateway, local *database.LocalStore, c *cache.Manager) *Service {
	s := &Service{
		engine: engine,
		gw:     gw,
		local:  local,
		cache:  c,
		breaker: resilience.NewBreaker(resilience.Settings{
			Name:                "ai-ban-chat",
			ConsecutiveFailures: 3,
			Cooldown:            5 * time.Minute,
		}),
		newChat: func(baseURL, apiKey string) ChatClient {
			return NewOpenAIClient(baseURL, apiKey)
		},
	}

	if settings, err := s.LoadSettings(context.Background()); err == nil {
		s.settings = settings
	} else {
		s.settings = DefaultSettings()
	}
	return s
}

func (s *Service) currentSettings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Service) chatClient(settings Settings) ChatClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat == nil && settings.BaseURL != "" {
		s.chat = s.newChat(settings.BaseURL, settings.APIKey)
	}
	return s.chat
}

// APIHealth reports the breaker protecting the chat endpoint.
type APIHealth struct {
	Healthy             bool   `json:"healthy"`
	State               string `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

func (s *Service) Health() APIHealth {
	return APIHealth{
		Healthy:             s.breaker.Healthy(),
		State:               s.breaker.State(),
		ConsecutiveFailures: s.breaker.ConsecutiveFailures(),
	}
}

// ResetAPIHealth clears the cooldown after an operator fixes the endpoint.
func (s *Service) ResetAPIHealth() {
	s.breaker.Reset()
}

// Assessment is one user's pipeline outcome.
type Assessment struct {
	UserID      int64    `json:"user_id"`
	Username    string   `json:"username"`
	Window      string   `json:"window"`
	RiskFlags   []string `json:"risk_flags"`
	LocalScore  float64  `json:"local_score"`
	Whitelisted bool     `json:"whitelisted"`
	Verdict     *Verdict `json:"verdict,omitempty"`
	VerdictErr  string   `json:"verdict_error,omitempty"`
	Action      string   `json:"action"`
	Features    string   `json:"features"`
}

// Assess runs feature extraction, scoring and (when configured) the AI
// verdict for one user, without applying any decision.
func (s *Service) Assess(ctx context.Context, userID int64, window string) (*Assessment, error) {
	settings := s.currentSettings()
	if window == "" {
		window = settings.Window
	}

	analysis, err := s.engine.UserRiskAnalysis(ctx, userID, window, 0, false)
	if err != nil {
		return nil, err
	}

	out := &Assessment{
		UserID:    userID,
		Username:  analysis.User.Username,
		Window:    window,
		RiskFlags: analysis.Risk.RiskFlags,
		Features:  FeatureSummary(analysis),
	}
	out.LocalScore = LocalScore(analysis.Risk.RiskFlags, settings.FlagWeights)

	out.Whitelisted, err = s.local.WhitelistContains(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("whitelist check: %w", err)
	}
	if out.Whitelisted {
		out.Action = ActionWhitelisted
		return out, nil
	}

	if settings.AIEnabled && out.LocalScore >= settings.BanScoreThreshold/2 {
		verdict, err := s.aiVerdict(ctx, settings, out.Features)
		if err != nil {
			out.VerdictErr = err.Error()
		} else {
			out.Verdict = verdict
		}
	}

	out.Action = s.decide(settings, out)
	return out, nil
}

// decide maps score and verdict onto the action the pipeline would take.
func (s *Service) decide(settings Settings, a *Assessment) string {
	shouldBan := a.LocalScore >= settings.BanScoreThreshold
	if a.Verdict != nil {
		shouldBan = a.Verdict.Ban() && a.Verdict.Confidence >= settings.MinConfidence
	}
	if !shouldBan {
		return ActionSkipped
	}
	if settings.DryRun {
		return ActionWouldBan
	}
	return ActionBanned
}

func (s *Service) aiVerdict(ctx context.Context, settings Settings, features string) (*Verdict, error) {
	client := s.chatClient(settings)
	if client == nil {
		return nil, fmt.Errorf("ai endpoint not configured")
	}

	prompt := features
	if settings.CustomPrompt != "" {
		prompt = settings.CustomPrompt + "\n\n" + features
	}

	var verdict *Verdict
	err := s.breaker.Do(func() error {
		resp, err := client.Chat(ctx, ChatRequest{
			Model: settings.Model,
			Messages: []ChatMessage{
				{Role: "system", Content: verdictSystemPrompt},
				{Role: "user", Content: prompt},
			},
			Temperature: 0,
		})
		if err != nil {
			return err
		}
		verdict, err = ParseVerdict(resp.Content())
		return err
	})
	if err == resilience.ErrCircuitOpen {
		return nil, fmt.Errorf("ai endpoint paused after consecutive failures")
	}
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

// ScanResult summarizes one pipeline sweep.
type ScanResult struct {
	ScanID      string       `json:"scan_id"`
	Window      string       `json:"window"`
	DryRun      bool         `json:"dry_run"`
	Scanned     int          `json:"scanned"`
	Banned      int          `json:"banned"`
	WouldBan    int          `json:"would_ban"`
	Skipped     int          `json:"skipped"`
	Whitelisted int          `json:"whitelisted"`
	StartedAt   int64        `json:"started_at"`
	FinishedAt  int64        `json:"finished_at"`
	Assessments []Assessment `json:"assessments"`
}

// Scan runs the full pipeline over the most active users of the window.
// Only one scan runs at a time.
func (s *Service) Scan(ctx context.Context, window string, limit int, operator string) (*ScanResult, error) {
	settings := s.currentSettings()
	if window == "" {
		window = settings.Window
	}
	if limit <= 0 || limit > 100 {
		limit = settings.MaxUsersPerScan
	}
	if operator == "" {
		operator = OperatorPipeline
	}

	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil, ErrScanInProgress
	}
	s.scanning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
	}()

	result := &ScanResult{
		ScanID:    uuid.NewString(),
		Window:    window,
		DryRun:    settings.DryRun,
		StartedAt: time.Now().Unix(),
	}

	candidates, err := s.engine.Leaderboards(ctx, []string{window}, limit, "requests", true)
	if err != nil {
		return nil, fmt.Errorf("scan candidates: %w", err)
	}

	for _, entry := range candidates[window] {
		assessment, err := s.Assess(ctx, entry.UserID, window)
		if err != nil {
			logging.Warn("assessment failed", "scan_id", result.ScanID, "user_id", entry.UserID, "error", err)
			continue
		}
		result.Scanned++

		switch assessment.Action {
		case ActionWhitelisted:
			result.Whitelisted++
		case ActionSkipped:
			result.Skipped++
			// No audit row for clean users; the log would drown in them.
			result.Assessments = append(result.Assessments, *assessment)
			continue
		case ActionWouldBan:
			result.WouldBan++
			s.audit(ctx, result.ScanID, *assessment, operator)
		case ActionBanned:
			if err := s.banUser(ctx, assessment.UserID, settings.DisableTokens); err != nil {
				logging.Error("ban failed", "scan_id", result.ScanID, "user_id", assessment.UserID, "error", err)
				assessment.Action = ActionSkipped
				result.Skipped++
			} else {
				result.Banned++
				s.audit(ctx, result.ScanID, *assessment, operator)
			}
		}
		result.Assessments = append(result.Assessments, *assessment)
	}

	result.FinishedAt = time.Now().Unix()
	logging.Info("ai-ban scan finished",
		"scan_id", result.ScanID, "scanned", result.Scanned,
		"banned", result.Banned, "would_ban", result.WouldBan, "dry_run", result.DryRun)
	return result, nil
}

// audit records a pipeline decision. The audit lives in the local SQLite
// store while the ban hits the gateway, so the two cannot share one
// transaction; the ban write goes first and an audit failure only logs.
func (s *Service) audit(ctx context.Context, scanID string, a Assessment, operator string) {
	details, _ := json.Marshal(map[string]interface{}{
		"risk_flags": a.RiskFlags,
		"verdict":    a.Verdict,
		"features":   a.Features,
	})
	err := s.local.AuditInsert(ctx, database.AuditEntry{
		ScanID:    scanID,
		Action:    a.Action,
		UserID:    a.UserID,
		Username:  a.Username,
		Details:   string(details),
		Operator:  operator,
		RiskScore: a.LocalScore,
	})
	if err != nil {
		logging.Error("audit write failed", "scan_id", scanID, "user_id", a.UserID, "error", err)
	}
}

// banUser sets users.status=2, optionally disabling the user's tokens in
// the same gateway transaction.
func (s *Service) banUser(ctx context.Context, userID int64, disableTokens bool) error {
	return s.gw.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.gw.Rebind(`UPDATE users SET status = 2 WHERE id = ?`), userID)
		if err != nil {
			return fmt.Errorf("ban update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("user %d not found", userID)
		}
		if disableTokens {
			if _, err := tx.ExecContext(ctx,
				s.gw.Rebind(`UPDATE tokens SET status = 2 WHERE user_id = ? AND deleted_at IS NULL`), userID); err != nil {
				return fmt.Errorf("disable tokens: %w", err)
			}
		}
		return nil
	})
}

// Suspicious lists the users the next scan would look at, scored but with
// no AI calls and no writes.
func (s *Service) Suspicious(ctx context.Context, window string, limit int) ([]Assessment, error) {
	settings := s.currentSettings()
	if window == "" {
		window = settings.Window
	}
	if limit <= 0 || limit > 100 {
		limit = settings.MaxUsersPerScan
	}

	candidates, err := s.engine.Leaderboards(ctx, []string{window}, limit, "requests", false)
	if err != nil {
		return nil, err
	}

	out := make([]Assessment, 0, len(candidates[window]))
	for _, entry := range candidates[window] {
		analysis, err := s.engine.UserRiskAnalysis(ctx, entry.UserID, window, 0, false)
		if err != nil {
			logging.Warn("suspicious analysis failed", "user_id", entry.UserID, "error", err)
			continue
		}
		if len(analysis.Risk.RiskFlags) == 0 {
			continue
		}
		a := Assessment{
			UserID:     entry.UserID,
			Username:   analysis.User.Username,
			Window:     window,
			RiskFlags:  analysis.Risk.RiskFlags,
			LocalScore: LocalScore(analysis.Risk.RiskFlags, settings.FlagWeights),
		}
		a.Whitelisted, _ = s.local.WhitelistContains(ctx, entry.UserID)
		out = append(out, a)
	}
	return out, nil
}

// TestConnection probes the chat endpoint with a one-token request.
func (s *Service) TestConnection(ctx context.Context, baseURL, apiKey, model string) error {
	settings := s.currentSettings()
	if baseURL == "" {
		baseURL = settings.BaseURL
	}
	if apiKey == "" || apiKey == "********" {
		apiKey = settings.APIKey
	}
	if model == "" {
		model = settings.Model
	}
	if baseURL == "" {
		return fmt.Errorf("base_url is required")
	}

	client := s.newChat(baseURL, apiKey)
	_, err := client.Chat(ctx, ChatRequest{
		Model:     model,
		Messages:  []ChatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

// TestModel checks that a specific model answers with a parseable verdict.
func (s *Service) TestModel(ctx context.Context, baseURL, apiKey, model string) (*Verdict, error) {
	settings := s.currentSettings()
	if apiKey == "" || apiKey == "********" {
		apiKey = settings.APIKey
	}
	if baseURL == "" {
		baseURL = settings.BaseURL
	}
	if baseURL == "" || model == "" {
		return nil, fmt.Errorf("base_url and model are required")
	}

	client := s.newChat(baseURL, apiKey)
	resp, err := client.Chat(ctx, ChatRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: "system", Content: verdictSystemPrompt},
			{Role: "user", Content: "requests_per_minute: 0.1\nrisk_flags: none\nDecide."},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}
	return ParseVerdict(resp.Content())
}

// Models lists the endpoint's models, cached an hour unless forced.
func (s *Service) Models(ctx context.Context, baseURL, apiKey string, force bool) ([]string, error) {
	settings := s.currentSettings()
	if baseURL == "" {
		baseURL = settings.BaseURL
	}
	if apiKey == "" || apiKey == "********" {
		apiKey = settings.APIKey
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}

	key := "ai_ban:models:" + baseURL
	var cached []string
	if !force && s.cache != nil {
		if found, _ := s.cache.GetJSON(ctx, key, &cached); found {
			return cached, nil
		}
	}

	client, ok := s.newChat(baseURL, apiKey).(*OpenAIClient)
	if !ok {
		return nil, fmt.Errorf("model listing unavailable")
	}
	models, err := client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, models, time.Hour); err != nil {
			logging.Warn("model list cache write failed", "error", err)
		}
	}
	return models, nil
}

// WhitelistEntryView is a whitelist row enriched with the gateway username.
type WhitelistEntryView struct {
	database.WhitelistEntry
	Username string `json:"username"`
}

func (s *Service) AddToWhitelist(ctx context.Context, userID int64, reason, addedBy string) (bool, error) {
	return s.local.WhitelistAdd(ctx, database.WhitelistEntry{
		UserID:  userID,
		Reason:  reason,
		AddedBy: addedBy,
	})
}

func (s *Service) RemoveFromWhitelist(ctx context.Context, userID int64) (bool, error) {
	return s.local.WhitelistRemove(ctx, userID)
}

// SearchWhitelist lists whitelist entries, filtered by user id or username
// substring when keyword is set.
func (s *Service) SearchWhitelist(ctx context.Context, keyword string) ([]WhitelistEntryView, error) {
	entries, err := s.local.WhitelistAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []WhitelistEntryView{}, nil
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}
	usernames, err := s.usernamesFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	keyword = strings.ToLower(strings.TrimSpace(keyword))
	out := make([]WhitelistEntryView, 0, len(entries))
	for _, e := range entries {
		view := WhitelistEntryView{WhitelistEntry: e, Username: usernames[e.UserID]}
		if keyword != "" {
			idMatch := strings.Contains(strconv.FormatInt(e.UserID, 10), keyword)
			nameMatch := strings.Contains(strings.ToLower(view.Username), keyword)
			if !idMatch && !nameMatch {
				continue
			}
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) usernamesFor(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.gw.Query(ctx, fmt.Sprintf(
		`SELECT id, username FROM users WHERE id IN (%s)`,
		database.BuildPlaceholders(s.gw.IsPG(), len(ids), 1)), args...)
	if err != nil {
		return nil, fmt.Errorf("username lookup: %w", err)
	}
	out := make(map[int64]string, len(rows))
	for _, row := range rows {
		out[row.Int64("id")] = row.String("username")
	}
	return out, nil
}

// AuditLogs pages the audit trail.
func (s *Service) AuditLogs(ctx context.Context, limit, offset int, action string, userID int64) ([]database.AuditEntry, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.local.AuditList(ctx, limit, offset, action, userID)
}

func (s *Service) ClearAuditLogs(ctx context.Context) (int64, error) {
	return s.local.AuditClear(ctx)
}
