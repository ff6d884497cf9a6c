package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"stockwatch_backend/models"
	"stockwatch_backend/services/executor"
	"stockwatch_backend/services/notify"
	"stockwatch_backend/services/suggestions"

	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// runTimeout bounds one execution including the AI pass.
const runTimeout = 5 * time.Minute

// Trigger origins recorded on run records.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Scheduler drives agent executions: a fixed-interval ticker finds due
// (agent, instrument) pairs, claims a run lock for each, and hands the work
// to per-run goroutines. Manual triggers enter the same claim path.
type Scheduler struct {
	db         *gorm.DB
	resolver   *Resolver
	locks      *RunLockManager
	exec       *executor.Executor
	dispatcher *notify.Dispatcher
	pool       *suggestions.Pool

	cron         *gocron.Scheduler
	tickInterval time.Duration

	mu       sync.Mutex
	lastTick time.Time
}

// New wires the scheduler together. tickInterval is how often due
// schedules are evaluated; fire times between ticks are picked up on the
// next tick, never dropped.
func New(db *gorm.DB, resolver *Resolver, locks *RunLockManager, exec *executor.Executor, dispatcher *notify.Dispatcher, pool *suggestions.Pool, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = time.Minute
	}
	return &Scheduler{
		db:           db,
		resolver:     resolver,
		locks:        locks,
		exec:         exec,
		dispatcher:   dispatcher,
		pool:         pool,
		tickInterval: tickInterval,
	}
}

// Start launches the ticker and the daily suggestion cleanup job.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	s.lastTick = time.Now()
	s.mu.Unlock()

	s.cron = gocron.NewScheduler(s.resolver.Location())
	if _, err := s.cron.Every(s.tickInterval).Do(s.Tick); err != nil {
		return err
	}
	if _, err := s.cron.Every(1).Day().At("03:00").Do(func() {
		if _, err := s.pool.CleanupOld(30 * 24 * time.Hour); err != nil {
			log.Errorf("suggestion cleanup failed: %v", err)
		}
	}); err != nil {
		return err
	}

	s.cron.StartAsync()
	log.Infof("scheduler started, tick every %s, timezone %s", s.tickInterval, s.resolver.Location())
	return nil
}

// Stop halts the ticker. In-flight runs finish on their own goroutines.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Tick evaluates every enabled agent's schedules over (lastTick, now] and
// claims a run for each due pair. The window is half-open so a fire time is
// claimed exactly once across ticks.
func (s *Scheduler) Tick() {
	now := time.Now()
	s.mu.Lock()
	from := s.lastTick
	s.lastTick = now
	s.mu.Unlock()

	var agents []models.AgentDefinition
	if err := s.db.Where("enabled = ?", true).Find(&agents).Error; err != nil {
		log.Errorf("tick: failed to load agents: %v", err)
		return
	}
	if len(agents) == 0 {
		return
	}

	var instruments []models.Instrument
	if err := s.db.Where("enabled = ?", true).Find(&instruments).Error; err != nil {
		log.Errorf("tick: failed to load instruments: %v", err)
		return
	}

	for i := range agents {
		agent := agents[i]
		if agent.ExecutionMode == models.ModeBatch {
			expr, _ := EffectiveSchedule(&agent, nil)
			if s.resolver.DueBetween(expr, from, now) {
				s.launchBatch(agent, instruments, TriggerSchedule, executor.Options{})
			}
			continue
		}

		overrides := s.overridesFor(agent.Name)
		for j := range instruments {
			inst := instruments[j]
			override := overrides[inst.ID]
			expr, _ := EffectiveSchedule(&agent, override)
			if s.resolver.DueBetween(expr, from, now) {
				s.launchSingle(agent, inst, override, TriggerSchedule, executor.Options{})
			}
		}
	}
}

func (s *Scheduler) overridesFor(agentName string) map[uint]*models.InstrumentAgent {
	var rows []models.InstrumentAgent
	if err := s.db.Where("agent_name = ?", agentName).Find(&rows).Error; err != nil {
		log.Errorf("failed to load overrides for %s: %v", agentName, err)
		return nil
	}
	byInst := make(map[uint]*models.InstrumentAgent, len(rows))
	for i := range rows {
		byInst[rows[i].InstrumentID] = &rows[i]
	}
	return byInst
}

// TriggerOutcome pairs a finalized manual run with the suggestions it
// produced, so the caller gets the result without polling run history.
type TriggerOutcome struct {
	Run         *models.RunRecord    `json:"run"`
	Suggestions []*models.Suggestion `json:"suggestions,omitempty"`
}

// TriggerAgent runs one agent immediately, outside its schedule, and blocks
// until every claimed run finalizes. For single-mode agents instrumentKey
// narrows the run to one instrument; empty runs every enabled instrument.
// Returns one outcome per finalized run, or ErrBusy when every targeted
// pair is already in flight.
func (s *Scheduler) TriggerAgent(agentName, instrumentKey string, opts executor.Options) ([]TriggerOutcome, error) {
	var agent models.AgentDefinition
	if err := s.db.Where("name = ?", agentName).First(&agent).Error; err != nil {
		return nil, fmt.Errorf("unknown agent: %s", agentName)
	}

	var instruments []models.Instrument
	q := s.db.Where("enabled = ?", true)
	if instrumentKey != "" {
		symbol, market, ok := splitKey(instrumentKey)
		if !ok {
			return nil, fmt.Errorf("invalid instrument key: %s", instrumentKey)
		}
		q = q.Where("symbol = ? AND market = ?", symbol, market)
	}
	if err := q.Find(&instruments).Error; err != nil {
		return nil, err
	}
	if instrumentKey != "" && len(instruments) == 0 {
		return nil, fmt.Errorf("instrument not found: %s", instrumentKey)
	}

	if agent.ExecutionMode == models.ModeBatch {
		rec, err := s.locks.TryClaim(agent.Name, "", TriggerManual)
		if err != nil {
			return nil, err
		}
		sugs := s.runBatch(rec, agent, instruments, opts)
		return []TriggerOutcome{{Run: rec, Suggestions: sugs}}, nil
	}

	overrides := s.overridesFor(agent.Name)
	var outcomes []TriggerOutcome
	busy := 0
	for i := range instruments {
		rec, err := s.locks.TryClaim(agent.Name, instruments[i].Key(), TriggerManual)
		if err == ErrBusy {
			busy++
			continue
		}
		if err != nil {
			return outcomes, err
		}
		sugs := s.runSingle(rec, agent, instruments[i], overrides[instruments[i].ID], opts)
		outcomes = append(outcomes, TriggerOutcome{Run: rec, Suggestions: sugs})
	}
	if len(outcomes) == 0 && busy > 0 {
		return nil, ErrBusy
	}
	return outcomes, nil
}

func splitKey(key string) (symbol string, market models.Market, ok bool) {
	i := strings.LastIndex(key, ".")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], models.Market(key[i+1:]), true
}

// launchSingle claims and runs one (agent, instrument) pair asynchronously.
func (s *Scheduler) launchSingle(agent models.AgentDefinition, inst models.Instrument, override *models.InstrumentAgent, trigger string, opts executor.Options) {
	rec, err := s.locks.TryClaim(agent.Name, inst.Key(), trigger)
	if err == ErrBusy {
		log.Debugf("skip %s/%s: run in flight", agent.Name, inst.Key())
		return
	}
	if err != nil {
		log.Errorf("claim failed for %s/%s: %v", agent.Name, inst.Key(), err)
		return
	}

	go s.runSingle(rec, agent, inst, override, opts)
}

// launchBatch claims and runs one batch-wide execution asynchronously.
func (s *Scheduler) launchBatch(agent models.AgentDefinition, instruments []models.Instrument, trigger string, opts executor.Options) {
	rec, err := s.locks.TryClaim(agent.Name, "", trigger)
	if err == ErrBusy {
		log.Debugf("skip %s batch: run in flight", agent.Name)
		return
	}
	if err != nil {
		log.Errorf("claim failed for %s batch: %v", agent.Name, err)
		return
	}

	go s.runBatch(rec, agent, instruments, opts)
}

// wantsEnrichment decides whether a threshold trip proceeds to the AI pass.
// Scheduled ticks always enrich; a manual trigger stays rule-only unless
// the caller asked for analysis.
func wantsEnrichment(trigger string, opts executor.Options) bool {
	return trigger == TriggerSchedule || opts.Analyze
}

// runSingle executes the full pipeline for one claimed pair: cheap pass,
// result checkpoint, AI enrichment, throttle, dispatch, release. Returns
// the suggestions the run produced.
func (s *Scheduler) runSingle(rec *models.RunRecord, agent models.AgentDefinition, inst models.Instrument, override *models.InstrumentAgent, opts executor.Options) []*models.Suggestion {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	outcome := s.exec.ExecuteSingle(ctx, &agent, &inst, opts)
	if outcome.Err != nil {
		s.locks.Release(rec, outcome.Result, outcome.Err.Error())
		return nil
	}

	if outcome.Enrich != nil && wantsEnrichment(rec.Trigger, opts) {
		// checkpoint the cheap result before the slow pass
		s.locks.UpdateResult(rec, outcome.Result)
		enriched := outcome.Enrich(ctx)
		if enriched.Err != nil {
			s.locks.Release(rec, enriched.Result, enriched.Err.Error())
			return nil
		}
		outcome = enriched
	}

	result := s.dispatchAlerts(ctx, &agent, override, outcome, opts)
	s.locks.Release(rec, result, "")
	return outcome.Suggestions
}

// runBatch executes one batch-wide run: one AI invocation over all
// instruments, then a single combined notification for the alerting subset.
// Returns the suggestions the run produced.
func (s *Scheduler) runBatch(rec *models.RunRecord, agent models.AgentDefinition, instruments []models.Instrument, opts executor.Options) []*models.Suggestion {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	outcome := s.exec.ExecuteBatch(ctx, &agent, instruments, opts)
	if outcome.Err != nil {
		s.locks.Release(rec, outcome.Result, outcome.Err.Error())
		return nil
	}

	result := s.dispatchAlerts(ctx, &agent, nil, outcome, opts)
	s.locks.Release(rec, result, "")
	return outcome.Suggestions
}

// dispatchAlerts sends notifications for the outcome's alerting suggestions
// under the throttle, and appends a dispatch summary to the run result.
// Delivery failures never flip the run status.
func (s *Scheduler) dispatchAlerts(ctx context.Context, agent *models.AgentDefinition, override *models.InstrumentAgent, outcome *executor.Outcome, opts executor.Options) string {
	alerting := outcome.Alerting()
	if len(alerting) == 0 {
		return outcome.Result
	}

	agentOpts := agent.ParsedOptions()
	cooldown := time.Duration(agentOpts.ThrottleMinutes) * time.Minute
	throttle := s.dispatcher.Throttle()

	sent, suppressed, throttled, failed := 0, 0, 0, 0
	for _, sug := range alerting {
		// batch runs throttle per instrument too, so a manual re-run
		// shortly after the schedule does not double-notify
		throttleKey := sug.InstrumentKey

		if !opts.BypassThrottle && !throttle.ShouldEmit(agent.Name, throttleKey, cooldown) {
			throttled++
			continue
		}

		title, body := executor.FormatAlert(sug)
		results, err := s.dispatcher.Dispatch(ctx, agent, override, title, body, agentOpts.Critical)
		if err != nil {
			log.Errorf("dispatch failed for %s/%s: %v", agent.Name, sug.InstrumentKey, err)
			failed++
			continue
		}

		emitted := false
		for _, r := range results {
			switch r.Status {
			case notify.StatusSent:
				sent++
				emitted = true
			case notify.StatusSuppressed:
				suppressed++
			case notify.StatusFailed:
				failed++
			}
		}
		if emitted && !opts.BypassThrottle {
			if err := throttle.MarkEmitted(agent.Name, throttleKey); err != nil {
				log.Errorf("throttle mark failed for %s/%s: %v", agent.Name, throttleKey, err)
			}
		}
	}

	summary := fmt.Sprintf("alerts: %d sent", sent)
	if throttled > 0 {
		summary += fmt.Sprintf(", %d throttled", throttled)
	}
	if suppressed > 0 {
		summary += fmt.Sprintf(", %d quiet-hours", suppressed)
	}
	if failed > 0 {
		summary += fmt.Sprintf(", %d failed", failed)
	}
	if outcome.Result == "" {
		return summary
	}
	return outcome.Result + " | " + summary
}
