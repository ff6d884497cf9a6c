package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockwatch_backend/models"
	"stockwatch_backend/services/aiclient"
	"stockwatch_backend/services/marketdata"
	"stockwatch_backend/services/suggestions"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Options are per-invocation execution flags. Manual triggers may set any
// of them; scheduled ticks run with the zero value.
type Options struct {
	BypassThrottle    bool // emit even within the cooldown window
	BypassMarketHours bool // run even when the market is closed
	Analyze           bool // request the AI pass; a manual trigger without it stays rule-only
}

// Outcome is the result of one execution. For single mode it covers one
// instrument; for batch mode one agent-wide run (empty InstrumentKey).
//
// Enrich, when non-nil, runs the AI pass and returns a replacement outcome.
// The caller decides when to invoke it (under the held run lock) and how to
// surface the intermediate Result.
type Outcome struct {
	InstrumentKey string
	Result        string
	Err           error
	Suggestions   []*models.Suggestion

	Enrich func(ctx context.Context) *Outcome
}

// Alerting returns the suggestions that warrant a notification.
func (o *Outcome) Alerting() []*models.Suggestion {
	var out []*models.Suggestion
	for _, s := range o.Suggestions {
		if s.ShouldAlert {
			out = append(out, s)
		}
	}
	return out
}

// Executor runs agents against instruments: loads the analysis context,
// applies the cheap threshold pass and, when warranted, the AI pass.
type Executor struct {
	db     *gorm.DB
	ai     *aiclient.Client
	market marketdata.Provider
	pool   *suggestions.Pool
	now    func() time.Time
}

// New creates an executor.
func New(db *gorm.DB, ai *aiclient.Client, market marketdata.Provider, pool *suggestions.Pool) *Executor {
	return &Executor{
		db:     db,
		ai:     ai,
		market: market,
		pool:   pool,
		now:    time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// ExecuteSingle runs one agent against one instrument. A cheap threshold
// pass over the fetched data decides whether the AI pass is worth its cost;
// the AI pass arrives as the Enrich closure so the caller can record the
// cheap result first and decide whether the pass runs at all.
func (e *Executor) ExecuteSingle(ctx context.Context, agent *models.AgentDefinition, inst *models.Instrument, opts Options) *Outcome {
	key := inst.Key()

	if !opts.BypassMarketHours && !inst.Market.IsTradingTime(e.now()) {
		return &Outcome{
			InstrumentKey: key,
			Result:        fmt.Sprintf("skipped: %s market closed", inst.Market),
		}
	}

	bundle, err := e.buildContext(ctx, inst)
	if err != nil {
		return &Outcome{InstrumentKey: key, Err: err}
	}

	agentOpts := agent.ParsedOptions()
	findings := e.thresholdPass(bundle, agentOpts)

	if len(findings) == 0 && !opts.Analyze {
		return &Outcome{InstrumentKey: key, Result: "no notable signals"}
	}

	cheapResult := "signals: " + strings.Join(findings, "; ")
	if len(findings) == 0 {
		cheapResult = "analysis requested"
	}

	promptCtx := bundle.Render()
	if len(findings) > 0 {
		promptCtx += "\n触发信号: " + strings.Join(findings, "; ") + "\n"
	}

	return &Outcome{
		InstrumentKey: key,
		Result:        cheapResult,
		Enrich: func(ctx context.Context) *Outcome {
			return e.enrichSingle(ctx, agent, inst, promptCtx, cheapResult)
		},
	}
}

// enrichSingle runs the AI pass for one instrument. A model failure fails
// the run; the cheap result already captured what triggered it.
func (e *Executor) enrichSingle(ctx context.Context, agent *models.AgentDefinition, inst *models.Instrument, promptCtx, cheapResult string) *Outcome {
	key := inst.Key()

	reply, err := e.ai.ChatWithModel(ctx, agent.AIModel, singleSystemPrompt, promptCtx)
	if err != nil {
		return &Outcome{InstrumentKey: key, Result: cheapResult, Err: err}
	}

	action := aiclient.ParseAction(reply)
	s := e.pooledSave(toSuggestion(agent, inst, action, promptCtx, reply, e.now()))
	log.Infof("%s analyzed %s: %s (%s)", agent.Name, key, action.Action, action.ActionLabel)

	return &Outcome{
		InstrumentKey: key,
		Result:        fmt.Sprintf("%s | %s: %s", cheapResult, action.ActionLabel, action.Signal),
		Suggestions:   []*models.Suggestion{s},
	}
}

// ExecuteBatch runs one agent against all its instruments in a single AI
// invocation. There is no cheap pass for batch agents: the invocation is
// the product (daily report, premarket outlook). An invocation failure
// fails the whole run.
func (e *Executor) ExecuteBatch(ctx context.Context, agent *models.AgentDefinition, insts []models.Instrument, opts Options) *Outcome {
	if len(insts) == 0 {
		return &Outcome{Result: "no enabled instruments"}
	}

	var sections []string
	covered := make(map[string]*models.Instrument, len(insts))
	for i := range insts {
		inst := &insts[i]
		bundle, err := e.buildContext(ctx, inst)
		if err != nil {
			sections = append(sections, fmt.Sprintf("## %s\n数据暂不可用: %v\n", inst.Key(), err))
			continue
		}
		sections = append(sections, bundle.Render())
		covered[inst.Key()] = inst
	}
	if len(covered) == 0 {
		return &Outcome{Err: fmt.Errorf("no instrument data available for batch run")}
	}

	promptCtx := strings.Join(sections, "\n")
	reply, err := e.ai.ChatWithModel(ctx, agent.AIModel, batchSystemPrompt, promptCtx)
	if err != nil {
		return &Outcome{Err: err}
	}

	actions := aiclient.ParseBatchActions(reply)
	now := e.now()
	var stored []*models.Suggestion
	var summary []string
	for key, inst := range covered {
		action, ok := actions[key]
		if !ok {
			continue
		}
		s := e.pooledSave(toSuggestion(agent, inst, action, promptCtx, reply, now))
		stored = append(stored, s)
		summary = append(summary, fmt.Sprintf("%s %s", key, action.ActionLabel))
	}

	log.Infof("%s batch analyzed %d/%d instruments", agent.Name, len(stored), len(covered))
	return &Outcome{
		Result:      fmt.Sprintf("analyzed %d instruments: %s", len(stored), strings.Join(summary, ", ")),
		Suggestions: stored,
	}
}

// thresholdPass applies the agent's numeric thresholds to the fetched data
// and names every signal that trips.
func (e *Executor) thresholdPass(b *ContextBundle, opts models.AgentOptions) []string {
	var findings []string

	changePct, _ := b.Quote.ChangePct.Float64()
	if opts.PriceAlertThreshold > 0 && abs(changePct) >= opts.PriceAlertThreshold {
		findings = append(findings, fmt.Sprintf("price moved %.2f%%", changePct))
	}

	if b.Technical != nil && opts.VolumeAlertRatio > 0 && b.Technical.VolumeRatio >= opts.VolumeAlertRatio {
		findings = append(findings, fmt.Sprintf("volume ratio %.2f", b.Technical.VolumeRatio))
	}

	if b.Position.Held() {
		profit, _ := b.Position.ProfitPct(b.Quote.Price).Float64()
		if opts.StopLossWarning < 0 && profit <= opts.StopLossWarning {
			findings = append(findings, fmt.Sprintf("stop-loss warning: %.2f%%", profit))
		}
		if opts.TakeProfitWarning > 0 && profit >= opts.TakeProfitWarning {
			findings = append(findings, fmt.Sprintf("take-profit reached: %.2f%%", profit))
		}
	}

	return findings
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// FormatAlert renders one suggestion as a notification title and body.
func FormatAlert(s *models.Suggestion) (title, body string) {
	title = fmt.Sprintf("%s %s: %s", s.AgentLabel, s.InstrumentKey, s.ActionLabel)
	var sb strings.Builder
	name := s.Name
	if name == "" {
		name = s.InstrumentKey
	}
	fmt.Fprintf(&sb, "**%s** (%s)\n", name, s.InstrumentKey)
	fmt.Fprintf(&sb, "建议: %s\n", s.ActionLabel)
	if s.Signal != "" {
		fmt.Fprintf(&sb, "信号: %s\n", s.Signal)
	}
	if s.Reason != "" {
		fmt.Fprintf(&sb, "理由: %s\n", s.Reason)
	}
	return title, sb.String()
}
