package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockwatch_backend/models"
	"stockwatch_backend/services/aiclient"
	"stockwatch_backend/services/marketdata"

	log "github.com/sirupsen/logrus"
)

// ContextBundle is everything the AI sees about one instrument: the quote,
// the technical summary, the holding state, recent headlines, and the
// recent analysis trail. Missing pieces degrade to a note instead of
// failing the run.
type ContextBundle struct {
	Instrument *models.Instrument
	Quote      *marketdata.Quote
	Technical  *marketdata.IndicatorSummary
	Position   *models.Position
	News       []marketdata.NewsItem
	Recent     []models.Suggestion

	TradingStyle   string
	AvailableFunds string
	Degraded       []string // sections that failed to load
}

// buildContext assembles the bundle for one instrument. Provider failures
// are recorded in Degraded; only a missing quote is fatal, since without a
// price there is nothing to analyze.
func (e *Executor) buildContext(ctx context.Context, inst *models.Instrument) (*ContextBundle, error) {
	b := &ContextBundle{
		Instrument:     inst,
		TradingStyle:   models.GetSetting(e.db, models.SettingTradingStyle, "稳健波段"),
		AvailableFunds: models.GetSetting(e.db, models.SettingAvailableFunds, ""),
	}

	quote, err := e.market.GetQuote(ctx, inst.Symbol, inst.Market)
	if err != nil {
		return nil, fmt.Errorf("quote unavailable: %w", err)
	}
	b.Quote = quote

	if tech, err := e.market.GetTechnicalSummary(ctx, inst.Symbol, inst.Market); err != nil {
		b.Degraded = append(b.Degraded, "technical")
		log.Warnf("technical summary unavailable for %s: %v", inst.Key(), err)
	} else {
		b.Technical = tech
	}

	var pos models.Position
	if err := e.db.Where("instrument_id = ?", inst.ID).First(&pos).Error; err == nil {
		b.Position = &pos
	}

	if news, err := e.market.GetRecentNews(ctx, inst.Symbol, inst.Market, 5); err != nil {
		b.Degraded = append(b.Degraded, "news")
		log.Warnf("recent news unavailable for %s: %v", inst.Key(), err)
	} else {
		b.News = news
	}

	if recent, err := e.pool.ListForInstrument(inst.Key(), false, 3); err == nil {
		b.Recent = recent
	} else {
		b.Degraded = append(b.Degraded, "recent_analysis")
	}

	return b, nil
}

// Render formats the bundle as the user message for the model.
func (b *ContextBundle) Render() string {
	var sb strings.Builder
	q := b.Quote

	name := b.Instrument.Name
	if name == "" {
		name = q.Name
	}
	fmt.Fprintf(&sb, "## %s (%s)\n", name, b.Instrument.Key())
	fmt.Fprintf(&sb, "现价 %s (%s%%), 昨收 %s, 今开 %s, 最高 %s, 最低 %s, 成交量 %d\n",
		q.Price, q.ChangePct, q.PrevClose, q.Open, q.High, q.Low, q.Volume)

	if t := b.Technical; t != nil {
		fmt.Fprintf(&sb, "技术面: 趋势 %s, 5日涨跌 %.2f%%, 20日涨跌 %.2f%%, 量比 %.2f, MA5 %.2f, MA10 %.2f, MA20 %.2f\n",
			t.Trend, t.Change5d, t.Change20d, t.VolumeRatio, t.MA5, t.MA10, t.MA20)
	} else {
		sb.WriteString("技术面: 数据暂不可用\n")
	}

	if p := b.Position; p.Held() {
		fmt.Fprintf(&sb, "持仓: %s股, 成本 %s, 盈亏 %s%%\n",
			p.Quantity, p.CostPrice, p.ProfitPct(q.Price).Round(2))
	} else {
		sb.WriteString("持仓: 未持有(观察中)\n")
	}

	fmt.Fprintf(&sb, "交易风格: %s\n", b.TradingStyle)
	if b.AvailableFunds != "" {
		fmt.Fprintf(&sb, "可用资金: %s\n", b.AvailableFunds)
	}

	if len(b.News) > 0 {
		sb.WriteString("近期新闻:\n")
		for _, n := range b.News {
			fmt.Fprintf(&sb, "- [%s] %s (%s)\n", n.PublishedAt.Format("01-02"), n.Title, n.Source)
		}
	}

	if len(b.Recent) > 0 {
		sb.WriteString("近期分析:\n")
		for _, s := range b.Recent {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n",
				s.CreatedAt.Format("01-02 15:04"), s.ActionLabel, s.Signal)
		}
	}

	if len(b.Degraded) > 0 {
		fmt.Fprintf(&sb, "(注: 以下数据源暂不可用: %s)\n", strings.Join(b.Degraded, ", "))
	}
	return sb.String()
}

// singleSystemPrompt instructs the model to answer with one JSON action.
const singleSystemPrompt = `你是一名股票投资助手。根据给出的行情、技术面、新闻、持仓与近期分析,给出一个操作建议。
只输出一个JSON对象,字段为:
{"action": "buy|add|reduce|sell|hold|watch|alert|avoid", "action_label": "简短操作(<=20字)", "signal": "触发信号(<=60字)", "reason": "理由(<=160字)"}`

// batchSystemPrompt instructs the model to answer with one JSON object
// keyed by instrument key.
const batchSystemPrompt = `你是一名股票投资助手。根据给出的多只股票的行情与持仓,逐一给出操作建议。
只输出一个JSON对象,键为股票代码(形如 "600000.CN"),值为:
{"action": "buy|add|reduce|sell|hold|watch|alert|avoid", "action_label": "简短操作(<=20字)", "signal": "触发信号(<=60字)", "reason": "理由(<=160字)"}`

// expiryFor computes the suggestion expiry from agent options.
func expiryFor(opts models.AgentOptions, now time.Time) *time.Time {
	t := now.Add(time.Duration(opts.ExpiresHours) * time.Hour)
	return &t
}

// toSuggestion converts a parsed action into a pool row.
func toSuggestion(agent *models.AgentDefinition, inst *models.Instrument, res aiclient.ActionResult, promptCtx, aiResponse string, now time.Time) *models.Suggestion {
	opts := agent.ParsedOptions()
	return &models.Suggestion{
		InstrumentKey: inst.Key(),
		Name:          inst.Name,
		Action:        res.Action,
		ActionLabel:   res.ActionLabel,
		Signal:        res.Signal,
		Reason:        res.Reason,
		ShouldAlert:   res.ShouldAlert,
		AgentName:     agent.Name,
		AgentLabel:    agent.DisplayName,
		ExpiresAt:     expiryFor(opts, now),
		PromptContext: promptCtx,
		AIResponse:    aiResponse,
	}
}

// pooledSave stores a suggestion, logging instead of failing the run when
// persistence goes wrong.
func (e *Executor) pooledSave(s *models.Suggestion) *models.Suggestion {
	stored, err := e.pool.Save(s)
	if err != nil {
		log.Errorf("failed to save suggestion for %s: %v", s.InstrumentKey, err)
		return s
	}
	return stored
}
