package marketdata

import (
	"strings"
	"testing"

	"stockwatch_backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQtSymbolMapping(t *testing.T) {
	assert.Equal(t, "sh600000", qtSymbol("600000", models.MarketCN))
	assert.Equal(t, "sz000001", qtSymbol("000001", models.MarketCN))
	assert.Equal(t, "sz300750", qtSymbol("300750", models.MarketCN))
	assert.Equal(t, "sh601318", qtSymbol("sh601318", models.MarketCN))
	assert.Equal(t, "hk00700", qtSymbol("00700", models.MarketHK))
	assert.Equal(t, "usAAPL", qtSymbol("AAPL", models.MarketUS))
}

func TestParseQtQuote(t *testing.T) {
	fields := make([]string, 50)
	for i := range fields {
		fields[i] = "0"
	}
	fields[1] = "浦发银行"
	fields[2] = "600000"
	fields[3] = "10.50"
	fields[4] = "10.20"
	fields[5] = "10.25"
	fields[6] = "1234567"
	fields[31] = "0.30"
	fields[32] = "2.94"
	fields[33] = "10.60"
	fields[34] = "10.15"
	fields[37] = "129000"

	body := `v_sh600000="` + strings.Join(fields, "~") + `";`
	q, err := parseQtQuote("600000", models.MarketCN, body)
	require.NoError(t, err)

	assert.Equal(t, "浦发银行", q.Name)
	assert.Equal(t, "10.5", q.Price.String())
	assert.Equal(t, "10.2", q.PrevClose.String())
	assert.Equal(t, int64(1234567), q.Volume)
	assert.Equal(t, "2.94", q.ChangePct.String())
	assert.Equal(t, "10.6", q.High.String())
}

func TestParseQtQuoteMalformed(t *testing.T) {
	_, err := parseQtQuote("600000", models.MarketCN, "garbage")
	assert.Error(t, err)

	_, err = parseQtQuote("600000", models.MarketCN, `v_sh600000="1~too~short";`)
	assert.Error(t, err)
}

func TestParseNewsPayload(t *testing.T) {
	body := `cb({"result":{"cmsArticleWebOld":[` +
		`{"date":"2024-01-08 09:30:00","mediaName":"证券时报","title":"浦发银行发布年度业绩快报"},` +
		`{"date":"2024-01-07 18:00:00","mediaName":"上海证券报","title":"银行板块午后走强"},` +
		`{"date":"2024-01-07 08:00:00","mediaName":"某媒体","title":""}]}})`

	items, err := parseNewsPayload("600000", body, 5)
	require.NoError(t, err)
	require.Len(t, items, 2) // the empty title is dropped
	assert.Equal(t, "浦发银行发布年度业绩快报", items[0].Title)
	assert.Equal(t, "证券时报", items[0].Source)
	assert.Equal(t, 2024, items[0].PublishedAt.Year())

	// limit caps the returned slice
	items, err = parseNewsPayload("600000", body, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = parseNewsPayload("600000", "cb(garbage)", 5)
	assert.Error(t, err)
}

func TestSummarizeTrend(t *testing.T) {
	// 30 rising closes
	bars := make([]bar, 30)
	for i := range bars {
		bars[i] = bar{close: 10 + float64(i)*0.2, volume: 1000}
	}
	s := summarize(bars)
	assert.Equal(t, "up", s.Trend)
	assert.Greater(t, s.Change5d, 0.0)
	assert.Greater(t, s.Change20d, 0.0)
	assert.InDelta(t, 1.0, s.VolumeRatio, 0.001)

	// falling closes
	for i := range bars {
		bars[i] = bar{close: 20 - float64(i)*0.2, volume: 1000}
	}
	s = summarize(bars)
	assert.Equal(t, "down", s.Trend)

	// volume spike on the last bar
	for i := range bars {
		bars[i] = bar{close: 10, volume: 1000}
	}
	bars[29].volume = 3000
	s = summarize(bars)
	assert.InDelta(t, 3.0, s.VolumeRatio, 0.001)
	assert.Equal(t, "sideways", s.Trend)
}
