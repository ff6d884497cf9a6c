package aiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stockwatch_backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionPlainJSON(t *testing.T) {
	res := ParseAction(`{"action":"buy","action_label":"买入","signal":"放量突破","reason":"站上20日线"}`)
	assert.Equal(t, models.ActionBuy, res.Action)
	assert.Equal(t, "买入", res.ActionLabel)
	assert.Equal(t, "放量突破", res.Signal)
	assert.True(t, res.ShouldAlert)
}

func TestParseActionFencedJSON(t *testing.T) {
	content := "```json\n{\"action\":\"reduce\",\"action_label\":\"减仓\",\"signal\":\"触及止盈\",\"reason\":\"盈利超过10%\"}\n```"
	res := ParseAction(content)
	assert.Equal(t, models.ActionReduce, res.Action)
	assert.Equal(t, "减仓", res.ActionLabel)
	assert.True(t, res.ShouldAlert)
}

func TestParseActionEmbeddedJSON(t *testing.T) {
	content := `根据分析,建议如下: {"action":"hold","action_label":"持有","signal":"震荡整理","reason":"趋势未变"} 请注意风险。`
	res := ParseAction(content)
	assert.Equal(t, models.ActionHold, res.Action)
	assert.False(t, res.ShouldAlert)
}

func TestParseActionFallbackToWatch(t *testing.T) {
	res := ParseAction("今日市场震荡,建议谨慎观望。")
	assert.Equal(t, models.ActionWatch, res.Action)
	assert.Equal(t, "watch", res.ActionLabel)
	assert.False(t, res.ShouldAlert)
}

func TestParseActionTruncatesFields(t *testing.T) {
	long := strings.Repeat("长", 300)
	content, _ := json.Marshal(map[string]string{
		"action": "alert", "action_label": long, "signal": long, "reason": long,
	})
	res := ParseAction(string(content))
	assert.Len(t, []rune(res.ActionLabel), 20)
	assert.Len(t, []rune(res.Signal), 60)
	assert.Len(t, []rune(res.Reason), 160)
	assert.True(t, res.ShouldAlert)
}

func TestParseActionAlertMapping(t *testing.T) {
	alerting := []models.SuggestionAction{
		models.ActionBuy, models.ActionAdd, models.ActionReduce,
		models.ActionSell, models.ActionAlert, models.ActionAvoid,
	}
	for _, a := range alerting {
		res := ParseAction(`{"action":"` + string(a) + `"}`)
		assert.True(t, res.ShouldAlert, "action %s should alert", a)
	}
	for _, a := range []models.SuggestionAction{models.ActionHold, models.ActionWatch} {
		res := ParseAction(`{"action":"` + string(a) + `"}`)
		assert.False(t, res.ShouldAlert, "action %s should not alert", a)
	}
}

func TestParseBatchActions(t *testing.T) {
	content := "```json\n" + `{
		"600000.CN": {"action":"hold","action_label":"持有","signal":"横盘","reason":"等待方向"},
		"0700.HK": {"action":"add","action_label":"加仓","signal":"回调到位","reason":"支撑有效"}
	}` + "\n```"

	actions := ParseBatchActions(content)
	require.Len(t, actions, 2)
	assert.Equal(t, models.ActionHold, actions["600000.CN"].Action)
	assert.False(t, actions["600000.CN"].ShouldAlert)
	assert.Equal(t, models.ActionAdd, actions["0700.HK"].Action)
	assert.True(t, actions["0700.HK"].ShouldAlert)
}

func TestParseBatchActionsSkipsMalformedEntries(t *testing.T) {
	content := `{"600000.CN": {"action":"buy"}, "0700.HK": "nonsense", "AAPL.US": {}}`
	actions := ParseBatchActions(content)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionBuy, actions["600000.CN"].Action)
}

func TestChatSendsBearerAndModel(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", "glm-4")
	reply, err := c.Chat(context.Background(), "system", "user")
	require.NoError(t, err)

	assert.Equal(t, "ok", reply)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "glm-4", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
}

func TestChatWithModelOverride(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "glm-4")
	_, err := c.ChatWithModel(context.Background(), "glm-4-plus", "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "glm-4-plus", gotReq.Model)
}

func TestChatErrorResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "quota exceeded"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "glm-4")
	_, err := c.Chat(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "glm-4")
	_, err := c.Chat(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
