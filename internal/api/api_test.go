package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/assistant"
	"github.com/8428215330a-ui/Jarvis/internal/capture"
	"github.com/8428215330a-ui/Jarvis/internal/flow"
	"github.com/8428215330a-ui/Jarvis/internal/location"
	"github.com/8428215330a-ui/Jarvis/internal/logstream"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/scheduler"
	"github.com/8428215330a-ui/Jarvis/internal/store"
	"github.com/8428215330a-ui/Jarvis/internal/testutil"
	"github.com/8428215330a-ui/Jarvis/internal/timer"
	"github.com/8428215330a-ui/Jarvis/internal/voice"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	mu        sync.Mutex
	mode      models.Mode
	epoch     uint64
	active    bool
	toggleErr error
	questions []string
}

func (f *fakeCore) SwitchMode(name string) (bool, error) {
	m, err := models.ParseMode(name)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if m == f.mode {
		return false, nil
	}
	f.mode = m
	f.epoch++
	return true, nil
}

func (f *fakeCore) Toggle() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return false, f.toggleErr
	}
	f.active = !f.active
	return f.active, nil
}

func (f *fakeCore) Scan() { f.Ask(assistant.ScanQuestion) }

func (f *fakeCore) Ask(q string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, q)
}

func (f *fakeCore) Status() assistant.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return assistant.Status{Mode: f.mode, Epoch: f.epoch, Active: f.active}
}

type fakeFlows struct {
	flows     []models.Flow
	running   map[string]bool
	cancelled bool
	dialing   bool
	agent     *models.AgentResult
}

func newFakeFlows() *fakeFlows {
	flows, _ := flow.DefaultCatalog()
	return &fakeFlows{flows: flows, running: map[string]bool{}}
}

func (f *fakeFlows) Trigger(id string) (models.Flow, error) {
	fl, ok := f.Flow(id)
	if !ok {
		return models.Flow{}, flow.ErrFlowNotFound
	}
	if f.running[id] {
		return fl, flow.ErrFlowRunning
	}
	f.running[id] = true
	fl.Status = models.FlowStatusRunning
	return fl, nil
}

func (f *fakeFlows) Flows() []models.Flow { return f.flows }

func (f *fakeFlows) Flow(id string) (models.Flow, bool) {
	for _, fl := range f.flows {
		if fl.ID == id {
			return fl.Clone(), true
		}
	}
	return models.Flow{}, false
}

func (f *fakeFlows) CancelDialing() bool {
	if !f.dialing {
		return false
	}
	f.dialing = false
	f.cancelled = true
	return true
}

func (f *fakeFlows) Dialing() flow.DialingState {
	return flow.DialingState{Active: f.dialing, ContactName: flow.DefaultContactName, ContactNumber: flow.DefaultContactNumber}
}

func (f *fakeFlows) AgentResult() (models.AgentResult, bool) {
	if f.agent == nil {
		return models.AgentResult{}, false
	}
	return *f.agent, true
}

type fakeAudio struct{ path string }

func (a fakeAudio) LatestPath() string { return a.path }

type testEnv struct {
	server   *Server
	core     *fakeCore
	flows    *fakeFlows
	log      *logstream.Stream
	frames   *capture.PushSource
	speech   *voice.PushRecognizer
	position *location.PushSource
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		core:     &fakeCore{mode: models.ModeVisualAid},
		flows:    newFakeFlows(),
		log:      logstream.New(),
		frames:   capture.NewPushSource(),
		speech:   voice.NewPushRecognizer(),
		position: location.NewPushSource(),
	}
	s, err := NewServer(Deps{
		Core:     env.core,
		Flows:    env.flows,
		Log:      env.log,
		Frames:   env.frames,
		Speech:   env.speech,
		Position: env.position,
	}, opts...)
	require.NoError(t, err)
	env.server = s
	t.Cleanup(func() { env.log.Close() })
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = testutil.CreateHTTPRequest(t, method, path, body)
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz")
	body := testutil.AssertJSONResponse(t, rr, "ok")
	assert.Equal(t, map[string]interface{}{"service": "jarvis"}, body["result"])
}

func TestModeHandler(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/mode", map[string]string{"mode": "navigation"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr).Status)
	assert.Equal(t, models.ModeNavigation, env.core.Status().Mode)

	rr = env.do(t, http.MethodPost, "/mode", map[string]string{"mode": "NAVIGATION"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ignored", decode(t, rr).Status)

	rr = env.do(t, http.MethodPost, "/mode", map[string]string{"mode": "telepathy"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/mode", map[string]string{"unexpected": "x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatusHandler(t *testing.T) {
	env := newTestEnv(t)
	env.flows.agent = &models.AgentResult{Summary: "ok", Decision: models.DecisionNormal}

	rr := env.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Result StatusResponse `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &body)
	assert.Equal(t, models.ModeVisualAid, body.Result.Assistant.Mode)
	assert.Len(t, body.Result.Flows, 3)
	assert.Equal(t, flow.DefaultContactNumber, body.Result.Dialing.ContactNumber)
	require.NotNil(t, body.Result.Agent)
	assert.Equal(t, models.DecisionNormal, body.Result.Agent.Decision)
	assert.Empty(t, body.Result.Timers)
}

func TestStatusHandler_ListsStageTimers(t *testing.T) {
	stages := timer.NewSimpleTimer("flow")
	t.Cleanup(stages.Stop)
	id, err := stages.ScheduleAfter(time.Hour, func() {})
	require.NoError(t, err)

	env := newTestEnv(t, WithStageTimers(stages))
	rr := env.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Result StatusResponse `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &body)
	require.Len(t, body.Result.Timers, 1)
	assert.Equal(t, id, body.Result.Timers[0].ID)
	assert.Greater(t, body.Result.Timers[0].Remaining, 59*time.Minute)

	require.NoError(t, stages.Cancel(id))
	rr = env.do(t, http.MethodGet, "/status", nil)
	body.Result.Timers = nil
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &body)
	assert.Empty(t, body.Result.Timers)
}

func TestFrameHandler(t *testing.T) {
	env := newTestEnv(t)
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0}

	req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(jpeg))
	req.Header.Set("Content-Type", "image/jpeg")
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code, "frames are refused while not capturing")

	require.NoError(t, env.frames.Start(t.Context()))

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(jpeg))
	req.Header.Set("Content-Type", "image/jpeg")
	env.server.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)
	data, mime, ok := env.frames.Grab()
	require.True(t, ok)
	assert.Equal(t, jpeg, data)
	assert.Equal(t, "image/jpeg", mime)

	rr = env.do(t, http.MethodPost, "/frames", map[string]string{
		"mime_type": "image/png",
		"data":      "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png!")),
	})
	require.Equal(t, http.StatusAccepted, rr.Code)
	data, mime, ok = env.frames.Grab()
	require.True(t, ok)
	assert.Equal(t, "png!", string(data))
	assert.Equal(t, "image/png", mime)

	rr = env.do(t, http.MethodPost, "/frames", map[string]string{"data": "%%%"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFrameHandler_TooLarge(t *testing.T) {
	env := newTestEnv(t, WithMaxFrameBytes(4))
	require.NoError(t, env.frames.Start(t.Context()))
	req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(make([]byte, 16)))
	req.Header.Set("Content-Type", "image/jpeg")
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestScanAndAsk(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/scan", nil).Code)
	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/ask", map[string]string{"question": " where is the door? "}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/ask", map[string]string{"question": "  "}).Code)
	assert.Equal(t, []string{assistant.ScanQuestion, "where is the door?"}, env.core.questions)
}

func TestVoiceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/voice/toggle", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]interface{}{"active": true}, decode(t, rr).Result)

	rr = env.do(t, http.MethodPost, "/voice/results", map[string]interface{}{
		"results": []map[string]interface{}{{"transcript": "hello", "final": true}},
	})
	assert.Equal(t, http.StatusConflict, rr.Code, "no recognition session is running")

	var got []voice.Result
	_, err := env.speech.Start(voice.Handlers{OnResult: func(r []voice.Result) { got = r }})
	require.NoError(t, err)
	rr = env.do(t, http.MethodPost, "/voice/results", map[string]interface{}{
		"results": []map[string]interface{}{{"transcript": "hello", "final": true}},
	})
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []voice.Result{{Transcript: "hello", Final: true}}, got)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/voice/end", nil).Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/voice/end", nil).Code)

	rr = env.do(t, http.MethodPost, "/voice/availability", map[string]bool{"available": false})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, env.speech.Available())
}

func TestVoiceToggle_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	env.core.toggleErr = voice.ErrUnavailable
	rr := env.do(t, http.MethodPost, "/voice/toggle", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, voice.MsgUnavailable, decode(t, rr).Message)
}

func TestLocationEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/location", map[string]float64{"lat": 40.7, "lng": -74})
	assert.Equal(t, http.StatusConflict, rr.Code, "nobody is watching yet")

	var fixes [][2]float64
	var errs []string
	require.NoError(t, env.position.Watch(
		func(lat, lng float64) { fixes = append(fixes, [2]float64{lat, lng}) },
		func(err error) { errs = append(errs, err.Error()) },
	))

	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/location", map[string]float64{"lat": 0, "lng": 0}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/location", map[string]float64{"lat": 91, "lng": 0}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/location", map[string]float64{"lat": 1}).Code)
	assert.Equal(t, [][2]float64{{0, 0}}, fixes)

	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/location/error", map[string]string{"message": "User denied Geolocation"}).Code)
	assert.Equal(t, []string{"User denied Geolocation"}, errs)
}

func TestLogsHandler(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/logs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []interface{}{}, decode(t, rr).Result)

	env.log.Append(models.SenderSystem, models.CategoryAlert, "one")
	env.log.Append(models.SenderSystem, models.CategoryInfo, "two")

	var body struct {
		Result []models.LogEntry `json:"result"`
	}
	rr = env.do(t, http.MethodGet, "/logs?since=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Result, 1)
	assert.Equal(t, "two", body.Result[0].Message)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/logs?since=abc", nil).Code)
}

func TestLogHistoryHandler(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/logs/history", nil).Code)

	journal := store.NewInMemoryJournal(0)
	for i := 1; i <= 3; i++ {
		require.NoError(t, journal.Write(t.Context(), models.LogEntry{Seq: uint64(i), Message: "m"}))
	}
	env = newTestEnv(t, WithJournal(journal))
	var body struct {
		Result []models.LogEntry `json:"result"`
	}
	rr := env.do(t, http.MethodGet, "/logs/history?limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Result, 2)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/logs/history?limit=0", nil).Code)
}

func TestFlowEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/flows", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/flows/f1", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/flows/nope", nil).Code)

	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/flows/f1/trigger", nil).Code)
	rr = env.do(t, http.MethodPost, "/flows/f1/trigger", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "ignored", decode(t, rr).Status)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/flows/f9/trigger", nil).Code)
}

func TestDialingAndAgent(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/dialing/cancel", nil)
	assert.Equal(t, "ignored", decode(t, rr).Status)

	env.flows.dialing = true
	rr = env.do(t, http.MethodPost, "/dialing/cancel", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr).Status)
	assert.True(t, env.flows.cancelled)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/agent", nil).Code)
	env.flows.agent = &models.AgentResult{Decision: models.DecisionCritical}
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/agent", nil).Code)
}

func TestLatestSpeech(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/speech/latest", nil).Code)

	path := filepath.Join(t.TempDir(), "latest.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3"), 0644))
	env = newTestEnv(t, WithAudio(fakeAudio{path: path}))
	rr := env.do(t, http.MethodGet, "/speech/latest", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "audio/mpeg", rr.Header().Get("Content-Type"))
	assert.Equal(t, "ID3", rr.Body.String())
}

type fakeSchedules []scheduler.Entry

func (f fakeSchedules) Entries() []scheduler.Entry { return f }

func TestSchedules(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/schedules", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "[]")

	next := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	env = newTestEnv(t, WithSchedules(fakeSchedules{{Name: "f1", Schedule: "0 8 * * *", Next: next}}))
	rr = env.do(t, http.MethodGet, "/schedules", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"schedule":"0 8 * * *"`)
	assert.Contains(t, rr.Body.String(), "2026-10-18T08:00:00Z")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLogStream_ReplayThenLive(t *testing.T) {
	env := newTestEnv(t)
	env.log.Append(models.SenderSystem, models.CategoryAlert, "before")

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/logs/stream?since=0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() models.LogEntry {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var e models.LogEntry
		require.NoError(t, conn.ReadJSON(&e))
		return e
	}

	assert.Equal(t, "before", read().Message)
	env.log.Append(models.SenderOrchestrator, models.CategoryWorkflow, "after")
	e := read()
	assert.Equal(t, "after", e.Message)
	assert.Equal(t, uint64(2), e.Seq)
}

func TestTriggerHandler_EngineError(t *testing.T) {
	env := newTestEnv(t)
	env.server.deps.Flows = erroringFlows{env.flows}
	assert.Equal(t, http.StatusInternalServerError, env.do(t, http.MethodPost, "/flows/f1/trigger", nil).Code)
}

type erroringFlows struct{ *fakeFlows }

func (erroringFlows) Trigger(string) (models.Flow, error) { return models.Flow{}, errors.New("boom") }
