package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/auth"
	"github.com/MarcoPoloResearchLab/waypoint/internal/database"
	"github.com/MarcoPoloResearchLab/waypoint/internal/location"
	"github.com/MarcoPoloResearchLab/waypoint/internal/monitor"
	"github.com/MarcoPoloResearchLab/waypoint/internal/notify"
	"github.com/MarcoPoloResearchLab/waypoint/internal/proximity"
	"github.com/MarcoPoloResearchLab/waypoint/internal/records"
	"github.com/MarcoPoloResearchLab/waypoint/internal/theme"
	"github.com/MarcoPoloResearchLab/waypoint/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "router-test-secret"
	testIssuer        = "waypoint-auth"
	testOwner         = "user-123"
	testEmail         = "user@example.com"
)

type recordingMonitor struct {
	mu          sync.Mutex
	watched     map[string]proximity.Target
	unwatched   []string
	stopAll     int
	permissions []bool
	watchErr    error
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{watched: make(map[string]proximity.Target)}
}

func (m *recordingMonitor) Watch(_ context.Context, target proximity.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchErr != nil {
		return m.watchErr
	}
	m.watched[target.ID] = target
	return nil
}

func (m *recordingMonitor) Unwatch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, id)
	m.unwatched = append(m.unwatched, id)
	return nil
}

func (m *recordingMonitor) StopAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched = make(map[string]proximity.Target)
	m.stopAll++
	return nil
}

func (m *recordingMonitor) PermissionChanged(_ context.Context, granted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions = append(m.permissions, granted)
	return nil
}

func (m *recordingMonitor) Status(context.Context) (monitor.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := monitor.Status{State: monitor.StateIdle}
	for id := range m.watched {
		status.TargetIDs = append(status.TargetIDs, id)
	}
	if len(m.watched) > 0 {
		status.State = monitor.StateWatching
		status.Subscribed = true
	}
	return status, nil
}

func (m *recordingMonitor) isWatching(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watched[id]
	return ok
}

type recordingMailer struct {
	mu         sync.Mutex
	recipients []string
	err        error
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipients = append(m.recipients, email)
	return m.err
}

type routerHarness struct {
	handler  http.Handler
	records  *records.Service
	users    *users.Service
	sessions *auth.Sessions
	monitor  *recordingMonitor
	feed     *location.Feed
	alerts   *notify.Dispatcher
	mailer   *recordingMailer
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:waypoint_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	recordService, err := records.NewService(records.ServiceConfig{
		Database:   db,
		IDProvider: records.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct records service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    "app_session",
		Issuer:        testIssuer,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	harness := &routerHarness{
		records:  recordService,
		users:    userService,
		sessions: auth.NewSessions(nil),
		monitor:  newRecordingMonitor(),
		feed:     location.NewFeed(location.FeedConfig{PermissionGranted: true}),
		alerts:   notify.NewDispatcher(),
		mailer:   &recordingMailer{},
	}
	handler, err := NewHTTPHandler(Dependencies{
		Validator:         validator,
		Sessions:          harness.sessions,
		Users:             harness.users,
		Records:           harness.records,
		Monitor:           harness.monitor,
		Feed:              harness.feed,
		Alerts:            harness.alerts,
		Mailer:            harness.mailer,
		Theme:             theme.NewSelector(theme.DefaultDarkBelowLux, nil),
		Logger:            zap.NewNop(),
		HeartbeatInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	harness.handler = handler
	return harness
}

func mintSessionToken(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:    userID,
		UserEmail: testEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (h *routerHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func (h *routerHarness) signIn(t *testing.T) {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/session", `{"token":"`+mintSessionToken(t, testOwner)+`"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("sign in failed: %d %s", recorder.Code, recorder.Body.String())
	}
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dest); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func TestProtectedRoutesRequireSignIn(t *testing.T) {
	harness := newRouterHarness(t)

	for _, path := range []string{"/tasks", "/notes", "/watches", "/monitor", "/stats"} {
		recorder := harness.do(t, http.MethodGet, path, "")
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, recorder.Code)
		}
		if recorder.Body.String() != `{"error":"sign_in_required"}` {
			t.Fatalf("%s: unexpected body %s", path, recorder.Body.String())
		}
	}
}

func TestSignInRejectsInvalidToken(t *testing.T) {
	harness := newRouterHarness(t)

	recorder := harness.do(t, http.MethodPost, "/session", `{"token":"not-a-jwt"}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if _, ok := harness.sessions.CurrentOwner(); ok {
		t.Fatalf("expected no session after rejected token")
	}
}

func TestSignInRestoresEnabledWatches(t *testing.T) {
	harness := newRouterHarness(t)
	ctx := context.Background()

	enabled, err := harness.records.CreateWatch(ctx, testOwner, records.WatchInput{
		Title: "Pharmacy", Latitude: 52.52, Longitude: 13.405, NotificationsEnabled: true,
	})
	if err != nil {
		t.Fatalf("create enabled watch: %v", err)
	}
	disabled, err := harness.records.CreateWatch(ctx, testOwner, records.WatchInput{
		Title: "Library", Latitude: 52.50, Longitude: 13.40,
	})
	if err != nil {
		t.Fatalf("create disabled watch: %v", err)
	}

	recorder := harness.do(t, http.MethodPost, "/session", `{"token":"`+mintSessionToken(t, testOwner)+`"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("sign in failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var payload sessionResponsePayload
	decodeBody(t, recorder, &payload)
	if !payload.SignedIn || payload.Owner != testOwner || payload.Restored != 1 {
		t.Fatalf("unexpected session payload: %+v", payload)
	}
	if !harness.monitor.isWatching(enabled.ID) {
		t.Fatalf("expected enabled watch to be registered")
	}
	if harness.monitor.isWatching(disabled.ID) {
		t.Fatalf("disabled watch must not be registered")
	}

	status := harness.do(t, http.MethodGet, "/session", "")
	decodeBody(t, status, &payload)
	if !payload.SignedIn || payload.Email != testEmail {
		t.Fatalf("unexpected session status: %+v", payload)
	}
}

func TestSignOutStopsMonitoring(t *testing.T) {
	harness := newRouterHarness(t)
	harness.signIn(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, release := harness.alerts.Subscribe(ctx, testOwner)
	defer release()

	recorder := harness.do(t, http.MethodDelete, "/session", "")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	select {
	case _, ok := <-stream:
		if ok {
			t.Fatalf("expected alert stream to close on sign out")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected alert stream to close on sign out")
	}
	if harness.monitor.stopAll != 1 {
		t.Fatalf("expected one stop-all, got %d", harness.monitor.stopAll)
	}
	if recorder := harness.do(t, http.MethodGet, "/tasks", ""); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after sign out, got %d", recorder.Code)
	}
}

func TestTaskLifecycle(t *testing.T) {
	harness := newRouterHarness(t)
	harness.signIn(t)

	created := harness.do(t, http.MethodPost, "/tasks", `{"title":"buy milk","due_at":"2024-03-01T09:00:00Z"}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", created.Code, created.Body.String())
	}
	var task records.Task
	decodeBody(t, created, &task)
	if task.ID == "" || task.Title != "buy milk" || task.DueAt == nil {
		t.Fatalf("unexpected task: %+v", task)
	}

	completed := harness.do(t, http.MethodPatch, "/tasks/"+task.ID+"/completion", `{"completed":true}`)
	if completed.Code != http.StatusOK {
		t.Fatalf("completion failed: %d %s", completed.Code, completed.Body.String())
	}
	decodeBody(t, completed, &task)
	if !task.Completed {
		t.Fatalf("expected completed task")
	}

	if recorder := harness.do(t, http.MethodPatch, "/tasks/"+task.ID+"/completion", `{}`); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without completed flag, got %d", recorder.Code)
	}

	updated := harness.do(t, http.MethodPut, "/tasks/"+task.ID, `{"title":"buy oat milk"}`)
	if updated.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", updated.Code, updated.Body.String())
	}

	var list struct {
		Tasks []records.Task `json:"tasks"`
	}
	decodeBody(t, harness.do(t, http.MethodGet, "/tasks", ""), &list)
	if len(list.Tasks) != 1 || list.Tasks[0].Title != "buy oat milk" {
		t.Fatalf("unexpected task list: %+v", list.Tasks)
	}

	if recorder := harness.do(t, http.MethodDelete, "/tasks/"+task.ID, ""); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	if recorder := harness.do(t, http.MethodDelete, "/tasks/"+task.ID, ""); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", recorder.Code)
	}
}

func TestStatsCountSignedInOwnerRecords(t *testing.T) {
	harness := newRouterHarness(t)
	harness.signIn(t)

	for _, body := range []string{`{"title":"groceries"}`, `{"title":"pharmacy","completed":true}`} {
		if recorder := harness.do(t, http.MethodPost, "/tasks", body); recorder.Code != http.StatusCreated {
			t.Fatalf("create task failed: %d %s", recorder.Code, recorder.Body.String())
		}
	}
	if recorder := harness.do(t, http.MethodPost, "/notes", `{"title":"ideas"}`); recorder.Code != http.StatusCreated {
		t.Fatalf("create note failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if _, err := harness.records.CreateTask(context.Background(), "someone-else", records.TaskInput{Title: "foreign"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	recorder := harness.do(t, http.MethodGet, "/stats", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var stats records.OwnerStats
	decodeBody(t, recorder, &stats)
	if stats.Tasks != 2 || stats.CompletedTasks != 1 || stats.Notes != 1 || stats.Watches != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestInvalidRecordReturnsBadRequest(t *testing.T) {
	harness := newRouterHarness(t)
	harness.signIn(t)

	recorder := harness.do(t, http.MethodPost, "/notes", `{"title":"   "}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if recorder.Body.String() != `{"error":"invalid_record"}` {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestOtherOwnersRecordsLookMissing(t *testing.T) {
	harness := newRouterHarness(t)
	harness.signIn(t)

	foreign, err := harness.records.CreateNote(context.Background(), "someone-else", records.NoteInput{Title: "private"})
	if err != nil {
		t.Fatalf("create foreign note: %v", err)
	}

	for _, tc := range []struct {
		method string
		body   string
	}{
		{method: http.MethodGet},
		{method: http.MethodPut, body: `{"title":"hijacked"}`},
		{method: http.MethodDelete},
	} {
		recorder := harness.do(t, tc.method, "/notes/"+foreign.ID, tc.body)
		if recorder.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", tc.method, recorder.Code)
		}
		if recorder.Body.String() != `{"error":"not_found"}` {
			t.Fatalf("%s: unexpected body %s", tc.method, recorder.Body.String())
		}
	}

	stored, err := harness.records.GetNote(context.Background(), "someone-else", foreign.ID)
	if err != nil || stored.Title != "private" {
		t.Fatalf("foreign note changed: %+v (%v)", stored, err)
	}
}

func TestWatchEditsDriveMonitor(t *testing.T) {
	harness := newRouterHarness(t)
	harness.signIn(t)

	created := harness.do(t, http.MethodPost, "/watches", `{"title":"Pharmacy","latitude":52.52,"longitude":13.405,"notifications_enabled":true}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", created.Code, created.Body.String())
	}
	var view struct {
		ID            string `json:"id"`
		RadiusMeters  int    `json:"radius_m"`
		DistanceLabel string `json:"distance_label"`
	}
	decodeBody(t, created, &view)
	if view.RadiusMeters != records.DefaultRadiusMeters {
		t.Fatalf("expected default radius, got %d", view.RadiusMeters)
	}
	if view.DistanceLabel != "unknown" {
		t.Fatalf("expected unknown distance without a fix, got %q", view.DistanceLabel)
	}
	if !harness.monitor.isWatching(view.ID) {
		t.Fatalf("expected enabled watch to be registered")
	}

	disabled := harness.do(t, http.MethodPut, "/watches/"+view.ID, `{"title":"Pharmacy","latitude":52.52,"longitude":13.405,"notifications_enabled":false}`)
	if disabled.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", disabled.Code, disabled.Body.String())
	}
	if harness.monitor.isWatching(view.ID) {
		t.Fatalf("expected disabled watch to be unregistered")
	}

	if err := harness.feed.Publish(location.Fix{Latitude: 52.5245, Longitude: 13.405}); err != nil {
		t.Fatalf("publish fix: %v", err)
	}
	fetched := harness.do(t, http.MethodGet, "/watches/"+view.ID, "")
	decodeBody(t, fetched, &view)
	if view.DistanceLabel != "500m away" {
		t.Fatalf("unexpected distance label %q", view.DistanceLabel)
	}

	if recorder := harness.do(t, http.MethodPost, "/watches", `{"title":"Nowhere"}`); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without coordinates, got %d", recorder.Code)
	}

	if recorder := harness.do(t, http.MethodDelete, "/watches/"+view.ID, ""); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	harness.monitor.mu.Lock()
	unwatched := append([]string(nil), harness.monitor.unwatched...)
	harness.monitor.mu.Unlock()
	if len(unwatched) != 2 || unwatched[1] != view.ID {
		t.Fatalf("expected delete to unregister the watch, got %v", unwatched)
	}
}

func TestLocationEndpoints(t *testing.T) {
	harness := newRouterHarness(t)

	if recorder := harness.do(t, http.MethodPost, "/location", `{"latitude":95,"longitude":0}`); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid fix, got %d", recorder.Code)
	}

	permission := harness.do(t, http.MethodPost, "/location/permission", `{"granted":false}`)
	if permission.Code != http.StatusOK {
		t.Fatalf("permission update failed: %d", permission.Code)
	}
	if len(harness.monitor.permissions) != 1 || harness.monitor.permissions[0] {
		t.Fatalf("expected denied permission to reach monitor, got %v", harness.monitor.permissions)
	}

	denied := harness.do(t, http.MethodPost, "/location", `{"latitude":52.52,"longitude":13.405}`)
	if denied.Code != http.StatusForbidden {
		t.Fatalf("expected 403 while permission denied, got %d", denied.Code)
	}

	harness.do(t, http.MethodPost, "/location/permission", `{"granted":true}`)
	if recorder := harness.do(t, http.MethodPost, "/location", `{"latitude":52.52,"longitude":13.405}`); recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", recorder.Code)
	}
	if _, ok := harness.feed.LastFix(); !ok {
		t.Fatalf("expected feed to hold the fix")
	}
}

func TestMonitorStatusEndpoint(t *testing.T) {
	harness := newRouterHarness(t)
	harness.signIn(t)

	var status monitorStatusPayload
	decodeBody(t, harness.do(t, http.MethodGet, "/monitor", ""), &status)
	if status.State != "idle" || len(status.TargetIDs) != 0 {
		t.Fatalf("unexpected idle status: %+v", status)
	}

	harness.do(t, http.MethodPost, "/watches", `{"title":"Pharmacy","latitude":52.52,"longitude":13.405,"notifications_enabled":true}`)
	decodeBody(t, harness.do(t, http.MethodGet, "/monitor", ""), &status)
	if status.State != "watching" || len(status.TargetIDs) != 1 || !status.Subscribed {
		t.Fatalf("unexpected watching status: %+v", status)
	}
}

func TestPasswordResetHidesUnknownAddresses(t *testing.T) {
	harness := newRouterHarness(t)
	harness.signIn(t)

	known := harness.do(t, http.MethodPost, "/auth/password-reset", `{"email":"USER@example.com"}`)
	unknown := harness.do(t, http.MethodPost, "/auth/password-reset", `{"email":"stranger@example.com"}`)
	if known.Code != http.StatusAccepted || unknown.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for both, got %d and %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatalf("responses differ: %s vs %s", known.Body.String(), unknown.Body.String())
	}
	if len(harness.mailer.recipients) != 1 || harness.mailer.recipients[0] != testEmail {
		t.Fatalf("expected one reset to the known address, got %v", harness.mailer.recipients)
	}

	harness.mailer.err = errors.New("smtp down")
	if recorder := harness.do(t, http.MethodPost, "/auth/password-reset", `{"email":"user@example.com"}`); recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on delivery failure, got %d", recorder.Code)
	}

	if recorder := harness.do(t, http.MethodPost, "/auth/password-reset", `{"email":"nope"}`); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed address, got %d", recorder.Code)
	}
}

func TestThemeFollowsAmbientLight(t *testing.T) {
	harness := newRouterHarness(t)

	var payload struct {
		Theme   string `json:"theme"`
		Changed bool   `json:"changed"`
	}
	decodeBody(t, harness.do(t, http.MethodGet, "/theme", ""), &payload)
	if payload.Theme != string(theme.Light) {
		t.Fatalf("expected light theme initially, got %q", payload.Theme)
	}

	decodeBody(t, harness.do(t, http.MethodPost, "/ambient/light", `{"lux":5}`), &payload)
	if payload.Theme != string(theme.Dark) || !payload.Changed {
		t.Fatalf("expected switch to dark, got %+v", payload)
	}

	if recorder := harness.do(t, http.MethodPost, "/ambient/light", `{"lux":-1}`); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative lux, got %d", recorder.Code)
	}
}

func TestEventsStreamDeliversOwnerAlerts(t *testing.T) {
	harness := newRouterHarness(t)
	harness.signIn(t)

	server := httptest.NewServer(harness.handler)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = response.Body.Close()
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", response.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for harness.alerts.Subscribers(testOwner) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = harness.alerts.Notify(context.Background(), notify.Alert{
		Owner:     "someone-else",
		WatchID:   "foreign",
		Title:     "Location Reminder",
		Timestamp: time.Now(),
	})
	_ = harness.alerts.Notify(context.Background(), notify.Alert{
		Owner:          testOwner,
		WatchID:        "watch-1",
		Title:          "Location Reminder",
		Body:           "You're near: Pharmacy (40m away)",
		DistanceMeters: 40,
		Timestamp:      time.Now(),
	})

	type readResult struct {
		line string
		err  error
	}
	lines := make(chan readResult, 1)
	reader := bufio.NewReader(response.Body)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			select {
			case lines <- readResult{line: line, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	currentEvent := ""
	timeout := time.After(5 * time.Second)
	for {
		select {
		case <-timeout:
			t.Fatal("timed out waiting for alert event")
		case result := <-lines:
			if result.err != nil {
				t.Fatalf("failed to read stream: %v", result.err)
			}
			line := strings.TrimSpace(result.line)
			if strings.HasPrefix(line, "event:") {
				currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEvent != EventProximityAlert {
				continue
			}
			var payload alertEventPayload
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
				t.Fatalf("failed to decode alert payload: %v", err)
			}
			if payload.WatchID != "watch-1" || payload.Body != "You're near: Pharmacy (40m away)" {
				t.Fatalf("unexpected alert payload: %+v", payload)
			}
			cancel()
			return
		}
	}
}
