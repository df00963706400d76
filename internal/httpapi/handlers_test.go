package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"clustercard.org/internal/auth"
	"clustercard.org/internal/blob"
	"clustercard.org/internal/cohort"
	"clustercard.org/internal/exchange"
	"clustercard.org/internal/profile"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	registry *cohort.InMemory
	profiles profile.Store
	accounts *auth.InMemoryProvider
	blobs    *blob.Memory
}

func newTestAPI(t *testing.T) *apiClient {
	return newTestAPIWithProfiles(t, profile.NewInMemory())
}

func newTestAPIWithProfiles(t *testing.T, profiles profile.Store) *apiClient {
	t.Helper()

	registry := cohort.NewInMemory()
	accounts := auth.NewInMemoryProvider()
	blobs := blob.NewMemory()
	tokens, err := auth.NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	coord := exchange.NewCoordinator(registry, profiles, blobs, nil)

	api := New(Deps{
		Registry:    registry,
		Profiles:    profiles,
		Accounts:    accounts,
		Tokens:      tokens,
		Blobs:       blobs,
		Exchange:    coord,
		Version:     "test",
		RateBurst:   1000,
		RatePerSec:  1000,
		AdminEmails: []string{"admin@example.com"},
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		registry: registry,
		profiles: profiles,
		accounts: accounts,
		blobs:    blobs,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) seedCluster(capacity int) cohort.Cluster {
	c.t.Helper()
	cl, err := c.registry.CreateCluster(context.Background(), cohort.Cluster{Name: "Berlin", Capacity: capacity})
	if err != nil {
		c.t.Fatal(err)
	}
	return cl
}

func (c *apiClient) signup(email, nickname string) string {
	c.t.Helper()
	resp := c.post("/api/waitlist", map[string]any{
		"email":    email,
		"password": "password123",
		"nickname": nickname,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("signup %s: status %d", email, resp.StatusCode)
	}
	body := decode[map[string]any](c.t, resp)
	id, _ := body["user_id"].(string)
	if id == "" {
		c.t.Fatalf("signup %s: no user id in %v", email, body)
	}
	return id
}

func (c *apiClient) obtainToken(email string) string {
	c.t.Helper()
	resp := c.post("/api/login", map[string]any{
		"email":    email,
		"password": "password123",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode login response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["version"] != "test" || body["success"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestJoinFlowGeneratesArtifact(t *testing.T) {
	api := newTestAPI(t)
	cl := api.seedCluster(2)
	u1 := api.signup("ann@example.com", "Ann")
	u2 := api.signup("bo@example.com", "Bo")

	resp := api.post("/api/join-cluster", map[string]any{
		"cluster_id": cl.ID, "user_id": u1, "display_profession": true,
	}, nil)
	st := decode[statusResponse](t, resp)
	if resp.StatusCode != http.StatusOK || st.CurrentMembers != 1 || st.IsFull {
		t.Fatalf("first join: %d %+v", resp.StatusCode, st)
	}

	// The filling join triggers generation inline: the response is already
	// exchange-ready with a downloadable artifact.
	resp = api.post("/api/join-cluster", map[string]any{
		"cluster_id": cl.ID, "user_id": u2,
	}, nil)
	st = decode[statusResponse](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second join: %d", resp.StatusCode)
	}
	if st.State != cohort.StateReady || !st.VCFUploaded || st.VCFFileName == "" {
		t.Fatalf("cohort not exchange-ready after filling join: %+v", st)
	}

	resp = api.get("/api/download-contacts", url.Values{
		"cluster_id": {cl.ID}, "user_id": {u1},
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/vcard") {
		t.Fatalf("content type %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, st.VCFFileName) {
		t.Fatalf("content disposition %q", cd)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "FN:Ann") || !strings.Contains(string(data), "FN:Bo (Member)") {
		t.Fatalf("unexpected document:\n%s", data)
	}
}

func TestJoinErrors(t *testing.T) {
	api := newTestAPI(t)
	cl := api.seedCluster(1)

	resp := api.post("/api/join-cluster", map[string]any{"cluster_id": cl.ID}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing user_id: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/api/join-cluster", map[string]any{"cluster_id": "ghost", "user_id": "u1"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown cluster: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/api/join-cluster", map[string]any{"cluster_id": cl.ID, "user_id": "u1"}, nil)
	resp.Body.Close()

	resp = api.post("/api/join-cluster", map[string]any{"cluster_id": cl.ID, "user_id": "u1"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate join: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/api/join-cluster", map[string]any{"cluster_id": cl.ID, "user_id": "u2"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("full cluster: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown fields are rejected, not ignored.
	resp = api.post("/api/join-cluster", map[string]any{
		"cluster_id": cl.ID, "user_id": "u3", "bogus": 1,
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCohortStatusEndpoint(t *testing.T) {
	api := newTestAPI(t)
	cl := api.seedCluster(3)

	resp := api.get("/api/cohort-status", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing cluster_id: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/api/join-cluster", map[string]any{"cluster_id": cl.ID, "user_id": "u1"}, nil)
	resp.Body.Close()

	resp = api.get("/api/cohort-status", url.Values{
		"cluster_id": {cl.ID}, "user_id": {"u1"},
	}, nil)
	st := decode[statusResponse](t, resp)
	if resp.StatusCode != http.StatusOK || !st.UserIsMember || st.CurrentMembers != 1 {
		t.Fatalf("status: %d %+v", resp.StatusCode, st)
	}
	if st.CohortID == "" || st.MaxMembers != 3 {
		t.Fatalf("cohort fields missing: %+v", st)
	}
}

func TestLeaveCluster(t *testing.T) {
	api := newTestAPI(t)
	cl := api.seedCluster(2)

	resp := api.post("/api/join-cluster", map[string]any{"cluster_id": cl.ID, "user_id": "u1"}, nil)
	resp.Body.Close()

	resp = api.post("/api/leave-cluster", map[string]any{"cluster_id": cl.ID, "user_id": "u1"}, nil)
	st := decode[statusResponse](t, resp)
	if resp.StatusCode != http.StatusOK || st.CurrentMembers != 0 || st.UserIsMember {
		t.Fatalf("leave: %d %+v", resp.StatusCode, st)
	}

	resp = api.post("/api/leave-cluster", map[string]any{"cluster_id": cl.ID, "user_id": "u1"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("leave twice: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestClusterStatsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	cl := api.seedCluster(3)
	ctx := context.Background()
	age := 30
	_ = api.profiles.(*profile.InMemory).Create(ctx, &profile.Profile{
		UserID: "u1", Nickname: "Ann", Email: "a@b.c", Age: &age, Country: "DE", Gender: "Female",
	})
	_ = api.profiles.(*profile.InMemory).Create(ctx, &profile.Profile{
		UserID: "u2", Nickname: "Bo", Email: "b@b.c", Country: "FR",
	})
	for _, u := range []string{"u1", "u2"} {
		resp := api.post("/api/join-cluster", map[string]any{"cluster_id": cl.ID, "user_id": u}, nil)
		resp.Body.Close()
	}

	resp := api.get("/api/cluster-stats", url.Values{
		"cluster_id": {cl.ID}, "user_country": {"DE"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d", resp.StatusCode)
	}
	var body struct {
		Success       bool                   `json:"success"`
		ClusterName   string                 `json:"cluster_name"`
		CohortMembers []cohort.MemberProfile `json:"cohort_members"`
		ClusterStats  cohort.Stats           `json:"cluster_stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !body.Success || body.ClusterName != "Berlin" || len(body.CohortMembers) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.ClusterStats.TotalMembers != 2 || body.ClusterStats.AvgAge != 30 {
		t.Fatalf("stats: %+v", body.ClusterStats)
	}
	if body.ClusterStats.GeoMix["local"] != 50 || body.ClusterStats.GeoMix["abroad"] != 50 {
		t.Fatalf("geo mix: %v", body.ClusterStats.GeoMix)
	}
}

func TestTrackDownload(t *testing.T) {
	api := newTestAPI(t)
	cl := api.seedCluster(2)
	resp := api.post("/api/join-cluster", map[string]any{"cluster_id": cl.ID, "user_id": "u1"}, nil)
	resp.Body.Close()

	resp = api.post("/api/track-download", map[string]any{"cluster_id": cl.ID, "user_id": "u1"}, nil)
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || body["vcf_download_count"] != float64(1) {
		t.Fatalf("first track: %d %v", resp.StatusCode, body)
	}

	resp = api.post("/api/track-download", map[string]any{"cluster_id": cl.ID, "user_id": "u1"}, nil)
	body = decode[map[string]any](t, resp)
	if body["vcf_download_count"] != float64(1) {
		t.Fatalf("retried track must not double-count: %v", body)
	}

	resp = api.post("/api/track-download", map[string]any{"cluster_id": cl.ID, "user_id": "ghost"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("non-member track: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDownloadContactsErrors(t *testing.T) {
	api := newTestAPI(t)
	cl := api.seedCluster(2)
	resp := api.post("/api/join-cluster", map[string]any{"cluster_id": cl.ID, "user_id": "u1"}, nil)
	resp.Body.Close()

	resp = api.get("/api/download-contacts", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("no selector: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/api/download-contacts", url.Values{"file_name": {"../etc/passwd"}}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed name: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/api/download-contacts", url.Values{
		"cluster_id": {cl.ID}, "user_id": {"ghost"},
	}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member download: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Member, but the cohort has not exchanged yet.
	resp = api.get("/api/download-contacts", url.Values{
		"cluster_id": {cl.ID}, "user_id": {"u1"},
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("not-ready download: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWaitlistAndLogin(t *testing.T) {
	api := newTestAPI(t)
	userID := api.signup("ann@example.com", "Ann")

	// The profile was created alongside the account.
	p, err := api.profiles.Get(context.Background(), userID)
	if err != nil || p.Nickname != "Ann" {
		t.Fatalf("profile: %+v err=%v", p, err)
	}

	resp := api.post("/api/waitlist", map[string]any{
		"email": "ann@example.com", "password": "password123", "nickname": "Dup",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/api/waitlist", map[string]any{"email": "x@y.z", "password": "password123"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing nickname: %d", resp.StatusCode)
	}
	resp.Body.Close()

	_ = api.obtainToken("ann@example.com")

	resp = api.post("/api/login", map[string]any{"email": "ann@example.com", "password": "wrong-pass"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password login: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// failCreateStore simulates the profile service being down during signup.
type failCreateStore struct {
	*profile.InMemory
}

func (s failCreateStore) Create(ctx context.Context, p *profile.Profile) error {
	return errors.New("profile service unavailable")
}

func TestWaitlistRollsBackAccount(t *testing.T) {
	api := newTestAPIWithProfiles(t, failCreateStore{profile.NewInMemory()})

	resp := api.post("/api/waitlist", map[string]any{
		"email": "ann@example.com", "password": "password123", "nickname": "Ann",
	}, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("signup should fail: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The compensating delete removed the half-created account.
	if _, err := api.accounts.FindByEmail(context.Background(), "ann@example.com"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("account survived the failed signup: %v", err)
	}
}

func TestSecureDataRequiresToken(t *testing.T) {
	api := newTestAPI(t)
	api.signup("ann@example.com", "Ann")

	resp := api.get("/api/secure-data", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/api/secure-data", nil, map[string]string{"Authorization": "Bearer garbage"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d", resp.StatusCode)
	}
	resp.Body.Close()

	token := api.obtainToken("ann@example.com")
	resp = api.get("/api/secure-data", nil, map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with token: %d", resp.StatusCode)
	}
	var body struct {
		Leaderboard []profile.LeaderboardEntry `json:"leaderboard"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(body.Leaderboard) != 1 || body.Leaderboard[0].Nickname != "Ann" {
		t.Fatalf("leaderboard: %+v", body.Leaderboard)
	}
}

func TestResetClusterRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	cl := api.seedCluster(1)
	api.signup("user@example.com", "User")
	api.signup("admin@example.com", "Admin")

	resp := api.post("/api/join-cluster", map[string]any{"cluster_id": cl.ID, "user_id": "u1"}, nil)
	st := decode[statusResponse](t, resp)

	body := map[string]any{"cluster_id": cl.ID, "cohort_id": st.CohortID}

	resp = api.post("/api/reset-cluster", body, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: %d", resp.StatusCode)
	}
	resp.Body.Close()

	userToken := api.obtainToken("user@example.com")
	resp = api.post("/api/reset-cluster", body, map[string]string{"Authorization": "Bearer " + userToken})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("user token: %d", resp.StatusCode)
	}
	resp.Body.Close()

	adminToken := api.obtainToken("admin@example.com")
	adminHeader := map[string]string{"Authorization": "Bearer " + adminToken}
	resp = api.post("/api/reset-cluster", body, adminHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin reset: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The old artifact is gone and the cohort id rotated.
	if ok, _ := api.blobs.Exists(context.Background(), st.VCFFileName); ok {
		t.Fatal("orphaned artifact survived the reset")
	}
	after, _ := api.registry.Status(context.Background(), cl.ID, "")
	if after.CohortID == st.CohortID || after.State != cohort.StateOpen {
		t.Fatalf("cohort not rotated: %+v", after)
	}

	// A stale cohort id no longer resets anything.
	resp = api.post("/api/reset-cluster", body, adminHeader)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale reset: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminClusterCRUD(t *testing.T) {
	api := newTestAPI(t)
	api.signup("admin@example.com", "Admin")
	adminHeader := map[string]string{"Authorization": "Bearer " + api.obtainToken("admin@example.com")}

	resp := api.post("/api/admin/clusters/", map[string]any{
		"name": "Lisbon", "capacity": 8, "category": "city",
	}, adminHeader)
	created := decode[clusterResponse](t, resp)
	if resp.StatusCode != http.StatusCreated || created.ID == "" {
		t.Fatalf("create: %d %+v", resp.StatusCode, created)
	}
	if loc := resp.Header.Get("Location"); !strings.HasSuffix(loc, created.ID) {
		t.Fatalf("location header %q", loc)
	}

	resp = api.post("/api/admin/clusters/", map[string]any{"name": "", "capacity": 8}, adminHeader)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid create: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/api/admin/clusters/"+created.ID, nil, adminHeader)
	got := decode[clusterResponse](t, resp)
	if resp.StatusCode != http.StatusOK || got.Name != "Lisbon" {
		t.Fatalf("get: %d %+v", resp.StatusCode, got)
	}

	resp = api.do(http.MethodPut, "/api/admin/clusters/"+created.ID, map[string]any{
		"name": "Lisbon", "capacity": 12,
	}, adminHeader)
	updated := decode[clusterResponse](t, resp)
	if resp.StatusCode != http.StatusOK || updated.Capacity != 12 {
		t.Fatalf("update: %d %+v", resp.StatusCode, updated)
	}

	resp = api.get("/api/admin/clusters/", nil, adminHeader)
	var list struct {
		Clusters []cohort.Cluster `json:"clusters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(list.Clusters) != 1 {
		t.Fatalf("list: %+v", list.Clusters)
	}

	resp = api.do(http.MethodDelete, "/api/admin/clusters/"+created.ID, nil, adminHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/api/admin/clusters/"+created.ID, nil, adminHeader)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: %d", resp.StatusCode)
	}
	resp.Body.Close()
}
