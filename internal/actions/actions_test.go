package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"bankanalysis/ratio-server/internal/analysis"
	"bankanalysis/ratio-server/internal/audit"
	"bankanalysis/ratio-server/internal/auth"
	"bankanalysis/ratio-server/internal/authz"
	"bankanalysis/ratio-server/internal/bank"
	"bankanalysis/ratio-server/internal/dispatch"
	"bankanalysis/ratio-server/internal/protocol"
	"bankanalysis/ratio-server/internal/session"
)

const analystPassword = "Analyst#Pass2026"

type testConn struct {
	mu     sync.Mutex
	tokens map[string]bool
}

func newTestConn() *testConn { return &testConn{tokens: make(map[string]bool)} }

func (c *testConn) ID() string         { return "test-conn" }
func (c *testConn) RemoteAddr() string { return "198.51.100.4:6000" }

func (c *testConn) Adopt(token string) {
	c.mu.Lock()
	c.tokens[token] = true
	c.mu.Unlock()
}

func (c *testConn) Release(token string) {
	c.mu.Lock()
	delete(c.tokens, token)
	c.mu.Unlock()
}

type env struct {
	dispatcher *dispatch.Dispatcher
	registry   *dispatch.Registry
	auth       *auth.Service
	sessions   *session.MemoryStore
	audit      *audit.Recorder
	conn       *testConn
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	hasher, err := auth.NewArgon2Hasher(auth.Argon2Config{MemoryKB: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2Hasher() error: %v", err)
	}
	authSvc, err := auth.NewService(auth.NewInMemoryUserStore(), auth.NewInMemoryRoleStore(), hasher)
	if err != nil {
		t.Fatalf("auth.NewService() error: %v", err)
	}
	if _, err := authSvc.EnsureBootstrap(ctx, "admin", "admin123"); err != nil {
		t.Fatalf("EnsureBootstrap() error: %v", err)
	}
	reports := analysis.NewInMemoryReportStore()
	banks, err := bank.NewService(bank.NewInMemoryStore(), analysis.Cascade{Reports: reports})
	if err != nil {
		t.Fatalf("bank.NewService() error: %v", err)
	}
	analysisSvc, err := analysis.NewService(banks, reports)
	if err != nil {
		t.Fatalf("analysis.NewService() error: %v", err)
	}
	recorder, err := audit.NewRecorder(audit.NewInMemoryStore(0), nil)
	if err != nil {
		t.Fatalf("audit.NewRecorder() error: %v", err)
	}
	sessions := session.NewMemoryStore()

	reg, err := NewRegistry(Deps{Auth: authSvc, Sessions: sessions, Banks: banks, Analysis: analysisSvc, Audit: recorder})
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	d, err := dispatch.New(reg, dispatch.Deps{
		Sessions: sessions,
		Roles:    authSvc,
		Audit:    recorder,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("dispatch.New() error: %v", err)
	}
	return &env{dispatcher: d, registry: reg, auth: authSvc, sessions: sessions, audit: recorder, conn: newTestConn()}
}

func (e *env) call(t *testing.T, action, token string, payload any) protocol.Response {
	t.Helper()
	req := protocol.Request{Action: action, Token: token}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		req.Payload = b
	}
	return e.dispatcher.Dispatch(context.Background(), e.conn, req)
}

func (e *env) mustSucceed(t *testing.T, action, token string, payload any, out any) {
	t.Helper()
	resp := e.call(t, action, token, payload)
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("%s: got %s %q", action, resp.Status, resp.ErrorMessage)
	}
	if out != nil {
		b, err := json.Marshal(resp.Data)
		if err != nil {
			t.Fatalf("%s: marshal data: %v", action, err)
		}
		if err := json.Unmarshal(b, out); err != nil {
			t.Fatalf("%s: unmarshal data: %v", action, err)
		}
	}
}

func (e *env) login(t *testing.T, username, password string) (string, int64) {
	t.Helper()
	var out struct {
		Token string `json:"token"`
		User  struct {
			ID   int64  `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
	}
	e.mustSucceed(t, "LOGIN", "", map[string]string{"username": username, "password": password}, &out)
	if out.Token == "" {
		t.Fatalf("login returned no token")
	}
	return out.Token, out.User.ID
}

// newUser registers username and gives it role (when not empty).
func (e *env) newUser(t *testing.T, adminToken, username, role string) int64 {
	t.Helper()
	var u auth.UserView
	e.mustSucceed(t, "REGISTER", "", map[string]string{"username": username, "password": analystPassword}, &u)
	if role == "" {
		return u.ID
	}
	roles, err := e.auth.ListRoles(context.Background())
	if err != nil {
		t.Fatalf("ListRoles() error: %v", err)
	}
	for _, r := range roles {
		if r.Name == role {
			e.mustSucceed(t, "ASSIGN_USER_ROLE", adminToken, map[string]int64{"userId": u.ID, "roleId": r.ID}, nil)
			return u.ID
		}
	}
	t.Fatalf("role %s not seeded", role)
	return 0
}

func TestCatalogueRequirements(t *testing.T) {
	e := newEnv(t)
	admin := authz.RoleIn(auth.RoleAdmin)
	editors := authz.RoleIn(auth.RoleAdmin, auth.RoleAnalyst)
	analyst := authz.RoleIn(auth.RoleAnalyst)
	want := map[string]authz.Requirement{
		"LOGIN":                         authz.Public(),
		"REGISTER":                      authz.Public(),
		"LOGOUT":                        authz.Public(),
		"GET_USER_PROFILE":              authz.Authenticated(),
		"CHANGE_PASSWORD":               authz.Authenticated(),
		"GET_ALL_USERS":                 admin,
		"UPDATE_USER_STATUS":            admin,
		"ASSIGN_USER_ROLE":              admin,
		"GET_ALL_ROLES":                 admin,
		"CREATE_ROLE":                   admin,
		"DELETE_BANK":                   admin,
		"DELETE_ANALYSIS_REPORT":        admin,
		"GET_ALL_AUDIT_LOGS":            admin,
		"GET_USER_AUDIT_LOGS":           admin,
		"CREATE_BANK":                   editors,
		"UPDATE_BANK":                   editors,
		"CREATE_FINANCIAL_STATEMENT":    editors,
		"DELETE_FINANCIAL_STATEMENT":    editors,
		"CALCULATE_LIQUIDITY":           analyst,
		"CALCULATE_SOLVENCY":            analyst,
		"SAVE_LIQUIDITY_REPORT":         analyst,
		"SAVE_SOLVENCY_REPORT":          analyst,
		"GET_BANK_BY_ID":                authz.Authenticated(),
		"GET_ALL_BANKS":                 authz.Authenticated(),
		"GET_FINANCIAL_STATEMENT":       authz.Authenticated(),
		"GET_BANK_FINANCIAL_STATEMENTS": authz.Authenticated(),
		"GET_ANALYSIS_REPORT":           authz.Authenticated(),
		"GET_BANK_ANALYSIS_REPORTS":     authz.Authenticated(),
	}
	if got := len(e.registry.Actions()); got != len(want) {
		t.Fatalf("registered %d actions, want %d: %v", got, len(want), e.registry.Actions())
	}
	for name, req := range want {
		spec, ok := e.registry.Lookup(name)
		if !ok {
			t.Fatalf("%s not registered", name)
		}
		if spec.Requirement.String() != req.String() {
			t.Fatalf("%s requirement = %s, want %s", name, spec.Requirement, req)
		}
	}
}

func TestLoginWrongPasswordIssuesNoToken(t *testing.T) {
	e := newEnv(t)
	resp := e.call(t, "LOGIN", "", map[string]string{"username": "alice", "password": "wrong"})
	if resp.Status != protocol.StatusUnauthorized || resp.ErrorMessage != "invalid username or password" {
		t.Fatalf("got %s %q", resp.Status, resp.ErrorMessage)
	}
	if n, _ := e.sessions.Count(context.Background()); n != 0 {
		t.Fatalf("no session should exist, found %d", n)
	}
	if len(e.conn.tokens) != 0 {
		t.Fatalf("connection should own no token")
	}

	resp = e.call(t, "LOGIN", "", nil)
	if resp.Status != protocol.StatusBadRequest {
		t.Fatalf("missing payload should be BAD_REQUEST, got %s", resp.Status)
	}
}

func TestAnalystWorkflow(t *testing.T) {
	e := newEnv(t)
	adminToken, _ := e.login(t, "admin", "admin123")
	e.newUser(t, adminToken, "ana", auth.RoleAnalyst)
	token, _ := e.login(t, "ana", analystPassword)

	var b bank.Bank
	e.mustSucceed(t, "CREATE_BANK", token, map[string]string{"name": "Alpha Bank", "code": "alp"}, &b)
	var st bank.Statement
	e.mustSucceed(t, "CREATE_FINANCIAL_STATEMENT", token, map[string]any{
		"bankId": b.ID, "periodEnd": "2025-06-30",
		"cash": 150, "shortTermInvestments": 100, "currentAssets": 450, "totalAssets": 1000,
		"currentLiabilities": 250, "totalLiabilities": 880, "customerDeposits": 700, "loans": 560,
		"totalEquity": 120, "tier1Capital": 70, "tier2Capital": 10, "riskWeightedAssets": 600,
	}, &st)

	var res analysis.Result
	e.mustSucceed(t, "CALCULATE_LIQUIDITY", token, map[string]int64{"bankId": b.ID}, &res)
	if res.StatementID != st.ID || res.Rating != analysis.RatingStrong {
		t.Fatalf("unexpected liquidity result: %+v", res)
	}

	var report analysis.Report
	e.mustSucceed(t, "SAVE_SOLVENCY_REPORT", token, map[string]any{"bankId": b.ID, "notes": "h1"}, &report)
	if report.Type != analysis.TypeSolvency || report.CreatedBy == nil {
		t.Fatalf("unexpected report: %+v", report)
	}

	var reports []analysis.Report
	e.mustSucceed(t, "GET_BANK_ANALYSIS_REPORTS", token, map[string]int64{"bankId": b.ID}, &reports)
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}

	resp := e.call(t, "DELETE_BANK", token, map[string]int64{"bankId": b.ID})
	if resp.Status != protocol.StatusForbidden {
		t.Fatalf("analyst must not delete banks, got %s", resp.Status)
	}
	resp = e.call(t, "CALCULATE_LIQUIDITY", adminToken, map[string]int64{"bankId": b.ID})
	if resp.Status != protocol.StatusForbidden {
		t.Fatalf("admin is not an analyst, got %s", resp.Status)
	}

	e.mustSucceed(t, "DELETE_BANK", adminToken, map[string]int64{"bankId": b.ID}, nil)
	resp = e.call(t, "GET_ANALYSIS_REPORT", token, map[string]int64{"reportId": report.ID})
	if resp.Status != protocol.StatusNotFound {
		t.Fatalf("report should be gone with its bank, got %s", resp.Status)
	}
}

func TestAnalysisByReportDate(t *testing.T) {
	e := newEnv(t)
	adminToken, _ := e.login(t, "admin", "admin123")
	e.newUser(t, adminToken, "ana", auth.RoleAnalyst)
	token, _ := e.login(t, "ana", analystPassword)

	var b bank.Bank
	e.mustSucceed(t, "CREATE_BANK", token, map[string]string{"name": "Alpha Bank", "code": "ALP"}, &b)
	statement := func(period string, currentAssets float64) bank.Statement {
		var st bank.Statement
		e.mustSucceed(t, "CREATE_FINANCIAL_STATEMENT", token, map[string]any{
			"bankId": b.ID, "periodEnd": period,
			"cash": 50, "currentAssets": currentAssets, "totalAssets": 1000,
			"currentLiabilities": 200, "totalLiabilities": 880, "customerDeposits": 700, "loans": 560,
			"totalEquity": 120, "tier1Capital": 70, "tier2Capital": 10, "riskWeightedAssets": 600,
		}, &st)
		return st
	}
	older := statement("2024-12-31", 300)
	statement("2025-06-30", 400)

	var res analysis.Result
	e.mustSucceed(t, "CALCULATE_LIQUIDITY", token, map[string]any{"bankId": b.ID, "reportDate": "2024-12-31"}, &res)
	if res.StatementID != older.ID || res.PeriodEnd != "2024-12-31" {
		t.Fatalf("expected the 2024 statement, got %+v", res)
	}

	var report analysis.Report
	e.mustSucceed(t, "SAVE_LIQUIDITY_REPORT", token, map[string]any{"bankId": b.ID, "reportDate": "2024-12-31"}, &report)
	if report.StatementID != older.ID {
		t.Fatalf("report saved against statement %d, want %d", report.StatementID, older.ID)
	}

	cases := []struct {
		date   string
		status protocol.Status
	}{
		{"2023-12-31", protocol.StatusNotFound},
		{"31.12.2024", protocol.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := e.call(t, "CALCULATE_SOLVENCY", token, map[string]any{"bankId": b.ID, "reportDate": tc.date})
		if resp.Status != tc.status {
			t.Fatalf("reportDate %q: got %s %q, want %s", tc.date, resp.Status, resp.ErrorMessage, tc.status)
		}
	}
}

func TestPayloadErrors(t *testing.T) {
	e := newEnv(t)
	adminToken, _ := e.login(t, "admin", "admin123")

	cases := []struct {
		action  string
		payload any
		status  protocol.Status
	}{
		{"GET_BANK_BY_ID", nil, protocol.StatusBadRequest},
		{"GET_BANK_BY_ID", map[string]string{"bankId": "seven"}, protocol.StatusBadRequest},
		{"GET_BANK_BY_ID", map[string]int64{"bankId": 0}, protocol.StatusBadRequest},
		{"GET_BANK_BY_ID", map[string]int64{"bankId": 404}, protocol.StatusNotFound},
		{"UPDATE_USER_STATUS", map[string]int64{"userId": 1}, protocol.StatusBadRequest},
		{"CREATE_ROLE", map[string]string{"name": "ADMIN"}, protocol.StatusError},
	}
	for _, tc := range cases {
		resp := e.call(t, tc.action, adminToken, tc.payload)
		if resp.Status != tc.status {
			t.Fatalf("%s %v: got %s %q, want %s", tc.action, tc.payload, resp.Status, resp.ErrorMessage, tc.status)
		}
	}
	resp := e.call(t, "CREATE_ROLE", adminToken, map[string]string{"name": "ADMIN"})
	if resp.ErrorMessage != "role already exists" {
		t.Fatalf("conflicts keep their message, got %q", resp.ErrorMessage)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	e := newEnv(t)
	token, _ := e.login(t, "admin", "admin123")
	if !e.conn.tokens[token] {
		t.Fatalf("login should adopt the token on the connection")
	}

	var out message
	e.mustSucceed(t, "LOGOUT", token, nil, &out)
	if out.Message != "logged out" {
		t.Fatalf("first logout: %q", out.Message)
	}
	if e.conn.tokens[token] {
		t.Fatalf("logout should release the token")
	}
	e.mustSucceed(t, "LOGOUT", token, nil, &out)
	if out.Message != "no active session" {
		t.Fatalf("second logout: %q", out.Message)
	}
	e.mustSucceed(t, "LOGOUT", "", nil, &out)
	if out.Message != "no active session" {
		t.Fatalf("logout without token: %q", out.Message)
	}

	resp := e.call(t, "GET_USER_PROFILE", token, nil)
	if resp.Status != protocol.StatusUnauthorized {
		t.Fatalf("token should be invalid after logout, got %s", resp.Status)
	}
}

func TestConcurrentLoginsYieldDistinctTokens(t *testing.T) {
	e := newEnv(t)
	adminToken, _ := e.login(t, "admin", "admin123")
	const n = 8
	for i := 0; i < n; i++ {
		e.newUser(t, adminToken, fmt.Sprintf("user%d", i), auth.RoleViewer)
	}

	tokens := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := e.call(t, "LOGIN", "", map[string]string{"username": fmt.Sprintf("user%d", i), "password": analystPassword})
			if resp.Status != protocol.StatusSuccess {
				return
			}
			b, _ := json.Marshal(resp.Data)
			var out loginResult
			_ = json.Unmarshal(b, &out)
			tokens[i] = out.Token
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, token := range tokens {
		if token == "" || seen[token] {
			t.Fatalf("login %d produced missing or duplicate token %q", i, token)
		}
		seen[token] = true
		p, ok, err := e.sessions.Get(context.Background(), token)
		if err != nil || !ok || p.Username != fmt.Sprintf("user%d", i) {
			t.Fatalf("token %d does not resolve: %+v %v %v", i, p, ok, err)
		}
	}
}

func TestDeactivationRevokesSessions(t *testing.T) {
	e := newEnv(t)
	adminToken, adminID := e.login(t, "admin", "admin123")
	userID := e.newUser(t, adminToken, "viv", auth.RoleViewer)
	first, _ := e.login(t, "viv", analystPassword)
	second, _ := e.login(t, "viv", analystPassword)

	var out userChange
	e.mustSucceed(t, "UPDATE_USER_STATUS", adminToken, map[string]any{"userId": userID, "active": false}, &out)
	if out.SessionsRevoked != 2 || out.User.Active {
		t.Fatalf("unexpected result: %+v", out)
	}
	for _, token := range []string{first, second} {
		if resp := e.call(t, "GET_ALL_BANKS", token, nil); resp.Status != protocol.StatusUnauthorized {
			t.Fatalf("revoked token still works: %s", resp.Status)
		}
	}
	resp := e.call(t, "LOGIN", "", map[string]string{"username": "viv", "password": analystPassword})
	if resp.Status != protocol.StatusUnauthorized || resp.ErrorMessage != "account is disabled" {
		t.Fatalf("disabled login: %s %q", resp.Status, resp.ErrorMessage)
	}
	resp = e.call(t, "UPDATE_USER_STATUS", adminToken, map[string]any{"userId": adminID, "active": false})
	if resp.Status != protocol.StatusBadRequest {
		t.Fatalf("admin should not deactivate themselves, got %s", resp.Status)
	}
}

func TestUserWithoutRole(t *testing.T) {
	e := newEnv(t)
	adminToken, _ := e.login(t, "admin", "admin123")
	e.newUser(t, adminToken, "nobody", "")
	token, _ := e.login(t, "nobody", analystPassword)

	var profile auth.UserView
	e.mustSucceed(t, "GET_USER_PROFILE", token, nil, &profile)
	if profile.Username != "nobody" || profile.Role != "" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	resp := e.call(t, "CREATE_BANK", token, map[string]string{"name": "X", "code": "XX"})
	if resp.Status != protocol.StatusForbidden || resp.ErrorMessage != "role not determined" {
		t.Fatalf("got %s %q", resp.Status, resp.ErrorMessage)
	}
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)
	adminToken, _ := e.login(t, "admin", "admin123")
	e.newUser(t, adminToken, "cleo", auth.RoleViewer)
	token, _ := e.login(t, "cleo", analystPassword)

	resp := e.call(t, "CHANGE_PASSWORD", token, map[string]string{"currentPassword": "nope", "newPassword": "Fresh#Secret2027"})
	if resp.Status != protocol.StatusUnauthorized {
		t.Fatalf("wrong current password: got %s", resp.Status)
	}
	e.mustSucceed(t, "CHANGE_PASSWORD", token, map[string]string{"currentPassword": analystPassword, "newPassword": "Fresh#Secret2027"}, nil)
	e.login(t, "cleo", "Fresh#Secret2027")
}

func TestAuditQueries(t *testing.T) {
	e := newEnv(t)
	adminToken, adminID := e.login(t, "admin", "admin123")
	e.call(t, "FROBNICATE", adminToken, nil)
	e.call(t, "GET_ALL_BANKS", adminToken, nil)

	var all []audit.Entry
	e.mustSucceed(t, "GET_ALL_AUDIT_LOGS", adminToken, map[string]int{"limit": 2}, &all)
	if len(all) != 2 || all[0].ActionType != "GET_ALL_BANKS" || all[1].ActionType != audit.ActionUnknown {
		t.Fatalf("unexpected newest entries: %+v", all)
	}

	var mine []audit.Entry
	e.mustSucceed(t, "GET_USER_AUDIT_LOGS", adminToken, map[string]int64{"userId": adminID}, &mine)
	if len(mine) < 3 {
		t.Fatalf("expected login and later actions for admin, got %d", len(mine))
	}
	for _, entry := range mine {
		if entry.UserID == nil || *entry.UserID != adminID {
			t.Fatalf("foreign entry in user log: %+v", entry)
		}
		if !strings.Contains(entry.Details, "conn=test-conn") {
			t.Fatalf("entry misses connection id: %q", entry.Details)
		}
	}
	if mine[len(mine)-1].ActionType != "LOGIN" {
		t.Fatalf("oldest admin entry should be the login, got %s", mine[len(mine)-1].ActionType)
	}
}
