package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/okbozin/okboz-crm-sub003/internal/aggregate"
	"github.com/okbozin/okboz-crm-sub003/internal/broadcast"
	"github.com/okbozin/okboz-crm-sub003/internal/cloud"
	"github.com/okbozin/okboz-crm-sub003/internal/corporate"
	"github.com/okbozin/okboz-crm-sub003/internal/kv"
	"github.com/okbozin/okboz-crm-sub003/internal/model"
	"github.com/okbozin/okboz-crm-sub003/internal/session"
	"github.com/okbozin/okboz-crm-sub003/internal/storage"
	"github.com/okbozin/okboz-crm-sub003/pkg/jwtutil"
	"github.com/okbozin/okboz-crm-sub003/pkg/middleware"
	"github.com/okbozin/okboz-crm-sub003/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type app struct {
	e       *echo.Echo
	jwt     *jwtutil.JWTUtil
	vendors *storage.Collection[model.Vendor]
	staff   *storage.Collection[model.Employee]
}

func newApp(t *testing.T) *app {
	t.Helper()
	return newAppWith(t, false)
}

// newAppWith builds the routes; checkSessions ties corporate tokens to live accounts.
func newAppWith(t *testing.T, checkSessions bool) *app {
	t.Helper()
	broker := broadcast.NewLocalBroker(nil)
	t.Cleanup(func() { _ = broker.Close() })

	acc := storage.NewAccessor(kv.NewObserved(kv.NewMemoryStore(), broker, nil))
	corporates := storage.NewCollection[model.CorporateAccount](acc, storage.CorporateAccountsKey)
	vendors := storage.NewCollection[model.Vendor](acc, storage.VendorKey)
	staff := storage.NewCollection[model.Employee](acc, storage.StaffKey)

	a := &app{
		e:       echo.New(),
		jwt:     jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "handler-test", ExpirationHours: 1}),
		vendors: vendors,
		staff:   staff,
	}
	vendorHandler := NewCollectionHandler(vendors, aggregate.New(vendors, corporates, nil), broker)
	vendorHandler.now = func() time.Time { return time.Date(2026, 2, 14, 8, 0, 0, 0, time.UTC) }

	corporateSvc := corporate.NewService(corporates, nil)
	var check middleware.SessionCheck
	if checkSessions {
		check = corporateSvc.CheckSession
	}
	RegisterRoutes(a.e, a.jwt, check,
		vendorHandler,
		NewCollectionHandler(staff, aggregate.New(staff, corporates, nil), broker),
		NewCorporateHandler(corporateSvc),
		NewAuthHandler(corporateSvc, a.jwt),
		NewStaffHandler(staff, nil),
	)
	return a
}

func (a *app) token(t *testing.T, sessionID, role string) string {
	t.Helper()
	token, err := a.jwt.GenerateToken(sessionID, "", role)
	require.NoError(t, err)
	return "Bearer " + token
}

func (a *app) do(t *testing.T, method, target, auth string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndAuth(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/collections/vendor_data", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCollection_ReadWriteIsolation(t *testing.T) {
	a := newApp(t)
	acme := a.token(t, "acme@co.com", "CORPORATE")
	beta := a.token(t, "beta@co.com", "CORPORATE")

	rec := a.do(t, http.MethodPut, "/api/collections/vendor_data", acme, `[{"id":"V2","name":"Acme Vendor"}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"written":true,"count":1}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/collections/vendor_data", acme, "")
	assert.JSONEq(t, `[{"id":"V2","name":"Acme Vendor"}]`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/collections/vendor_data", beta, "")
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = a.do(t, http.MethodPut, "/api/collections/vendor_data", acme, `[]`)
	assert.JSONEq(t, `{"written":false,"count":0}`, rec.Body.String())

	rec = a.do(t, http.MethodPut, "/api/collections/vendor_data", acme, `[{"id":"V3"}]`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(t, http.MethodPut, "/api/collections/vendor_data", acme, `{"id":"V3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/collections/vendor_data", acme, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/collections/vendor_data?confirm=true", acme, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, a.vendors.Read(context.Background(), session.Corporate("acme@co.com")))
}

func TestCollection_Aggregate(t *testing.T) {
	a := newApp(t)
	admin := a.token(t, "admin", "ADMIN")
	acme := a.token(t, "acme@co.com", "CORPORATE")

	rec := a.do(t, http.MethodPost, "/api/corporates", admin,
		`{"companyName":"Acme Corp","email":"acme@co.com","partners":[{"name":"A","share":60},{"name":"B","share":40}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	a.do(t, http.MethodPut, "/api/collections/vendor_data", admin, `[{"id":"V1","name":"Head Vendor"}]`)
	a.do(t, http.MethodPut, "/api/collections/vendor_data", acme, `[{"id":"V2","name":"Acme Vendor"}]`)

	rec = a.do(t, http.MethodGet, "/api/collections/vendor_data/aggregate", acme, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/collections/vendor_data/aggregate", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tagged []aggregate.Tagged[model.Vendor]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tagged))
	require.Len(t, tagged, 2)
	assert.Equal(t, "Head Office", tagged[0].TenantName)
	assert.Equal(t, "Acme Corp", tagged[1].TenantName)

	tagged[1].Record.Name = "tampered"
	body, _ := json.Marshal(append(tagged, aggregate.Tagged[model.Vendor]{TenantID: "admin", Record: model.Vendor{ID: "V9", Name: "New"}}))
	rec = a.do(t, http.MethodPut, "/api/collections/vendor_data/aggregate", admin, string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	ctx := context.Background()
	assert.Len(t, a.vendors.Read(ctx, session.SuperAdmin()), 2)
	assert.Equal(t, "Acme Vendor", a.vendors.Read(ctx, session.Corporate("acme@co.com"))[0].Name)
}

func TestCollection_ExportImport(t *testing.T) {
	a := newApp(t)
	acme := a.token(t, "acme@co.com", "CORPORATE")
	a.do(t, http.MethodPut, "/api/collections/vendor_data", acme, `[{"id":"V1","name":"One"},{"id":"V2","name":"Two"}]`)

	exports := prometheus.BackupCounter.WithLabelValues("vendor_data", "export", "ok")
	xlsxExports := prometheus.BackupCounter.WithLabelValues("vendor_data", "export_xlsx", "ok")
	exportsBefore, xlsxBefore := testutil.ToFloat64(exports), testutil.ToFloat64(xlsxExports)

	rec := a.do(t, http.MethodGet, "/api/collections/vendor_data/export", acme, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="vendor_data_2026-02-14.json"`, rec.Header().Get(echo.HeaderContentDisposition))
	exported := rec.Body.String()

	rec = a.do(t, http.MethodGet, "/api/collections/vendor_data/export.xlsx", acme, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="vendor_data_2026-02-14.xlsx"`, rec.Header().Get(echo.HeaderContentDisposition))
	assert.NotEmpty(t, rec.Body.Bytes())
	assert.Equal(t, exportsBefore+1, testutil.ToFloat64(exports))
	assert.Equal(t, xlsxBefore+1, testutil.ToFloat64(xlsxExports))

	beta := a.token(t, "beta@co.com", "CORPORATE")
	rec = a.do(t, http.MethodPost, "/api/collections/vendor_data/import", beta, exported)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/collections/vendor_data/import?confirm=true", beta, `[{"id":"V1"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/collections/vendor_data/import?confirm=true", beta, exported)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"imported":2}`, rec.Body.String())

	// multipart upload of the same file
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "vendor_data.json")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(`[{"id":"V7","name":"Seven"}]`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/collections/vendor_data/import?confirm=true", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	req.Header.Set("Authorization", beta)
	rec = httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.Vendor{{ID: "V7", Name: "Seven"}}, a.vendors.Read(context.Background(), session.Corporate("beta@co.com")))
}

func TestCorporates(t *testing.T) {
	a := newApp(t)
	admin := a.token(t, "", "")

	rec := a.do(t, http.MethodPost, "/api/corporates", admin,
		`{"companyName":"Acme","email":"acme@co.com","password":"pw","partners":[{"name":"A","share":60},{"name":"B","share":30}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "100")

	rec = a.do(t, http.MethodPost, "/api/corporates", admin,
		`{"companyName":"Acme","email":"acme@co.com","password":"pw","partners":[{"name":"A","share":60},{"name":"B","share":40}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.CorporateAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Empty(t, created.Password)

	rec = a.do(t, http.MethodPost, "/api/corporates", admin, `{"companyName":"Other","email":"ACME@co.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/corporates", admin,
		`{"companyName":"Long","email":"long@co.com","password":"`+strings.Repeat("é", 40)+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(t, http.MethodPut, "/api/corporates/"+created.ID, admin, `{"companyName":"Acme Ltd","email":"acme@co.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPut, "/api/corporates/nope", admin, `{"companyName":"X","email":"x@co.com"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/corporates", a.token(t, "acme@co.com", "CORPORATE"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/corporates", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"password"`)
	assert.Contains(t, rec.Body.String(), "Acme Ltd")

	rec = a.do(t, http.MethodDelete, "/api/corporates/"+created.ID, admin, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLogin(t *testing.T) {
	a := newAppWith(t, true)
	admin := a.token(t, "", "")

	rec := a.do(t, http.MethodPost, "/api/corporates", admin, `{"companyName":"Acme","email":"acme@co.com","password":"pw"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/login", "", `{"email":"acme@co.com","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/login", "", `{"email":"ACME@co.com","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Token  string                `json:"token"`
		Tenant session.TenantContext `json:"tenant"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, session.Corporate("acme@co.com"), resp.Tenant)

	// the issued token resolves to the corporate partition
	rec = a.do(t, http.MethodGet, "/api/session", "Bearer "+resp.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tenantId":"acme@co.com","isSuperAdmin":false,"role":"CORPORATE"}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/corporates", "Bearer "+resp.Token, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// deactivating the account revokes the token already issued
	rec = a.do(t, http.MethodGet, "/api/corporates", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var accounts []model.CorporateAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
	require.Len(t, accounts, 1)
	rec = a.do(t, http.MethodPut, "/api/corporates/"+accounts[0].ID, admin, `{"companyName":"Acme","email":"acme@co.com","status":"Inactive"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/session", "Bearer "+resp.Token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/collections/vendor_data", "Bearer "+resp.Token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// a token for an account that never existed is refused too
	rec = a.do(t, http.MethodGet, "/api/session", a.token(t, "ghost@co.com", "CORPORATE"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffMarkersAndUploads(t *testing.T) {
	a := newApp(t)
	acme := a.token(t, "acme@co.com", "CORPORATE")
	a.do(t, http.MethodPut, "/api/collections/staff_data", acme,
		`[{"id":"E1","name":"Asha","role":"Driver","lat":18.5,"lng":73.8},{"id":"E2","name":"Ravi"}]`)

	rec := a.do(t, http.MethodGet, "/api/staff/markers", acme, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"E1","name":"Asha","role":"Driver","lat":18.5,"lng":73.8}]`, rec.Body.String())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "note.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("hello"))
	require.NoError(t, mw.WriteField("folder", "documents"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	req.Header.Set("Authorization", acme)
	rec = httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var up cloud.Upload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.True(t, up.Inline)
	assert.Equal(t, "data:text/plain;base64,aGVsbG8=", up.URL)
}

func TestWatch(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.e)
	defer srv.Close()

	acme := a.token(t, "acme@co.com", "CORPORATE")
	header := http.Header{}
	header.Set("Authorization", acme)
	header.Set(middleware.ClientIDHeader, "tab-b")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/collections/staff_data/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	put := func(origin, body string) {
		req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/collections/staff_data", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", acme)
		req.Header.Set(middleware.ClientIDHeader, origin)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
	}

	// the watcher's own write is not echoed back; the other tab's is
	put("tab-b", `[{"id":"E0","name":"Own"}]`)
	put("tab-a", `[{"id":"E1","name":"Asha"}]`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event ChangeEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "staff_data_acme@co.com", event.Key)
	assert.Equal(t, "tab-a", event.Origin)
	assert.JSONEq(t, `[{"id":"E1","name":"Asha"}]`, event.Value)
}
