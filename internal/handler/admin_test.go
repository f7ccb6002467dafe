package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"omg-license-server/internal/database"
	"omg-license-server/internal/middleware"
	"omg-license-server/internal/model"
	"omg-license-server/internal/store"
	"omg-license-server/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAdminApp(t *testing.T) (*fiber.App, *store.Store) {
	t.Helper()
	database.InitTestDB()
	t.Cleanup(database.CleanTestDB)
	util.SetSessionSecret("test-session-secret")

	st := store.New(database.DB)
	h := NewAdminHandler(st)

	app := fiber.New()
	app.Post("/api/auth/login", h.HandleLogin)
	admin := app.Group("/api/admin", middleware.Auth(), middleware.AdminOnly())
	admin.Get("/licenses", h.HandleListLicenses)
	admin.Get("/licenses/:key/seats", h.HandleLicenseSeats)
	admin.Get("/audit", h.HandleAuditLog)
	admin.Get("/statistics", h.HandleStatistics)
	return app, st
}

func createUser(t *testing.T, username, password, role string) {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	require.NoError(t, database.DB.Create(&model.User{
		Username:  username,
		Password:  string(hashed),
		Email:     username + "@example.com",
		Role:      role,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}).Error)
}

func login(t *testing.T, app *fiber.App, username, password string) (int, string) {
	t.Helper()
	status, body := doJSON(t, app, http.MethodPost, "/api/auth/login", fiber.Map{
		"username": username,
		"password": password,
	})
	tok, _ := body["token"].(string)
	return status, tok
}

func TestLoginAndListLicenses(t *testing.T) {
	app, st := newAdminApp(t)
	createUser(t, "admin", "s3cret", "admin")
	createLicense(t, st, "dev@acme.io", model.TierTeam, 5, nil)

	status, tok := login(t, app, "admin", "s3cret")
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, tok)

	status, body := doAuthedJSON(t, app, "/api/admin/licenses", tok)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])
}

func TestLoginRejectsBadPassword(t *testing.T) {
	app, _ := newAdminApp(t)
	createUser(t, "admin", "s3cret", "admin")

	status, _ := login(t, app, "admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = login(t, app, "nobody", "s3cret")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	app, _ := newAdminApp(t)

	status, _ := doJSON(t, app, http.MethodGet, "/api/admin/licenses", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doAuthedJSON(t, app, "/api/admin/licenses", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminEndpointsRejectViewerRole(t *testing.T) {
	app, _ := newAdminApp(t)
	createUser(t, "viewer", "s3cret", "viewer")

	status, tok := login(t, app, "viewer", "s3cret")
	require.Equal(t, http.StatusOK, status)

	status, _ = doAuthedJSON(t, app, "/api/admin/licenses", tok)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestLicenseSeatsEndpoint(t *testing.T) {
	app, st := newAdminApp(t)
	createUser(t, "admin", "s3cret", "admin")
	license := createLicense(t, st, "dev@acme.io", model.TierTeam, 5, nil)

	_, err := st.TryAllocateSeat(license.ID, "m1", model.SeatMetadata{Hostname: "dev-box"}, nil)
	require.NoError(t, err)

	_, tok := login(t, app, "admin", "s3cret")
	status, body := doAuthedJSON(t, app, "/api/admin/licenses/"+license.Key+"/seats", tok)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["used_seats"])
	assert.EqualValues(t, 5, body["max_seats"])
	assert.Len(t, body["seats"], 1)
}

func TestStatisticsEndpoint(t *testing.T) {
	app, st := newAdminApp(t)
	createUser(t, "admin", "s3cret", "admin")
	createLicense(t, st, "a@acme.io", model.TierPro, 1, nil)
	createLicense(t, st, "b@acme.io", model.TierTeam, 5, nil)

	_, tok := login(t, app, "admin", "s3cret")
	status, body := doAuthedJSON(t, app, "/api/admin/statistics", tok)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["total_licenses"])
	assert.EqualValues(t, 2, body["active_licenses"])
}

func doAuthedJSON(t *testing.T, app *fiber.App, path, token string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}
