package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postboard/internal/domain"
)

func (e *testEnv) admin(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(adminUser, adminPassword)
	return e.doRaw(req)
}

func TestAdminRequiresBasicAuth(t *testing.T) {
	env := setupTestEnv(t)
	_, token := env.register(t, "alice@example.com", "Alice")

	w := env.do(request{method: http.MethodGet, path: "/admin/feature-flags"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(request{method: http.MethodGet, path: "/admin/feature-flags", token: token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/feature-flags", nil)
	req.SetBasicAuth(adminUser, "wrong")
	assert.Equal(t, http.StatusUnauthorized, env.doRaw(req).Code)
}

func TestAdminFeatureFlags(t *testing.T) {
	env := setupTestEnv(t)

	w := env.admin(http.MethodGet, "/admin/feature-flags", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"feature_flags":[]}`, w.Body.String())

	w = env.admin(http.MethodPut, "/admin/feature-flags/beta", `{"enabled":false,"actors":[2,1]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	flag := decode[domain.Flag](t, w)
	assert.Equal(t, "beta", flag.Name)
	assert.Equal(t, []int64{1, 2}, flag.Actors)

	w = env.admin(http.MethodGet, "/admin/feature-flags/beta", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.admin(http.MethodPut, "/admin/feature-flags/beta", `{"actors":[1]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.admin(http.MethodPut, "/admin/feature-flags/Not%20Valid", `{"enabled":true}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.admin(http.MethodDelete, "/admin/feature-flags/beta", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.admin(http.MethodGet, "/admin/feature-flags/beta", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminJobs(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	job, err := env.jobs.Enqueue(ctx, "avatar_upload", map[string]any{"user_id": 1, "path": "/does/not/exist.png"})
	require.NoError(t, err)
	path := "/admin/jobs/" + strconv.FormatInt(job.ID, 10)

	require.Eventually(t, func() bool {
		got, err := env.jobs.Get(ctx, job.ID)
		return err == nil && got.Status == domain.JobStatusFailed
	}, assertWait, pollInterval)

	w := env.admin(http.MethodGet, "/admin/jobs?status=failed", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Jobs []JobResponse `json:"jobs"`
	}](t, w)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, job.ID, list.Jobs[0].ID)
	assert.NotEmpty(t, list.Jobs[0].ErrorMessage)

	w = env.admin(http.MethodGet, "/admin/jobs?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.admin(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.JobStatusFailed, decode[JobResponse](t, w).Status)

	w = env.admin(http.MethodPost, path+"/retry", "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		got, err := env.jobs.Get(ctx, job.ID)
		return err == nil && got.Status == domain.JobStatusFailed && got.Attempts == 2
	}, assertWait, pollInterval)

	w = env.admin(http.MethodDelete, path, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.admin(http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminStorageObjects(t *testing.T) {
	env := setupTestEnv(t)
	env.store.objects["postboard/avatars/1/a.png"] = []byte("abc")
	env.store.objects["other/file"] = []byte("x")

	w := env.admin(http.MethodGet, "/admin/storage/objects?prefix=postboard/", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Objects []StorageObjectResponse `json:"objects"`
	}](t, w)
	require.Len(t, resp.Objects, 1)
	assert.Equal(t, "postboard/avatars/1/a.png", resp.Objects[0].Key)
	assert.Equal(t, int64(3), resp.Objects[0].Size)
}
