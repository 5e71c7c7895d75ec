package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SanishKumar/comfy-service/internal/config"
	"github.com/SanishKumar/comfy-service/internal/generator"
	"github.com/SanishKumar/comfy-service/internal/interfaces"
	"github.com/SanishKumar/comfy-service/internal/records"
	"github.com/SanishKumar/comfy-service/internal/storage"
	"github.com/SanishKumar/comfy-service/internal/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGenerator struct {
	req        generator.Request
	submission *generator.Submission
	result     *generator.Result
	err        error
}

func (g *fakeGenerator) Generate(ctx context.Context, req generator.Request) (*generator.Result, error) {
	g.req = req

	sub := g.submission
	if sub == nil && g.result != nil {
		sub = &generator.Submission{PromptID: g.result.PromptID, ClientID: g.result.ClientID, Seed: g.result.Seed}
	}
	if sub != nil && req.OnSubmitted != nil {
		req.OnSubmitted(*sub)
	}
	return g.result, g.err
}

type fakeComfy struct {
	statsErr error
}

func (f *fakeComfy) OpenSession(ctx context.Context, clientID string) (interfaces.Session, error) {
	return nil, errors.New("not used")
}

func (f *fakeComfy) QueuePrompt(ctx context.Context, graph workflow.JobGraph, clientID string) (*interfaces.PromptResponse, error) {
	return nil, errors.New("not used")
}

func (f *fakeComfy) FetchImages(ctx context.Context, promptID string) (interfaces.NodeImages, error) {
	return nil, errors.New("not used")
}

func (f *fakeComfy) SystemStats(ctx context.Context) (map[string]interface{}, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return map[string]interface{}{"system": map[string]interface{}{}}, nil
}

type failingStore struct{}

func (failingStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	return "", errors.New("disk full")
}

func (failingStore) List(ctx context.Context) ([]interfaces.ImageInfo, error) {
	return nil, errors.New("disk gone")
}

type testEnv struct {
	router    *gin.Engine
	generator *fakeGenerator
	comfy     *fakeComfy
	records   *records.Manager
	dir       string
}

func newTestEnv(t *testing.T, store interfaces.ImageStore) *testEnv {
	return newTestEnvWithRecords(t, store, records.NewManager(config.RedisConfig{}))
}

func newTestEnvWithRecords(t *testing.T, store interfaces.ImageStore, recordStore *records.Manager) *testEnv {
	dir := t.TempDir()
	if store == nil {
		local, err := storage.NewLocalStore(dir)
		require.NoError(t, err)
		store = local
	}

	env := &testEnv{
		generator: &fakeGenerator{},
		comfy:     &fakeComfy{},
		records:   recordStore,
		dir:       dir,
	}

	h := NewHandler(env.generator, env.comfy, store, env.records)
	h.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local) }

	env.router = gin.New()
	env.router.Use(CORS([]string{"http://localhost:5173"}))
	h.RegisterRoutes(env.router)
	return env
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func successResult(seed uint32, images interfaces.NodeImages) *generator.Result {
	return &generator.Result{PromptID: "p-1", ClientID: "c-1", Seed: seed, Images: images}
}

func TestGenerateRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.result = successResult(42, interfaces.NodeImages{
		"9":  {{NodeID: "9", Data: []byte("first")}, {NodeID: "9", Data: []byte("second")}},
		"12": {{NodeID: "12", Data: []byte("third")}},
	})

	w := env.do(http.MethodPost, "/generate", `{"prompt": "a cat", "seed": 42, "negative_prompt": "blurry", "lora_name": "style"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("first")), body["image"])
	assert.Equal(t, "png", body["format"])
	assert.Equal(t, float64(5), body["size_bytes"])
	assert.Equal(t, "a cat", body["prompt"])
	assert.Equal(t, float64(42), body["seed"])
	assert.Equal(t, "style", body["lora_name"])

	wantPath := filepath.Join(env.dir, "20240309_140507_a_cat_seed42.png")
	assert.Equal(t, wantPath, body["saved_path"])
	data, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	require.NotNil(t, env.generator.req.Seed)
	assert.Equal(t, uint32(42), *env.generator.req.Seed)
	assert.Equal(t, "blurry", env.generator.req.NegativePrompt)
	assert.Equal(t, "style", env.generator.req.LoraName)

	list, err := env.records.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, records.StatusCompleted, list[0].Status)
	assert.Equal(t, "p-1", list[0].PromptID)
	assert.Equal(t, wantPath, list[0].SavedPath)
}

func TestGenerateRandomSeedWithoutSave(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.result = successResult(777, interfaces.NodeImages{"7": {{Data: []byte("img")}}})

	w := env.do(http.MethodPost, "/generate", `{"prompt": "a cat", "save_image": false}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(777), body["seed"])
	assert.Nil(t, body["saved_path"])
	assert.Nil(t, body["lora_name"])
	assert.Contains(t, body, "saved_path")
	assert.Nil(t, env.generator.req.Seed)

	images, err := os.ReadDir(env.dir)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestGenerateSaveFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, failingStore{})
	env.generator.result = successResult(1, interfaces.NodeImages{"7": {{Data: []byte("img")}}})

	w := env.do(http.MethodPost, "/generate", `{"prompt": "a cat"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["saved_path"])
}

func TestGenerateFailures(t *testing.T) {
	cases := []struct {
		name   string
		result *generator.Result
		err    error
		want   string
	}{
		{"backend error", nil, errors.New("connection refused"), "Inference error: connection refused"},
		{"empty result", successResult(1, interfaces.NodeImages{"7": {}}), nil, "No images generated"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.generator.result = tc.result
			env.generator.err = tc.err

			w := env.do(http.MethodPost, "/generate", `{"prompt": "a cat"}`)
			require.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Equal(t, tc.want, decode(t, w)["detail"])

			list, err := env.records.List(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, records.StatusFailed, list[0].Status)
		})
	}
}

func TestGenerateFailureKeepsSubmission(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.submission = &generator.Submission{PromptID: "p-9", ClientID: "c-9", Seed: 31}
	env.generator.err = errors.New("push channel failed while waiting for p-9: EOF")

	w := env.do(http.MethodPost, "/generate", `{"prompt": "a cat"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	list, err := env.records.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, records.StatusFailed, list[0].Status)
	assert.Equal(t, "p-9", list[0].PromptID)
	assert.Equal(t, "c-9", list[0].ClientID)
	require.NotNil(t, list[0].Seed)
	assert.Equal(t, uint32(31), *list[0].Seed)
}

func TestGenerateRecordsOutliveCancelledRequest(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	redisCfg := config.RedisConfig{Host: mr.Host(), Port: port}

	env := newTestEnvWithRecords(t, nil, records.NewManager(redisCfg))
	env.generator.err = errors.New("connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(`{"prompt": "a cat"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	persisted := records.NewManager(redisCfg)
	defer persisted.Shutdown()
	list, err := persisted.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, records.StatusFailed, list[0].Status)
	assert.Equal(t, "connection refused", list[0].Error)
}

func TestGenerateEmptyPrompt(t *testing.T) {
	for _, body := range []string{`{}`, `{"prompt": ""}`} {
		env := newTestEnv(t, nil)
		w := env.do(http.MethodPost, "/generate", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "prompt is required", decode(t, w)["detail"], body)
	}
}

func TestGenerateBadRequest(t *testing.T) {
	for _, body := range []string{
		`{"prompt": "x", "seed": -1}`,
		`{"prompt": "x", "seed": 4294967296}`,
		`not json`,
	} {
		env := newTestEnv(t, nil)
		w := env.do(http.MethodPost, "/generate", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.NotEmpty(t, decode(t, w)["detail"])
	}
}

func TestListImages(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "a.png"), []byte("abc"), 0644))

	w := env.do(http.MethodGet, "/images", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
	images := body["images"].([]interface{})
	first := images[0].(map[string]interface{})
	assert.Equal(t, "a.png", first["filename"])
	assert.Equal(t, float64(3), first["size_bytes"])
	_, err := time.Parse(time.RFC3339, first["created"].(string))
	assert.NoError(t, err)
}

func TestListImagesFailure(t *testing.T) {
	env := newTestEnv(t, failingStore{})

	w := env.do(http.MethodGet, "/images", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["detail"], "disk gone")
}

func TestGenerations(t *testing.T) {
	env := newTestEnv(t, nil)
	env.generator.result = successResult(1, interfaces.NodeImages{"7": {{Data: []byte("img")}}})
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/generate", `{"prompt": "a cat"}`).Code)

	w := env.do(http.MethodGet, "/generations?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
	id := body["generations"].([]interface{})[0].(map[string]interface{})["id"].(string)

	w = env.do(http.MethodGet, "/generations/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decode(t, w)["status"])

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/generations/missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/generations?limit=zero", "").Code)
}

func TestHealthAndRoot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.comfy.statsErr = errors.New("down")

	w := env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)

	w = env.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["endpoints"], "POST /generate")
}

func TestReadiness(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/ready", "").Code)

	env.comfy.statsErr = errors.New("connection refused")
	w := env.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w)["detail"], "connection refused")
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodOptions, "/generate", "",
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "content-type")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "content-type", w.Header().Get("Access-Control-Allow-Headers"))

	w = env.do(http.MethodGet, "/health", "", "Origin", "http://evil.example")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = env.do(http.MethodGet, "/health", "", "Origin", "http://localhost:5173")
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcard(t *testing.T) {
	router := gin.New()
	router.Use(CORS([]string{"*"}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://anything.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "http://anything.example", w.Header().Get("Access-Control-Allow-Origin"))
}
