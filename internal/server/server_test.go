package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"taleweaver/internal/app"
	"taleweaver/internal/story"
	"taleweaver/pkg/store"
)

type fakeText struct {
	reply string
	err   error
}

func (f *fakeText) GenerateText(context.Context, string, string) (string, error) {
	return f.reply, f.err
}

type fakeImages struct{}

func (fakeImages) GenerateImage(context.Context, string) ([]byte, error) {
	return []byte("jpeg"), nil
}

type fakeObjects struct{}

func (fakeObjects) Put(context.Context, string, io.Reader, int64, string) error { return nil }
func (fakeObjects) URL(key string) string                                       { return "https://cdn.test/" + key }
func (fakeObjects) Delete(context.Context, string) error                        { return nil }

const storyReply = `{"title": "The Moon Trip", "pages": ["One.", "Two.", "Three.", "Four.", "Five.", "Six."]}`

func newTestServer(t *testing.T, text *fakeText, generateLimit int) *httptest.Server {
	t.Helper()
	dataStore := store.NewMemoryStore()
	sessions, err := store.NewJWTSessionStore("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	core, err := app.New(app.Config{
		Store:    dataStore,
		Sessions: sessions,
		Pipeline: story.NewPipeline(text, story.NewIllustrator(fakeImages{}, fakeObjects{}), 2),
		Chat:     text,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	redis := miniredis.RunT(t)
	srv, err := New(Config{
		App:                    core,
		RedisAddr:              redis.Addr(),
		RateLimitPerMinute:     1000,
		GenerateLimitPerMinute: generateLimit,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func registerUser(t *testing.T, baseURL, email string) string {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, baseURL+"/api/auth/register", "", map[string]string{
		"name": "Ada", "email": email, "password": "secret1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d body=%v", resp.StatusCode, payload)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("register returned no token: %v", payload)
	}
	return token
}

func generateStory(t *testing.T, baseURL, token string) string {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, baseURL+"/api/stories/generate", token, map[string]any{
		"prompt": "A brave squirrel who wants to fly to the moon", "age": 5,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate status = %d body=%v", resp.StatusCode, payload)
	}
	book, _ := payload["storybook"].(map[string]any)
	id, _ := book["id"].(string)
	if id == "" {
		t.Fatalf("generate returned no story id: %v", payload)
	}
	return id
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &fakeText{reply: storyReply}, 100)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}
}

func TestGenerateAndFetchStory(t *testing.T) {
	ts := newTestServer(t, &fakeText{reply: storyReply}, 100)
	token := registerUser(t, ts.URL, "ada@example.com")
	id := generateStory(t, ts.URL, token)

	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/stories/"+id, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get story status = %d body=%v", resp.StatusCode, payload)
	}
	book, _ := payload["story"].(map[string]any)
	pages, _ := book["pages"].([]any)
	if len(pages) != 6 {
		t.Fatalf("pages = %d, want 6", len(pages))
	}
	first, _ := pages[0].(map[string]any)
	if first["pageNumber"].(float64) != 1 {
		t.Fatalf("first page = %v", first)
	}

	resp, payload = doJSON(t, http.MethodGet, ts.URL+"/api/stories/mine", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mine status = %d", resp.StatusCode)
	}
	stories, _ := payload["stories"].([]any)
	if len(stories) != 1 {
		t.Fatalf("stories = %d, want 1", len(stories))
	}
}

func TestGenerateFailureReturns500(t *testing.T) {
	ts := newTestServer(t, &fakeText{err: errors.New("model down")}, 100)
	token := registerUser(t, ts.URL, "ada@example.com")

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/stories/generate", token, map[string]any{
		"prompt": "A brave squirrel who wants to fly to the moon", "age": 5,
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if payload["success"] != false {
		t.Fatalf("body = %v", payload)
	}
}

func TestGenerateValidation(t *testing.T) {
	ts := newTestServer(t, &fakeText{reply: storyReply}, 100)
	token := registerUser(t, ts.URL, "ada@example.com")

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/stories/generate", token, map[string]any{
		"prompt": "short", "age": 5,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short prompt status = %d, want 400", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/stories/generate", token, map[string]any{
		"prompt": "A brave squirrel who wants to fly to the moon", "age": 15,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad age status = %d, want 400", resp.StatusCode)
	}
}

func TestShareUnshareAndPublicAccess(t *testing.T) {
	ts := newTestServer(t, &fakeText{reply: storyReply}, 100)
	token := registerUser(t, ts.URL, "ada@example.com")
	id := generateStory(t, ts.URL, token)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/public/stories/"+id, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("private story public status = %d, want 404", resp.StatusCode)
	}

	resp, payload := doJSON(t, http.MethodPut, ts.URL+"/api/stories/"+id+"/share", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("share status = %d body=%v", resp.StatusCode, payload)
	}
	book, _ := payload["story"].(map[string]any)
	if book["isPublic"] != true {
		t.Fatalf("story after share = %v", book)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/public/stories/"+id, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("shared story public status = %d, want 200", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/stories/"+id+"/unshare", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unshare status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/public/stories/"+id, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unshared story public status = %d, want 404", resp.StatusCode)
	}
}

func TestForeignOwnerGets404(t *testing.T) {
	ts := newTestServer(t, &fakeText{reply: storyReply}, 100)
	ownerToken := registerUser(t, ts.URL, "ada@example.com")
	otherToken := registerUser(t, ts.URL, "eve@example.com")
	id := generateStory(t, ts.URL, ownerToken)

	for _, probe := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/stories/" + id},
		{http.MethodPut, "/api/stories/" + id + "/share"},
		{http.MethodDelete, "/api/stories/" + id},
	} {
		resp, _ := doJSON(t, probe.method, ts.URL+probe.path, otherToken, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s %s status = %d, want 404", probe.method, probe.path, resp.StatusCode)
		}
	}
}

func TestCommentsFlow(t *testing.T) {
	ts := newTestServer(t, &fakeText{reply: storyReply}, 100)
	token := registerUser(t, ts.URL, "ada@example.com")
	id := generateStory(t, ts.URL, token)

	commentsURL := ts.URL + "/api/public/stories/" + id + "/comments"
	resp, _ := doJSON(t, http.MethodPost, commentsURL, "", map[string]string{"name": "Reader", "text": "So lovely!"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("comment on private status = %d, want 404", resp.StatusCode)
	}

	if resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/stories/"+id+"/share", token, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("share status = %d", resp.StatusCode)
	}

	resp, payload := doJSON(t, http.MethodPost, commentsURL, "", map[string]string{"name": "Reader", "text": "So lovely!"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("comment status = %d body=%v", resp.StatusCode, payload)
	}
	resp, _ = doJSON(t, http.MethodPost, commentsURL, "", map[string]string{"name": "R", "text": "So lovely!"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short name status = %d, want 400", resp.StatusCode)
	}

	resp, payload = doJSON(t, http.MethodGet, commentsURL, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list comments status = %d", resp.StatusCode)
	}
	comments, _ := payload["comments"].([]any)
	if len(comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(comments))
	}
	pagination, _ := payload["pagination"].(map[string]any)
	if pagination["totalItems"].(float64) != 1 {
		t.Fatalf("pagination = %v", pagination)
	}
}

func TestPublicListPaginationParams(t *testing.T) {
	ts := newTestServer(t, &fakeText{reply: storyReply}, 100)

	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/public/stories", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	pagination, _ := payload["pagination"].(map[string]any)
	if pagination["currentPage"].(float64) != 1 {
		t.Fatalf("default page = %v", pagination)
	}

	for _, query := range []string{"?limit=0", "?limit=51", "?page=-1", "?page=abc"} {
		resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/public/stories"+query, "", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("query %q status = %d, want 400", query, resp.StatusCode)
		}
	}

	// Far past the end, including values whose offset would overflow.
	resp, payload = doJSON(t, http.MethodGet, ts.URL+"/api/public/stories?page=4611686018427387905&limit=3", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("huge page status = %d, want 200", resp.StatusCode)
	}
	if stories, _ := payload["stories"].([]any); len(stories) != 0 {
		t.Fatalf("huge page stories = %v, want empty", stories)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/public/stories/search?q=x", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short search query status = %d, want 400", resp.StatusCode)
	}
}

func TestChatbot(t *testing.T) {
	ts := newTestServer(t, &fakeText{reply: "Try a consistent bedtime routine."}, 100)

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/chatbot", "", map[string]string{
		"query": "How do I get my toddler to sleep?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chatbot status = %d body=%v", resp.StatusCode, payload)
	}
	if payload["response"] == "" || payload["timestamp"] == "" {
		t.Fatalf("chatbot body = %v", payload)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/chatbot", "", map[string]string{"query": "hi"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short query status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	ts := newTestServer(t, &fakeText{reply: storyReply}, 2)
	token := registerUser(t, ts.URL, "ada@example.com")

	body := map[string]any{"prompt": "A brave squirrel who wants to fly to the moon", "age": 5}
	for i := 0; i < 2; i++ {
		resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/stories/generate", token, body)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("request %d status = %d body=%v", i, resp.StatusCode, payload)
		}
	}
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/stories/generate", token, body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
}

func TestCommentRateLimitSharedAcrossStories(t *testing.T) {
	text := &fakeText{reply: storyReply}
	dataStore := store.NewMemoryStore()
	sessions, err := store.NewJWTSessionStore("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	core, err := app.New(app.Config{
		Store:    dataStore,
		Sessions: sessions,
		Pipeline: story.NewPipeline(text, story.NewIllustrator(fakeImages{}, fakeObjects{}), 2),
		Chat:     text,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	redis := miniredis.RunT(t)
	srv, err := New(Config{
		App:                    core,
		RedisAddr:              redis.Addr(),
		RateLimitPerMinute:     2,
		GenerateLimitPerMinute: 100,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	token := registerUser(t, ts.URL, "ada@example.com")
	first := generateStory(t, ts.URL, token)
	second := generateStory(t, ts.URL, token)
	for _, id := range []string{first, second} {
		resp, payload := doJSON(t, http.MethodPut, ts.URL+"/api/stories/"+id+"/share", token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("share %s status = %d body=%v", id, resp.StatusCode, payload)
		}
	}

	comment := map[string]string{"name": "Reader", "text": "Lovely!"}
	for i, id := range []string{first, second} {
		resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/public/stories/"+id+"/comments", "", comment)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("comment %d status = %d body=%v", i, resp.StatusCode, payload)
		}
	}
	// The quota covers comments as a class, not each story separately.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/public/stories/"+second+"/comments", "", comment)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third comment status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}

	// The chat assistant draws from its own budget.
	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/chatbot", "", map[string]string{
		"query": "How do I handle bedtime tantrums?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chatbot status = %d body=%v", resp.StatusCode, payload)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &fakeText{reply: storyReply}, 100)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/auth/register"},
		{http.MethodPost, "/api/public/stories"},
		{http.MethodGet, "/api/chatbot"},
	} {
		resp, _ := doJSON(t, tc.method, ts.URL+tc.path, "", nil)
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s status = %d, want 405", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestSearchFindsSharedStory(t *testing.T) {
	ts := newTestServer(t, &fakeText{reply: storyReply}, 100)
	token := registerUser(t, ts.URL, "ada@example.com")
	id := generateStory(t, ts.URL, token)
	if resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/stories/"+id+"/share", token, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("share failed")
	}

	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/public/stories/search?q=moon", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d", resp.StatusCode)
	}
	stories, _ := payload["stories"].([]any)
	if len(stories) != 1 {
		t.Fatalf("search results = %d, want 1", len(stories))
	}
	found, _ := stories[0].(map[string]any)
	if found["id"] != id {
		t.Fatalf("found = %v, want %s", found, id)
	}
	owner, _ := found["owner"].(map[string]any)
	if owner["name"] != "Ada" {
		t.Fatalf("owner = %v", owner)
	}
	if _, hasEmail := owner["email"]; hasEmail {
		t.Fatal("owner payload must not carry email")
	}
}
