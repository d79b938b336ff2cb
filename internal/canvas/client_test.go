package canvas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "commentbot/pkg/logx"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Token: "secret", RatePerSec: 1000}, logx.Nop())
	require.NoError(t, err)
	return c, srv
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()
	_, err := New(Config{BaseURL: "", Token: "x"}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "canvas.local", Token: "x"}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "https://canvas.local", Token: "  "}, logx.Nop())
	assert.Error(t, err)
}

func TestCourseSendsBearerToken(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/courses/42", r.URL.Path)
		_, _ = fmt.Fprint(w, `{"id":42,"name":"Algorithms"}`)
	}))

	co, err := c.Course(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, Course{ID: 42, Name: "Algorithms"}, co)
}

func TestAssignmentsFollowsPagination(t *testing.T) {
	t.Parallel()
	var srvURL string
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		switch r.URL.Query().Get("page") {
		case "":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses/1/assignments?page=2&per_page=100>; rel="next", <%s/api/v1/courses/1/assignments?page=1&per_page=100>; rel="first"`, srvURL, srvURL))
			_, _ = fmt.Fprint(w, `[{"id":1,"name":"A1","html_url":"https://x/1"}]`)
		case "2":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses/1/assignments?page=1&per_page=100>; rel="first"`, srvURL))
			_, _ = fmt.Fprint(w, `[{"id":2,"name":"A2"}]`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	srvURL = srv.URL

	got, err := c.Assignments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "https://x/1", got[0].HTMLURL)
	assert.Equal(t, "A2", got[1].Name)
}

func TestSubmissionsDecodesComments(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/courses/1/assignments/7/submissions", r.URL.Path)
		assert.ElementsMatch(t, []string{"submission_comments", "user"}, r.URL.Query()["include[]"])
		_, _ = fmt.Fprint(w, `[{"user_id":3,"submission_comments":[
			{"id":99,"author_id":120,"author_name":"Student A","created_at":"2026-02-01T10:00:00Z","comment":"hi"},
			{"author_id":121,"comment":null}
		]},{"user_id":null}]`)
	}))

	subs, err := c.Submissions(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Len(t, subs[0].Comments, 2)

	first := subs[0].Comments[0]
	require.NotNil(t, first.ID)
	assert.Equal(t, int64(99), *first.ID)
	assert.Equal(t, "Student A", first.AuthorName)
	require.NotNil(t, first.Comment)
	assert.Equal(t, "hi", *first.Comment)

	second := subs[0].Comments[1]
	assert.Nil(t, second.ID)
	assert.Nil(t, second.Comment)
	assert.Nil(t, second.CreatedAt)
	assert.Nil(t, subs[1].UserID)
}

func TestNon2xxReturnsAPIError(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = fmt.Fprint(w, `{"errors":[{"message":"unauthorized"}]}`)
	}))

	_, err := c.Submissions(context.Background(), 1, 7)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "unauthorized")
	assert.NotContains(t, apiErr.URL, "per_page")
}

func TestForeignPaginationHostRejected(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<https://evil.example/api/v1/courses/1/assignments?page=2>; rel="next"`)
		_, _ = fmt.Fprint(w, `[]`)
	}))

	_, err := c.Assignments(context.Background(), 1)
	assert.ErrorIs(t, err, ErrForeignHost)
}

func TestParseNextLink(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, header, want string
	}{
		{name: "empty", header: "", want: ""},
		{name: "next only", header: `<https://c/a?page=2>; rel="next"`, want: "https://c/a?page=2"},
		{name: "next later", header: `<https://c/a?page=1>; rel="current",<https://c/a?page=3>; rel="next"`, want: "https://c/a?page=3"},
		{name: "no next", header: `<https://c/a?page=1>; rel="first", <https://c/a?page=4>; rel="last"`, want: ""},
		{name: "garbage", header: `nonsense; rel="next"`, want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseNextLink(tt.header), tt.name)
	}
}
