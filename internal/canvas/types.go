package canvas

import (
	"fmt"
	"strings"
	"time"
)

// Config configures the Canvas REST client.
type Config struct {
	BaseURL string
	Token   string

	// Timeout bounds each HTTP call (one page). 0 means 30s.
	Timeout time.Duration
	// RatePerSec caps outgoing requests. 0 means 5.
	RatePerSec float64
	// PerPage is the page size requested from paginated endpoints. 0 means 100.
	PerPage int
}

type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Course struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Assignment struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

type Submission struct {
	UserID   *int64    `json:"user_id"`
	Comments []Comment `json:"submission_comments"`
}

// Comment is a submission comment as returned with include[]=submission_comments.
// Every field is optional upstream.
type Comment struct {
	ID         *int64  `json:"id"`
	AuthorID   *int64  `json:"author_id"`
	AuthorName string  `json:"author_name"`
	CreatedAt  *string `json:"created_at"`
	Comment    *string `json:"comment"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:297] + "..."
	}
	if body == "" {
		return fmt.Sprintf("canvas: %s %s: HTTP %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("canvas: %s %s: HTTP %d: %s", e.Method, e.URL, e.Status, body)
}
