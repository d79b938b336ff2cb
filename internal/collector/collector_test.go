package collector

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commentbot/internal/canvas"
	"commentbot/internal/groups"
	logx "commentbot/pkg/logx"
)

func i64(v int64) *int64    { return &v }
func str(v string) *string { return &v }

type fakeSource struct {
	assignments    []canvas.Assignment
	assignmentsErr error
	submissions    map[int64][]canvas.Submission
	failing        map[int64]error
}

func (f *fakeSource) Assignments(ctx context.Context, courseID int64) ([]canvas.Assignment, error) {
	return f.assignments, f.assignmentsErr
}

func (f *fakeSource) Submissions(ctx context.Context, courseID, assignmentID int64) ([]canvas.Submission, error) {
	if err := f.failing[assignmentID]; err != nil {
		return nil, err
	}
	return f.submissions[assignmentID], nil
}

func TestCollectFiltersAndSorts(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		assignments: []canvas.Assignment{{ID: 1, Name: "Report", HTMLURL: "https://c/a/1"}, {ID: 2}},
		submissions: map[int64][]canvas.Submission{
			1: {{
				UserID: i64(3),
				Comments: []canvas.Comment{
					{ID: i64(10), AuthorID: i64(120), AuthorName: "Student A", CreatedAt: str("2026-02-02T10:00:00Z"), Comment: str("later")},
					{ID: i64(11), AuthorID: i64(500), AuthorName: "TA", CreatedAt: str("2026-02-01T10:00:00Z"), Comment: str("staff")},
					{ID: i64(12), AuthorID: nil, Comment: str("anonymous")},
				},
			}},
			2: {{
				UserID: i64(4),
				Comments: []canvas.Comment{
					{ID: i64(13), AuthorID: i64(121), CreatedAt: str("2026-02-01T09:00:00Z"), Comment: str("earlier")},
					{AuthorID: i64(121), Comment: nil},
				},
			}},
		},
	}
	members := groups.Map{"120": "Group A", "121": ""}

	events, err := Collect(context.Background(), src, canvas.Course{ID: 42, Name: "Algorithms"}, members, logx.Nop())
	require.NoError(t, err)
	require.Len(t, events, 3)

	// No timestamp sorts first.
	assert.Nil(t, events[0].CreatedAt)
	assert.Equal(t, "", events[0].Text)
	assert.Equal(t, "User 121", events[0].AuthorName)
	assert.Equal(t, groups.Unassigned, events[0].GroupName)
	assert.Equal(t, "Assignment 2", events[0].AssignmentName)

	assert.Equal(t, "earlier", events[1].Text)
	assert.Equal(t, "later", events[2].Text)

	last := events[2]
	assert.Equal(t, int64(42), last.CourseID)
	assert.Equal(t, "Algorithms", last.CourseName)
	require.NotNil(t, last.AssignmentID)
	assert.Equal(t, int64(1), *last.AssignmentID)
	assert.Equal(t, "https://c/a/1", last.AssignmentURL)
	assert.Equal(t, int64(3), *last.SubmissionUserID)
	assert.Equal(t, "Group A", last.GroupName)
	assert.Equal(t, int64(10), *last.Comment.ID)
}

func TestCollectSkipsFailingAssignment(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		assignments: []canvas.Assignment{{ID: 1, Name: "Broken"}, {ID: 2, Name: "Fine"}},
		submissions: map[int64][]canvas.Submission{
			2: {{UserID: i64(3), Comments: []canvas.Comment{{ID: i64(99), AuthorID: i64(120), Comment: str("ok")}}}},
		},
		failing: map[int64]error{1: errors.New("boom")},
	}
	var buf bytes.Buffer

	events, err := Collect(context.Background(), src, canvas.Course{ID: 1}, groups.Map{"120": "Group A"}, logx.NewWriter(&buf, "debug"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Fine", events[0].AssignmentName)
	assert.Equal(t, "Unknown course", events[0].CourseName)
	assert.Contains(t, buf.String(), "skipping assignment")
	assert.Contains(t, buf.String(), "boom")
}

func TestCollectAssignmentListFailureIsFatal(t *testing.T) {
	t.Parallel()
	src := &fakeSource{assignmentsErr: errors.New("forbidden")}
	_, err := Collect(context.Background(), src, canvas.Course{ID: 1}, groups.Map{}, logx.Nop())
	assert.ErrorContains(t, err, "forbidden")
}

func TestCollectSortIsStable(t *testing.T) {
	t.Parallel()
	ts := str("2026-02-01T10:00:00Z")
	src := &fakeSource{
		assignments: []canvas.Assignment{{ID: 1}},
		submissions: map[int64][]canvas.Submission{
			1: {{Comments: []canvas.Comment{
				{ID: i64(1), AuthorID: i64(120), CreatedAt: ts, Comment: str("first")},
				{ID: i64(2), AuthorID: i64(120), CreatedAt: ts, Comment: str("second")},
			}}},
		},
	}
	events, err := Collect(context.Background(), src, canvas.Course{ID: 1}, groups.Map{"120": "G"}, logx.Nop())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Text)
	assert.Equal(t, "second", events[1].Text)
}
