// Package collector walks a course's assignments, submissions and comments
// and turns comments written by known group members into candidate events.
package collector

import (
	"context"
	"fmt"
	"sort"

	"commentbot/internal/canvas"
	"commentbot/internal/groups"
	logx "commentbot/pkg/logx"
)

// Source is the read side of the course platform.
type Source interface {
	Assignments(ctx context.Context, courseID int64) ([]canvas.Assignment, error)
	Submissions(ctx context.Context, courseID, assignmentID int64) ([]canvas.Submission, error)
}

// Event is a qualifying comment observed in one collection pass.
// Optional fields are nil when the platform omitted them.
type Event struct {
	CourseID         int64
	CourseName       string
	AssignmentID     *int64
	AssignmentName   string
	AssignmentURL    string
	SubmissionUserID *int64
	AuthorID         int64
	AuthorName       string
	GroupName        string
	CreatedAt        *string
	Text             string
	Comment          canvas.Comment
}

// CreatedAtOr returns the creation timestamp, or def when absent.
func (e Event) CreatedAtOr(def string) string {
	if e.CreatedAt == nil || *e.CreatedAt == "" {
		return def
	}
	return *e.CreatedAt
}

// Collect gathers candidate events for a course, sorted ascending by
// creation time (events without one first).
//
// A failure listing assignments aborts collection. A failure fetching one
// assignment's submissions is logged and that assignment is skipped.
func Collect(ctx context.Context, src Source, course canvas.Course, members groups.Map, log logx.Logger) ([]Event, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	courseName := course.Name
	if courseName == "" {
		courseName = "Unknown course"
	}

	assignments, err := src.Assignments(ctx, course.ID)
	if err != nil {
		return nil, fmt.Errorf("list assignments for course %d: %w", course.ID, err)
	}

	var events []Event
	for _, a := range assignments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		assignmentID := a.ID
		name := a.Name
		if name == "" {
			name = fmt.Sprintf("Assignment %d", a.ID)
		}

		subs, err := src.Submissions(ctx, course.ID, a.ID)
		if err != nil {
			log.Warn("failed to fetch submissions; skipping assignment",
				logx.Int64("assignment_id", a.ID),
				logx.String("assignment", name),
				logx.Err(err),
			)
			continue
		}

		for _, sub := range subs {
			for _, c := range sub.Comments {
				if c.AuthorID == nil {
					continue
				}
				group, ok := members.Lookup(*c.AuthorID)
				if !ok {
					continue
				}
				if group == "" {
					group = groups.Unassigned
				}
				authorName := c.AuthorName
				if authorName == "" {
					authorName = fmt.Sprintf("User %d", *c.AuthorID)
				}
				text := ""
				if c.Comment != nil {
					text = *c.Comment
				}

				events = append(events, Event{
					CourseID:         course.ID,
					CourseName:       courseName,
					AssignmentID:     &assignmentID,
					AssignmentName:   name,
					AssignmentURL:    a.HTMLURL,
					SubmissionUserID: sub.UserID,
					AuthorID:         *c.AuthorID,
					AuthorName:       authorName,
					GroupName:        group,
					CreatedAt:        c.CreatedAt,
					Text:             text,
					Comment:          c,
				})
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAtOr("") < events[j].CreatedAtOr("")
	})

	log.Debug("collected candidate events",
		logx.Int("assignments", len(assignments)),
		logx.Int("events", len(events)),
	)
	return events, nil
}
