package delivery

import (
	"fmt"
	"strings"

	"commentbot/internal/collector"
)

// FormatText renders ev as the multi-line message body used by every sink.
func FormatText(ev collector.Event) string {
	lines := []string{
		"New Canvas student comment",
		fmt.Sprintf("Course: %s (ID: %d)", ev.CourseName, ev.CourseID),
		fmt.Sprintf("Assignment: %s (ID: %s)", ev.AssignmentName, optInt(ev.AssignmentID)),
		fmt.Sprintf("Author: %s (ID: %d)", ev.AuthorName, ev.AuthorID),
		"Group: " + ev.GroupName,
		"Created: " + ev.CreatedAtOr("unknown"),
		"Comment:",
	}
	if ev.Text == "" {
		lines = append(lines, "(empty)")
	} else {
		lines = append(lines, ev.Text)
	}
	if ev.AssignmentURL != "" {
		lines = append(lines, "Assignment link: "+ev.AssignmentURL)
	}
	return strings.Join(lines, "\n")
}

func optInt(v *int64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprint(*v)
}
