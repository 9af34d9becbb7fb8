package notify

import (
	"fmt"
	"strings"

	"seohub/internal/domain"
)

// Task types with a content-specific completed-task template. Anything else
// falls back to the generic template.
var contentSubjects = map[string]string{
	"page":     "Your new page is live",
	"blog":     "Your new blog post is live",
	"gbp_post": "Your new Google Business Profile post is live",
}

// TaskCompletedEmail builds the "task completed" notification for one recorded
// deliverable.
func TaskCompletedEmail(to, from string, req domain.Request, task domain.CompletedTask) EmailJob {
	subject, ok := contentSubjects[strings.ToLower(strings.TrimSpace(task.Type))]
	if !ok {
		subject = fmt.Sprintf("SEO task completed: %s", task.Title)
	}
	link := ""
	if task.URL != nil {
		link = *task.URL
	}
	text := fmt.Sprintf("Good news! %q has been completed for request %s.", task.Title, req.Title)
	if link != "" {
		text += "\nView it here: " + link
	}
	html := fmt.Sprintf("<p>Good news! <strong>%s</strong> has been completed for request <strong>%s</strong>.</p>", task.Title, req.Title)
	if link != "" {
		html += fmt.Sprintf(`<p><a href="%s">View the completed work</a></p>`, link)
	}
	return EmailJob{
		UserID:  req.UserID,
		Kind:    KindTaskCompleted,
		To:      to,
		From:    from,
		Subject: subject,
		HTML:    html,
		Text:    text,
	}
}

// StatusChangedEmail builds the notification for a request status transition.
func StatusChangedEmail(to, from string, req domain.Request, oldStatus, newStatus string) EmailJob {
	subject := fmt.Sprintf("Request %q is now %s", req.Title, newStatus)
	text := fmt.Sprintf("Your request %q changed status: %s -> %s.", req.Title, oldStatus, newStatus)
	html := fmt.Sprintf("<p>Your request <strong>%s</strong> changed status: %s &rarr; <strong>%s</strong>.</p>",
		req.Title, oldStatus, newStatus)
	return EmailJob{
		UserID:  req.UserID,
		Kind:    KindStatusChanged,
		To:      to,
		From:    from,
		Subject: subject,
		HTML:    html,
		Text:    text,
	}
}
