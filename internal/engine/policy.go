package engine

import (
	"strings"

	"seohub/internal/config"
	"seohub/internal/domain"
)

// UsageKeyForTaskType maps a raw vendor task-type string to the usage counter
// it feeds. Unknown types return ok=false: the completed task is still
// recorded, but no counter moves.
func UsageKeyForTaskType(rawType string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(rawType)) {
	case "page":
		return domain.UsagePages, true
	case "blog":
		return domain.UsageBlogs, true
	case "gbp_post":
		return domain.UsageGBPPosts, true
	case "improvement", "maintenance", "seochange":
		return domain.UsageImprovements, true
	}
	return "", false
}

// ShouldComplete decides whether a request has earned the completed status,
// evaluated against counters that already include the current event's
// increment.
//
// A request without a package is a single-deliverable order: any completion
// event completes it. An unknown package never auto-completes. Improvements
// are tracked but deliberately not part of the gate; see DESIGN.md.
func ShouldComplete(req domain.Request, cfg *config.Config) bool {
	if req.PackageType == nil || strings.TrimSpace(*req.PackageType) == "" {
		return true
	}
	quota, ok := cfg.RequirementsFor(*req.PackageType)
	if !ok {
		return false
	}
	return req.PagesCompleted >= quota.Pages &&
		req.BlogsCompleted >= quota.Blogs &&
		req.GBPPostsCompleted >= quota.GBPPosts
}
