package pipeline

import (
	"sort"
	"strings"

	"sysstats/internal/config"
)

// BuildTags copies tag specs into a map; later duplicate keys overwrite earlier ones.
// Params: specs ordered tag definitions.
// Returns: tag map (never nil).
func BuildTags(specs []config.TagSpec) map[string]string {
	tags := make(map[string]string, len(specs))
	for _, spec := range specs {
		tags[spec.Key] = spec.Value
	}
	return tags
}

// pointTags layers global tags, the host tag, and point tags in that order.
// Params: global shared tag settings; specs point tag definitions.
// Returns: merged tag map.
func pointTags(global config.GlobalConfig, specs []config.TagSpec) map[string]string {
	tags := make(map[string]string, len(global.Tags)+len(specs)+1)
	for key, value := range global.Tags {
		tags[key] = value
	}
	if global.HostTag != "" {
		tags[global.HostTag] = global.Host
	}
	for key, value := range BuildTags(specs) {
		tags[key] = value
	}
	return tags
}

// formatTags renders tags as sorted key=value pairs for logs.
// Params: tags map.
// Returns: comma-separated pairs.
func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for idx, key := range keys {
		if idx > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(tags[key])
	}
	return builder.String()
}
