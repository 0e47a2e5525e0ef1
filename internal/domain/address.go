package domain

import (
	"regexp"
	"strings"
)

// dispositionRemark matches parenthesised handling remarks appended to dispatch
// addresses, e.g. "XX路100号(居民处置)".
var dispositionRemark = regexp.MustCompile(`\s*[(（](误报|到场未处置|居民处置|其他社会力量处置|燃烧物质燃尽|消防处置|祭扫|驻防车出动|微站处置|专职队处置|单位自处|经核实无需消防处置|自动喷淋装置作用|燃烧物燃尽|车主处置|物业处置|祭祀|EB|九小场所|燃烧物质燃烬|可燃物质燃尽)[)）]\s*`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// falseAlarmMarker flags addresses of incidents confirmed as false alarms.
const falseAlarmMarker = "误报"

// CleanAddress strips disposition remarks and collapses whitespace.
func CleanAddress(addr string) string {
	cleaned := dispositionRemark.ReplaceAllString(addr, "")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(cleaned, " "))
}

// IsFalseAlarm reports whether the raw address marks the incident as a false alarm.
func IsFalseAlarm(addr string) bool {
	return strings.Contains(addr, falseAlarmMarker)
}

// NormalizeAddress is the geocode cache key: cleaned, whitespace-free, lower-cased.
func NormalizeAddress(addr string) string {
	return strings.ToLower(whitespaceRun.ReplaceAllString(CleanAddress(addr), ""))
}
