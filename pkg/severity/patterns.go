// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package severity

import "regexp"

// builtinPatterns holds the ordered regex dictionaries per level, kept as
// data adjacent to the classifier so it is easy to extend. Grounded on
// _examples/original_source/core/severity.py's SEVERITY_KEYWORDS table.
var builtinPatterns = map[Level][]*regexp.Regexp{
	Critical: compileAll(
		`\bcve-\d{4}-\d{4,7}\b.{0,32}\b(9\.\d|10\.0|critical|exploit|remote code execution|rce|unauthenticated)\b`,
		`\bexploit\b`,
		`\bremote code execution\b`,
		`\bprivilege escalation\b`,
		`\boutdated\b.{0,32}\bexploit\b`,
	),
	High: compileAll(
		`\bcve-\d{4}-\d{4,7}\b`,
		`\bexploit\b`,
		`\banonymous\b`,
		`\bbackdoor\b`,
		`\bdefault credentials\b`,
		`\bunauthenticated\b`,
		`\bdeserialization\b`,
		`\bunsafe\b`,
		`\boutdated\b`,
		`\bpassword reuse\b`,
	),
	Medium: compileAll(
		`\bvulnerab(le|ility|ilities)\b`,
		`\binsecure\b`,
		`\bopen\b`,
		`\bdeprecated\b`,
		`\bmisconfiguration\b`,
	),
	Low: compileAll(
		`\bfiltered\b`,
		`\bopen\|filtered\b`,
		`\bno-response\b`,
		`\btimeout\b`,
		`\binfo\b`,
		`\bpotential\b`,
		`\bwaf\b`,
		`\bfirewall\b`,
	),
	Info: nil,
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile("(?i)"+p))
	}
	return out
}
