// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"sort"
	"strings"

	"github.com/reconctl/reconctl/pkg/plugin"
)

// mergeKey identifies an entry for the canonical merge rule.
type mergeKey struct {
	port        string
	protocol    string
	serviceName string
}

// CanonicalMerge implements the merge rule of SPEC_FULL.md §4.4: entries
// keyed by (port, protocol, service_name) are merged when every important
// field either matches exactly (post-strip) or both are sentinels; the
// merged source becomes the sorted, plus-joined union of source tokens.
// Entries whose important fields disagree are kept as distinct
// observations under an extended key that includes the source label.
// Plugins that need to coalesce artifacts (e.g. an IP-based and a
// domain-based invocation of the same tool) implement Merger by calling
// this helper.
func CanonicalMerge(lists [][]plugin.Finding, importantFields []string) []plugin.Finding {
	type bucket struct {
		entry   plugin.Finding
		sources map[string]bool
	}

	order := []mergeKey{}
	buckets := map[mergeKey]*bucket{}
	extended := []plugin.Finding{}

	for _, list := range lists {
		for _, entry := range list {
			key := mergeKey{
				port:        entry.String("port"),
				protocol:    entry.String("protocol"),
				serviceName: entry.String("service_name"),
			}

			existing, ok := buckets[key]
			if !ok {
				clone := cloneFinding(entry)
				b := &bucket{entry: clone, sources: sourceSet(entry)}
				buckets[key] = b
				order = append(order, key)
				continue
			}

			if agrees(existing.entry, entry, importantFields) {
				for s := range sourceSet(entry) {
					existing.sources[s] = true
				}
				continue
			}

			// Disagreement: preserved as a distinct observation.
			extended = append(extended, entry)
		}
	}

	out := make([]plugin.Finding, 0, len(order)+len(extended))
	for _, key := range order {
		b := buckets[key]
		b.entry["source"] = joinSources(b.sources)
		out = append(out, b.entry)
	}
	out = append(out, extended...)

	return out
}

func agrees(a, b plugin.Finding, importantFields []string) bool {
	for _, f := range importantFields {
		av := strings.TrimSpace(a.String(f))
		bv := strings.TrimSpace(b.String(f))
		if av == bv {
			continue
		}
		if plugin.Sentinels[av] && plugin.Sentinels[bv] {
			continue
		}
		return false
	}
	return true
}

func sourceSet(entry plugin.Finding) map[string]bool {
	set := map[string]bool{}
	if s := entry.String("source"); s != "" {
		for _, tok := range strings.Split(s, "+") {
			set[tok] = true
		}
	}
	return set
}

func joinSources(set map[string]bool) string {
	tokens := make([]string, 0, len(set))
	for s := range set {
		tokens = append(tokens, s)
	}
	sort.Strings(tokens)
	return strings.Join(tokens, "+")
}

func cloneFinding(entry plugin.Finding) plugin.Finding {
	out := make(plugin.Finding, len(entry))
	for k, v := range entry {
		out[k] = v
	}
	return out
}
