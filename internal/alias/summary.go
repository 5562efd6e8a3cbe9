package alias

import (
	"sort"
	"strings"
)

// Count is one bucket of a Summary.
type Count struct {
	Name  string
	Count int
}

// Summary groups items by inferred service and by label. It is for operator
// review only.
type Summary struct {
	Services []Count
	Labels   []Count
}

// Summarize buckets items and keeps at most limit entries per group
// (limit <= 0 keeps everything).
func Summarize(items []Item, limit int) Summary {
	services := make(map[string]int)
	labels := make(map[string]int)

	for _, it := range items {
		if svc := inferService(it.Address); svc != "" {
			services[svc]++
		}
		if lbl := mainLabel(it.Label); lbl != "" {
			labels[lbl]++
		}
	}

	return Summary{
		Services: topCounts(services, limit),
		Labels:   topCounts(labels, limit),
	}
}

// inferService guesses the service from the alias local part, e.g.
// "shop.amazon_12@icloud.com" yields "amazon_12".
func inferService(address string) string {
	at := strings.Index(address, "@")
	if at < 0 {
		return ""
	}
	local := address[:at]
	parts := strings.Split(local, ".")
	return parts[len(parts)-1]
}

// mainLabel strips the "(source)" suffix the page appends to labels.
func mainLabel(label string) string {
	if i := strings.Index(label, "("); i >= 0 {
		label = label[:i]
	}
	return strings.TrimSpace(label)
}

func topCounts(m map[string]int, limit int) []Count {
	out := make([]Count, 0, len(m))
	for name, n := range m {
		out = append(out, Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
