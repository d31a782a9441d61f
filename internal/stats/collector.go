package stats

import (
	"sort"
	"strings"
	"time"

	"piimask/internal/audit"
)

type Stats struct {
	Status        string              `json:"status"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Addr          string              `json:"addr,omitempty"`
	Requests      RequestStats        `json:"requests"`
	MaskedItems   MaskedItemsStats    `json:"masked_items"`
	Dropped       audit.DroppedCounts `json:"dropped"`
	Categories    map[string]int      `json:"categories"`
	NEROutcomes   map[string]int      `json:"ner_outcomes"`
	Latency       LatencyStats        `json:"latency"`
	TopTypes      []TypeStats         `json:"top_types"`
	Recent        []RecentRequest     `json:"recent,omitempty"`
}

type RequestStats struct {
	Total       int            `json:"total"`
	Failed      int            `json:"failed"`
	ByEndpoint  map[string]int `json:"by_endpoint"`
	PerMinute   float64        `json:"per_minute"`
	Last5Minute []int          `json:"last_5_minute"`
}

type MaskedItemsStats struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}

type LatencyStats struct {
	DetectMs    float64 `json:"detect_ms"`
	ReconcileMs float64 `json:"reconcile_ms"`
	MaskMs      float64 `json:"mask_ms"`
	ClassifyMs  float64 `json:"classify_ms"`
	TotalMs     float64 `json:"total_ms"`
}

type TypeStats struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type RecentRequest struct {
	Timestamp  string         `json:"timestamp"`
	RequestID  string         `json:"request_id"`
	Endpoint   string         `json:"endpoint"`
	StatusCode int            `json:"status_code"`
	MaskedBy   map[string]int `json:"masked_by"`
	Masked     int            `json:"masked_count"`
	Category   string         `json:"category,omitempty"`
	TotalMs    float64        `json:"total_ms"`
}

type Options struct {
	Now     time.Time
	Status  string
	Uptime  time.Duration
	Addr    string
	TopN    int
	RecentN int
}

type mean struct {
	sum   float64
	count int
}

func (m *mean) add(v float64) {
	if v > 0 {
		m.sum += v
		m.count++
	}
}

func (m mean) value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

func CollectFromEntries(entries []audit.Entry, opts Options) Stats {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = 5
	}
	recentN := opts.RecentN
	if recentN <= 0 {
		recentN = 20
	}

	out := Stats{
		Status:        opts.Status,
		UptimeSeconds: int64(opts.Uptime.Seconds()),
		Addr:          opts.Addr,
		MaskedItems:   MaskedItemsStats{ByType: map[string]int{}},
		Requests:      RequestStats{ByEndpoint: map[string]int{}, Last5Minute: make([]int, 5)},
		Categories:    map[string]int{},
		NEROutcomes:   map[string]int{},
	}
	if out.Status == "" {
		out.Status = "stopped"
	}

	var detect, reconcile, mask, classify, total mean
	recent := make([]RecentRequest, 0, len(entries))

	for _, e := range entries {
		out.Requests.Total++
		if e.StatusCode >= 400 {
			out.Requests.Failed++
		}
		if ep := strings.TrimSpace(e.Endpoint); ep != "" {
			out.Requests.ByEndpoint[ep]++
		}
		if e.Category != "" {
			out.Categories[e.Category]++
		}
		if e.NEROutcome != "" {
			out.NEROutcomes[e.NEROutcome]++
		}
		out.Dropped.Invalid += e.Dropped.Invalid
		out.Dropped.Overlap += e.Dropped.Overlap

		maskedBy := map[string]int{}
		for _, item := range e.MaskedItems {
			t := strings.TrimSpace(item.Type)
			if t == "" {
				continue
			}
			maskedBy[t]++
			out.MaskedItems.ByType[t]++
			out.MaskedItems.Total++
		}

		if e.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
				delta := now.Sub(ts)
				if delta >= 0 && delta < 5*time.Minute {
					idx := int(delta / time.Minute)
					out.Requests.Last5Minute[4-idx]++
				}
			}
		}

		detect.add(e.DetectLatencyMs)
		reconcile.add(e.ReconcileLatencyMs)
		mask.add(e.MaskLatencyMs)
		classify.add(e.ClassifyLatencyMs)
		total.add(e.TotalLatencyMs)

		recent = append(recent, RecentRequest{
			Timestamp:  e.Timestamp,
			RequestID:  e.RequestID,
			Endpoint:   e.Endpoint,
			StatusCode: e.StatusCode,
			MaskedBy:   maskedBy,
			Masked:     len(e.MaskedItems),
			Category:   e.Category,
			TotalMs:    e.TotalLatencyMs,
		})
	}

	sum5 := 0
	for _, n := range out.Requests.Last5Minute {
		sum5 += n
	}
	out.Requests.PerMinute = float64(sum5) / 5

	out.Latency = LatencyStats{
		DetectMs:    detect.value(),
		ReconcileMs: reconcile.value(),
		MaskMs:      mask.value(),
		ClassifyMs:  classify.value(),
		TotalMs:     total.value(),
	}

	for t, c := range out.MaskedItems.ByType {
		out.TopTypes = append(out.TopTypes, TypeStats{Type: t, Count: c})
	}
	sort.Slice(out.TopTypes, func(i, j int) bool {
		if out.TopTypes[i].Count == out.TopTypes[j].Count {
			return out.TopTypes[i].Type < out.TopTypes[j].Type
		}
		return out.TopTypes[i].Count > out.TopTypes[j].Count
	})
	if len(out.TopTypes) > topN {
		out.TopTypes = out.TopTypes[:topN]
	}

	for i := len(recent) - 1; i >= 0 && len(out.Recent) < recentN; i-- {
		out.Recent = append(out.Recent, recent[i])
	}
	return out
}
