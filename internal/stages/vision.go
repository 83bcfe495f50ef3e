package stages

import (
	"context"
	"regexp"
	"strings"

	"weave/internal/history"
	"weave/internal/pipeline"
	"weave/internal/urlcache"
	"weave/internal/vision"
)

var urlPattern = regexp.MustCompile(`(?:[^\[]|^)(https?://\S+)`)

// extractURLs finds URLs not preceded by "[" (spec §4.7 "via regex not
// preceded by [", so already-enriched URLs like "[http://x <desc>]" are
// skipped), grounded on
// original_source/meep/src/graphs/processes/vision.py's
// `re.findall(r'(?<!\[)https?://\S+', msg.content)`.
func extractURLs(content string) []string {
	matches := urlPattern.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Vision implements the "vision" stage contract (spec §4.7): extracts URLs
// from the last contiguous run of human messages in the current channel,
// looks each up in the persistent URL cache, processes cache misses
// through the enrichment chain, writes results back to the cache, and
// replaces URLs in message content via positional message_updates.
func Vision(enricher vision.Enricher, cache *urlcache.Cache) pipeline.Stage {
	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		channel := s.History.CurrentChannelOrNil()
		if channel == nil {
			return pipeline.Command{}, nil
		}

		extracted := map[int][]string{}
		for i := len(channel.Messages) - 1; i >= 0; i-- {
			hm, ok := channel.Messages[i].(*history.HumanMessage)
			if !ok {
				break
			}
			if urls := extractURLs(hm.Content); len(urls) > 0 {
				extracted[i] = urls
			}
		}
		if len(extracted) == 0 {
			return pipeline.Command{}, nil
		}

		replacements := map[string]string{}
		var misses []string
		for _, urls := range extracted {
			for _, u := range urls {
				if _, ok := replacements[u]; ok {
					continue
				}
				if cached, ok := cache.Get(u); ok {
					replacements[u] = cached
				} else {
					misses = append(misses, u)
				}
			}
		}

		for _, u := range misses {
			enriched, err := enricher.Enrich(ctx, u)
			if err != nil {
				continue // External I/O failure: skip, leave URL as-is (spec §7).
			}
			replacements[u] = enriched
			_ = cache.Set(u, enriched)
		}

		diff := &history.ChannelDiff{MessageUpdates: map[int]history.Message{}}
		for idx := range extracted {
			msg := channel.Messages[idx].Clone()
			hm := msg.(*history.HumanMessage)
			for u, repl := range replacements {
				if strings.Contains(hm.Content, u) {
					hm.Content = strings.ReplaceAll(hm.Content, u, repl)
				}
			}
			diff.MessageUpdates[idx] = hm
		}

		updates := history.NewInternalUpdates()
		updates.ChannelUpdates[channel.ID] = diff

		return pipeline.Command{Update: pipeline.StateUpdate{InternalUpdates: updates}}, nil
	}
}
