package playback

import "github.com/strefethen/bose-hub-go/internal/speaker"

// NoPreset is returned when nothing in the table matches the playing content.
const NoPreset = 0

type presetCandidate struct {
	number int
	item   speaker.ContentItem
}

// MatchPreset resolves which preset, if any, is currently playing.
//
// Presets are matched on the content item's sourceAccount. A single account
// match wins outright. When several presets share the account, the first one
// whose location also matches exactly wins; failing that the first account
// match in table order is returned. That fallback can be wrong when many
// presets share one account and none matches the location.
func MatchPreset(nowPlaying speaker.NowPlaying, table speaker.PresetTable) int {
	playing := nowPlaying.ContentItem()
	if playing.SourceAccount == "" {
		return NoPreset
	}

	candidates := make([]presetCandidate, 0, 2)
	for _, entry := range table.Entries() {
		item, ok := entry.Preset.ContentItem()
		if !ok {
			continue
		}
		if item.SourceAccount == playing.SourceAccount {
			candidates = append(candidates, presetCandidate{number: entry.Number, item: item})
		}
	}

	switch len(candidates) {
	case 0:
		return NoPreset
	case 1:
		return candidates[0].number
	}

	for _, candidate := range candidates {
		if candidate.item.Location == playing.Location {
			return candidate.number
		}
	}
	return candidates[0].number
}
