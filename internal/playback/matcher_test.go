package playback

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/bose-hub-go/internal/speaker"
)

type presetSpec struct {
	key      string
	account  string
	location string
}

func buildTable(specs ...presetSpec) speaker.PresetTable {
	presets := make(map[string]speaker.Preset, len(specs))
	for _, spec := range specs {
		presets[spec.key] = speaker.Preset{
			Actions: []speaker.PresetAction{{
				Payload: speaker.PresetPayload{
					ContentItem: speaker.ContentItem{
						SourceAccount: spec.account,
						Location:      spec.location,
					},
				},
			}},
		}
	}
	return speaker.NewPresetTable(presets)
}

func snapshot(account, location string) speaker.NowPlaying {
	return speaker.NowPlaying{
		Container: &speaker.NowPlayingContainer{
			ContentItem: &speaker.ContentItem{SourceAccount: account, Location: location},
		},
		State: &speaker.NowPlayingState{Status: speaker.PlayingStatus},
	}
}

func TestMatchPresetLocationBreaksTie(t *testing.T) {
	table := buildTable(
		presetSpec{key: "1", account: "spotify:user1"},
		presetSpec{key: "2", account: "spotify:user1", location: "playlistB"},
	)

	require.Equal(t, 2, MatchPreset(snapshot("spotify:user1", "playlistB"), table))
}

func TestMatchPresetFallsBackToFirstAccountMatch(t *testing.T) {
	table := buildTable(
		presetSpec{key: "1", account: "spotify:user1"},
		presetSpec{key: "2", account: "spotify:user1", location: "playlistB"},
	)

	require.Equal(t, 1, MatchPreset(snapshot("spotify:user1", "playlistC"), table))
}

func TestMatchPresetNoAccountMatch(t *testing.T) {
	table := buildTable(
		presetSpec{key: "1", account: "spotify:user1", location: "a"},
		presetSpec{key: "2", account: "tunein", location: "b"},
	)

	require.Equal(t, NoPreset, MatchPreset(snapshot("amazon:user9", "a"), table))
}

func TestMatchPresetSingleAccountMatchIgnoresLocation(t *testing.T) {
	table := buildTable(
		presetSpec{key: "1", account: "spotify:user1", location: "playlistA"},
		presetSpec{key: "4", account: "tunein", location: "station"},
	)

	for _, location := range []string{"playlistA", "other", ""} {
		require.Equal(t, 1, MatchPreset(snapshot("spotify:user1", location), table), location)
	}
}

func TestMatchPresetPrefersFirstLocationMatchInTableOrder(t *testing.T) {
	table := buildTable(
		presetSpec{key: "5", account: "acct", location: "loc"},
		presetSpec{key: "2", account: "acct", location: "loc"},
		presetSpec{key: "3", account: "acct", location: "other"},
	)

	require.Equal(t, 2, MatchPreset(snapshot("acct", "loc"), table))
}

func TestMatchPresetEmptyInputs(t *testing.T) {
	table := buildTable(presetSpec{key: "1", account: "", location: ""})

	require.Equal(t, NoPreset, MatchPreset(speaker.NowPlaying{}, table))
	require.Equal(t, NoPreset, MatchPreset(snapshot("", ""), table))
	require.Equal(t, NoPreset, MatchPreset(snapshot("acct", "loc"), speaker.PresetTable{}))
}

func TestMatchPresetSkipsPresetsWithoutActions(t *testing.T) {
	table := speaker.NewPresetTable(map[string]speaker.Preset{
		"1": {},
		"2": {Actions: []speaker.PresetAction{{Payload: speaker.PresetPayload{
			ContentItem: speaker.ContentItem{SourceAccount: "acct"},
		}}}},
	})

	require.Equal(t, 2, MatchPreset(snapshot("acct", "x"), table))
}

func TestMatchPresetIsDeterministic(t *testing.T) {
	specs := make([]presetSpec, 0, 6)
	for i := 1; i <= 6; i++ {
		specs = append(specs, presetSpec{key: fmt.Sprint(i), account: "shared", location: fmt.Sprintf("loc%d", i%3)})
	}

	for i := 0; i < 50; i++ {
		// Map iteration order changes between builds; the result must not.
		table := buildTable(specs...)
		require.Equal(t, 3, MatchPreset(snapshot("shared", "loc0"), table))
		require.Equal(t, 1, MatchPreset(snapshot("shared", "missing"), table))
	}
}
