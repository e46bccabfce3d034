package playback

import "github.com/strefethen/bose-hub-go/internal/speaker"

// Status is the fixed-shape record served to polling clients.
type Status struct {
	PowerState   bool `json:"power_state"`
	Playback     int  `json:"playback"`
	Source       int  `json:"source"`
	PresetNumber int  `json:"preset_number"`
}

// Normalize folds raw power and now-playing data into a Status. It never
// fails: missing fields produce false/0.
//
// Source 0 means both INVALID_SOURCE and "display name not recognised".
func Normalize(power speaker.PowerState, nowPlaying speaker.NowPlaying, presets speaker.PresetTable) Status {
	status := Status{
		PowerState: power.On,
		Source:     int(SourceCodeFor(nowPlaying.SourceDisplayName())),
	}

	if nowPlaying.Status() == speaker.PlayingStatus {
		status.Playback = 1
		status.PresetNumber = MatchPreset(nowPlaying, presets)
	}
	return status
}
