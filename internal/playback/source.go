package playback

import "strings"

// SourceCode is the compact integer form of a playback source family.
type SourceCode int

// SourceInvalid doubles as "unknown": any display name not in the table maps to it.
const (
	SourceInvalid           SourceCode = 0
	SourceAVSSIPSource      SourceCode = 1
	SourceAirPlay           SourceCode = 2
	SourceChromecastBuiltIn SourceCode = 3
	SourceGVA               SourceCode = 4
	SourceSpotify           SourceCode = 5
	SourceGrouping          SourceCode = 6
	SourceAlexa             SourceCode = 7
	SourceQPlay             SourceCode = 8
	SourceUPnP              SourceCode = 9
	SourceProduct           SourceCode = 10
	SourceSetup             SourceCode = 11
	SourceBluetooth         SourceCode = 12
	SourceTuneIn            SourceCode = 13
)

var sourceCodes = map[string]SourceCode{
	"INVALID_SOURCE":    SourceInvalid,
	"AVSSIPSOURCE":      SourceAVSSIPSource,
	"AIRPLAY":           SourceAirPlay,
	"CHROMECASTBUILTIN": SourceChromecastBuiltIn,
	"GVA":               SourceGVA,
	"SPOTIFY":           SourceSpotify,
	"GROUPING":          SourceGrouping,
	"ALEXA":             SourceAlexa,
	"QPLAY":             SourceQPlay,
	"UPNP":              SourceUPnP,
	"PRODUCT":           SourceProduct,
	"SETUP":             SourceSetup,
	"BLUETOOTH":         SourceBluetooth,
	"TUNEIN":            SourceTuneIn,
}

// SourceCodeFor maps a display name to its code, case-insensitively.
func SourceCodeFor(displayName string) SourceCode {
	code, ok := sourceCodes[strings.ToUpper(strings.TrimSpace(displayName))]
	if !ok {
		return SourceInvalid
	}
	return code
}

// SourceNames returns the enumeration as name to code.
func SourceNames() map[string]int {
	names := make(map[string]int, len(sourceCodes))
	for name, code := range sourceCodes {
		names[name] = int(code)
	}
	return names
}
