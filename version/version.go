package version

import "fmt"

// Replaced at build time with -ldflags "-X aud_miner/version.GitHash=...".
var (
	Version = "0.6"
	GitHash = "dev"
	BuildTS = ""
	Model   = "Fortune"
	Chip    = "AUD1123"
	Agent   = "aud_miner/" + Version
)

type VersionConfig struct {
	Version string
	GitHash string
	BuildTS string
	Model   string
	Chip    string
	Agent   string
}

func GetVersionConfig() VersionConfig {
	return VersionConfig{
		Version: Version,
		GitHash: GitHash,
		BuildTS: BuildTS,
		Model:   Model,
		Chip:    Chip,
		Agent:   Agent,
	}
}

// Banner is the one-line startup identification.
func Banner() string {
	v := GetVersionConfig()
	s := fmt.Sprintf("%s %s (%s) for %s/%s", "aud_miner", v.Version, v.GitHash, v.Model, v.Chip)
	if v.BuildTS != "" {
		s += ", built " + v.BuildTS
	}
	return s
}
