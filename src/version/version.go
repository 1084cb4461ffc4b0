package version

// Base is the release number.
const Base = "0.1.0"

// Flag marks development builds, e.g. "rc1". It stays empty on release
// branches.
const Flag = ""

var (
	// Version is Base followed by the flag and the short commit, when set.
	Version = Base

	// GitCommit is set with --ldflags "-X github.com/mosaicnetworks/memorychain/src/version.GitCommit=$(git rev-parse HEAD)"
	GitCommit string
)

func init() {
	if Flag != "" {
		Version += "-" + Flag
	}

	if len(GitCommit) >= 8 {
		Version += "-" + GitCommit[:8]
	}
}
