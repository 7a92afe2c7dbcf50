package version

import "fmt"

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version = LNCoreSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// LNCoreSemVer is the current version of the light node.
	// It's the Semantic Version of the software.
	LNCoreSemVer = "0.3.0"
)

// Protocol is used for implementation agnostic versioning.
type Protocol uint64

var (
	// WireProtocol versions the peer request and gossip encodings.
	WireProtocol Protocol = 1
)

// Info describes the running binary.
type Info struct {
	Version      string   `json:"version"`
	GitCommit    string   `json:"git_commit,omitempty"`
	WireProtocol Protocol `json:"wire_protocol"`
}

// Get returns the version of the running binary.
func Get() Info {
	return Info{Version: Version, GitCommit: GitCommit, WireProtocol: WireProtocol}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (wire protocol %d)", i.Version, i.WireProtocol)
}
