package stage

import "strings"

// RunContext is the transient cross-stage accumulator of one execution
// pass. The code stage fills it; a later deploy stage in the same run reads
// it. It is never persisted: after a process restart or an approval
// suspension it is rebuilt only by re-running the stage that produced it,
// which terminal stage records prevent, so consumers must tolerate its
// absence.
type RunContext struct {
	HostURL   string
	RepoOwner string
	RepoName  string
	Branch    string
	Token     string
	BasePath  string
}

// Ready reports whether a deploy stage can use the relay path.
func (c *RunContext) Ready() bool {
	if c == nil {
		return false
	}
	return strings.TrimSpace(c.RepoOwner) != "" &&
		strings.TrimSpace(c.RepoName) != "" &&
		strings.TrimSpace(c.Branch) != ""
}
