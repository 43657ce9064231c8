package resolver

import (
	"os"

	"tryffel.net/go/airwave/internal/model"
)

// Composite routes Resolve calls to Local when input names an existing
// regular file, and to Remote otherwise; the file's extension is not
// checked. FetchArtifact calls are routed by the descriptor's Kind.
// It lets the core offer one Resolver collaborator to the queue/ingress
// layers while supporting both local-file and remote-tool ingestion.
type Composite struct {
	Local       Resolver
	Remote      Resolver
	IsLocalPath func(input string) bool
}

// NewComposite returns a Composite using os.Stat to decide whether input
// is a local path.
func NewComposite(local, remote Resolver) *Composite {
	return &Composite{
		Local:  local,
		Remote: remote,
		IsLocalPath: func(input string) bool {
			info, err := os.Stat(input)
			return err == nil && !info.IsDir()
		},
	}
}

func (c *Composite) pick(input string) Resolver {
	if c.IsLocalPath != nil && c.IsLocalPath(input) {
		return c.Local
	}
	return c.Remote
}

func (c *Composite) Resolve(input string, yield Iterator) (model.TrackDescriptor, error) {
	return c.pick(input).Resolve(input, yield)
}

func (c *Composite) FetchArtifact(descriptor model.TrackDescriptor, sink ProgressSink) (string, error) {
	if descriptor.Kind == model.KindLocalFile {
		return c.Local.FetchArtifact(descriptor, sink)
	}
	return c.Remote.FetchArtifact(descriptor, sink)
}

var _ Resolver = (*Composite)(nil)
