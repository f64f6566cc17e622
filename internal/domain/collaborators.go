package domain

import (
	"context"
	"io"
)

// AuthProvider resolves the access token used for authenticated jobs
type AuthProvider interface {
	ResolveAccessToken() (string, bool)
}

// ConnectionType is the kind of network the device is attached to
type ConnectionType string

const (
	ConnectionWifi   ConnectionType = "wifi"
	ConnectionMobile ConnectionType = "mobile"
	ConnectionNone   ConnectionType = "none"
)

// ValidateConnectionType checks if a connection type is valid
func ValidateConnectionType(t ConnectionType) bool {
	return t == ConnectionWifi || t == ConnectionMobile || t == ConnectionNone
}

// Connectivity reports the current network state
type Connectivity interface {
	IsOnline() bool
	ConnectionType() ConnectionType
}

// Preferences exposes user settings consulted by the download gate
type Preferences interface {
	MobileDownloadsAllowed() bool
	SetMobileDownloadsAllowed(allowed bool) error
}

// PayloadMapper converts raw network bodies into opaque resource payloads
type PayloadMapper interface {
	ToPayload(resourceType string, raw []byte) ([]byte, error)
}

// Transport executes network jobs
type Transport interface {
	Do(ctx context.Context, job *Job, token string) (*Response, error)
}

// ResourceLocator maps a resource identity onto the URL it is fetched from
type ResourceLocator interface {
	URLFor(resourceType, resourceID string) (string, error)
}

// RemoteInfo is the result of a size probe
type RemoteInfo struct {
	Size int64
	ETag string
}

// RemoteSource serves download bytes
type RemoteSource interface {
	// Supports reports whether the source can serve the uri
	Supports(uri string) bool

	// Probe returns remote metadata; Size is SizeUnknown when not reported
	Probe(ctx context.Context, uri string) (RemoteInfo, error)

	// Open streams the resource starting at offset. The returned start is the
	// offset the body actually begins at, which is 0 when ranges are unsupported.
	Open(ctx context.Context, uri string, offset int64) (io.ReadCloser, int64, error)
}

// Notifier is told about finished downloads
type Notifier interface {
	NotifyDownloadCompleted(title string)
	NotifyDownloadFailed(title string, err error)
}
