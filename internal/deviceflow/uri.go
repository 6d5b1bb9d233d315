package deviceflow

import (
	"net/url"
	"path"
)

const (
	linkPath     = "/v1/discogs/oauth/link"
	callbackPath = "/v1/discogs/oauth/callback"
)

// buildSessionURL joins endpoint onto the public base URL and attaches the
// session pair as query parameters
func (f *flowImpl) buildSessionURL(endpoint, deviceID, pendingToken string) string {
	// Parse the base URL to properly handle existing paths
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return ""
	}

	u.Path = path.Join("/", u.Path, endpoint)

	q := url.Values{}
	q.Set("device_id", deviceID)
	q.Set("pending_token", pendingToken)
	u.RawQuery = q.Encode()

	return u.String()
}

func (f *flowImpl) linkURL(deviceID, pendingToken string) string {
	return f.buildSessionURL(linkPath, deviceID, pendingToken)
}

func (f *flowImpl) callbackURL(deviceID, pendingToken string) string {
	return f.buildSessionURL(callbackPath, deviceID, pendingToken)
}
