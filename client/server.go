package client

import (
	"context"
	"net/url"

	"pkt.systems/arangox/api"
)

// Version returns the server version. details requests build details.
func (c *Client) Version(ctx context.Context, details bool) (*api.VersionResponse, error) {
	req := Request{Path: "/_api/version"}
	if details {
		req.Query = url.Values{"details": []string{"true"}}
	}
	var out api.VersionResponse
	if _, err := c.DispatchJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
