// Package hsm queries the Hardware State Manager for component inventory.
//
// Only a thin slice of the HSM API is needed here: listing node components
// matching a set of query parameters so their CFS state can be inspected or
// updated.
package hsm

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"cfsutil/internal/gateway"
	"cfsutil/internal/session"
	"cfsutil/pkg/logging"
)

const subsystem = "HSM"

const basePath = "smd/hsm/v2"

// Client queries the Hardware State Manager API.
type Client struct {
	gw *gateway.Client
}

// NewClient creates an HSM client using the given session.
func NewClient(sess *session.AdminSession, timeout time.Duration) *Client {
	return NewClientOnGateway(gateway.NewClient(sess.Host, basePath, sess.HTTPClient(), timeout))
}

// NewClientOnGateway creates an HSM client on an existing gateway client.
func NewClientOnGateway(gw *gateway.Client) *Client {
	return &Client{gw: gw}
}

type componentState struct {
	ID    string `json:"ID"`
	State string `json:"State"`
}

type componentList struct {
	Components []componentState `json:"Components"`
}

// GetComponentIDs returns the xnames of the node components matching the
// given query parameters. The type is always constrained to Node, and
// components in the Empty state are excluded since they do not correspond to
// real hardware.
func (c *Client) GetComponentIDs(ctx context.Context, params map[string]string) ([]string, error) {
	query := url.Values{}
	for key, value := range params {
		query.Set(key, value)
	}
	query.Set("type", "Node")

	var list componentList
	if err := c.gw.GetJSON(ctx, &list, query, "State", "Components"); err != nil {
		return nil, fmt.Errorf("failed to query HSM components: %w", err)
	}

	ids := make([]string, 0, len(list.Components))
	for _, component := range list.Components {
		if component.State == "Empty" {
			logging.Debug(subsystem, "Skipping component %s in Empty state", component.ID)
			continue
		}
		ids = append(ids, component.ID)
	}

	logging.Info(subsystem, "Found %d node components matching %v", len(ids), params)
	return ids, nil
}
