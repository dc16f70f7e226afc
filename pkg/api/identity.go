package api

import (
	"context"
	"strings"

	hmterrors "github.com/helpmetest/cli/pkg/errors"
	"github.com/helpmetest/cli/pkg/interactive"
)

// User is the account behind the API token.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	TenantID     string `json:"tenantId"`
	CompanyID    string `json:"companyId"`
	DashboardURL string `json:"dashboardUrl"`
}

// Identity is the tenant and dashboard resolved from the token.
type Identity struct {
	TenantID     string
	DashboardURL string
	Email        string
}

// User fetches the account behind the token.
func (c *Client) User(ctx context.Context) (*User, error) {
	var u User
	if err := c.getJSON(ctx, "/user", "/user", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Identity resolves the tenant once. Concurrent first calls share a single
// request; failures are not cached.
func (c *Client) Identity(ctx context.Context) (Identity, error) {
	c.identityMu.RLock()
	cached := c.identity
	c.identityMu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	v, err, _ := c.identityGroup.Do("identity", func() (any, error) {
		u, err := c.User(ctx)
		if err != nil {
			return nil, err
		}
		id := Identity{
			TenantID:     strings.TrimSpace(u.TenantID),
			DashboardURL: strings.TrimRight(strings.TrimSpace(u.DashboardURL), "/"),
			Email:        u.Email,
		}
		if id.TenantID == "" {
			id.TenantID = strings.TrimSpace(u.CompanyID)
		}
		if id.TenantID == "" {
			return nil, hmterrors.New(hmterrors.ErrCodeAPIDecode, "user response has no tenant").
				WithUserMessage("The helpmetest API did not report which company the token belongs to.")
		}
		if id.DashboardURL == "" {
			id.DashboardURL = c.BaseURL()
		}

		c.identityMu.Lock()
		c.identity = &id
		c.identityMu.Unlock()
		return id, nil
	})
	if err != nil {
		return Identity{}, err
	}
	return v.(Identity), nil
}

// InteractiveIdentity adapts Identity for the interactive coordinator.
func (c *Client) InteractiveIdentity() interactive.IdentityProvider {
	return interactive.IdentityFunc(func(ctx context.Context) (interactive.Identity, error) {
		id, err := c.Identity(ctx)
		if err != nil {
			return interactive.Identity{}, err
		}
		return interactive.Identity{TenantID: id.TenantID, DashboardURL: id.DashboardURL}, nil
	})
}
