package mdm

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Category is a device category as returned by the platform.
type Category struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// ErrCategoryNotFound reports that no category matched the requested display name.
var ErrCategoryNotFound = errors.New("mdm: category not found")

// SearchCategories returns all categories whose display name exactly matches name.
func (c *Client) SearchCategories(ctx context.Context, name string) ([]Category, error) {
	if c == nil {
		return nil, errors.New("mdm: client is nil")
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, errors.New("mdm: category name is empty")
	}
	path := "/api/v2/categories?name=" + url.QueryEscape(trimmed)
	_, raw, err := c.doJSONRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "search categories failed")
	}
	var data struct {
		Items []Category `json:"items"`
	}
	if err := decodeEnvelope(raw, &data); err != nil {
		return nil, err
	}
	return data.Items, nil
}

// ResolveCategory maps a category display name to its platform identifier.
// Multiple matches are broken arbitrarily: the first returned item wins.
// Returns ErrCategoryNotFound when zero categories match.
func (c *Client) ResolveCategory(ctx context.Context, name string) (string, error) {
	items, err := c.SearchCategories(ctx, name)
	if err != nil {
		return "", err
	}
	for _, item := range items {
		if strings.TrimSpace(item.ID) != "" {
			return strings.TrimSpace(item.ID), nil
		}
	}
	return "", ErrCategoryNotFound
}
