package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/notemirror/notemirror/internal/schema"
)

// Walk fetches a collection and calls fn for every page of results,
// following @odata.nextLink until it is absent. Walk stops at the first
// error from the transport or from fn.
func (c *Client) Walk(ctx context.Context, rawURL string, fn func([]schema.RemoteItem) error) error {
	seen := make(map[string]struct{})
	next := rawURL

	for next != "" {
		if _, dup := seen[next]; dup {
			return fmt.Errorf("%w: %s", ErrPaginationLoop, next)
		}
		seen[next] = struct{}{}

		resp, err := c.Get(ctx, next)
		if err != nil {
			return err
		}

		var listing schema.Listing
		if err := json.Unmarshal(resp.Body, &listing); err != nil {
			return fmt.Errorf("failed to decode listing from %s: %w", next, err)
		}

		if err := fn(listing.Value); err != nil {
			return err
		}
		next = listing.NextLink
	}
	return nil
}

// List returns the union of all pages of a collection. A failure on any page
// fails the whole listing; partial results are never returned.
func (c *Client) List(ctx context.Context, rawURL string) ([]schema.RemoteItem, error) {
	var items []schema.RemoteItem
	err := c.Walk(ctx, rawURL, func(page []schema.RemoteItem) error {
		items = append(items, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// PageContent fetches the HTML body of one page.
func (c *Client) PageContent(ctx context.Context, pageID string) ([]byte, error) {
	resp, err := c.Get(ctx, c.PageContentURL(pageID))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
