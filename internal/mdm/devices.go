package mdm

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Device is the device detail subset consumed by verification polling.
type Device struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	CategoryID          string `json:"categoryId"`
	CategoryDisplayName string `json:"categoryDisplayName"`
}

// GetDevice fetches the current state of a single device.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	if c == nil {
		return nil, errors.New("mdm: client is nil")
	}
	trimmed := strings.TrimSpace(deviceID)
	if trimmed == "" {
		return nil, errors.New("mdm: device id is empty")
	}
	path := "/api/v2/devices/" + url.PathEscape(trimmed)
	_, raw, err := c.doJSONRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "get device %s failed", trimmed)
	}
	var device Device
	if err := decodeEnvelope(raw, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// UpdateDeviceCategory associates a device with a category identifier.
//
// The platform acknowledges a successful update with an empty body. Any
// non-empty body is returned to the caller verbatim so it can be logged as
// unexpected; it is intentionally not treated as a failure (documented
// tolerance of API variability).
func (c *Client) UpdateDeviceCategory(ctx context.Context, deviceID, categoryID string) (string, error) {
	if c == nil {
		return "", errors.New("mdm: client is nil")
	}
	device := strings.TrimSpace(deviceID)
	category := strings.TrimSpace(categoryID)
	if device == "" {
		return "", errors.New("mdm: device id is empty")
	}
	if category == "" {
		return "", errors.New("mdm: category id is empty")
	}
	path := "/api/v2/devices/" + url.PathEscape(device) + "/category"
	payload := map[string]string{"categoryId": category}
	_, raw, err := c.doJSONRequest(ctx, http.MethodPut, path, payload)
	if err != nil {
		return "", errors.Wrapf(err, "update category for device %s failed", device)
	}
	return strings.TrimSpace(string(raw)), nil
}
