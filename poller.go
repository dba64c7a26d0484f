package categorysync

import (
	"context"
	"strings"
	"time"

	"github.com/deviceops/categorysync/internal/mdm"
	"github.com/rs/zerolog/log"
)

// DeviceFetcher reads the current state of a device.
type DeviceFetcher interface {
	GetDevice(ctx context.Context, deviceID string) (*mdm.Device, error)
}

// DefaultPollInterval is the fixed wait between verification fetches.
const DefaultPollInterval = 10 * time.Second

// VerifyDeviceCategory polls a device until it reports the expected category
// display name or the retry budget runs out.
//
// A maxRetries of 0 skips verification entirely and reports OutcomeSkipped
// without a single fetch. Otherwise at most maxRetries+1 fetches occur with a
// fixed interval wait between them; the first matching fetch short-circuits
// with OutcomeSuccess and zero waits. Fetch errors count as non-matching
// attempts so a flaky read cannot fail an update that was already issued.
//
// The returned error is non-nil only when ctx is canceled mid-wait.
func VerifyDeviceCategory(ctx context.Context, fetcher DeviceFetcher, deviceID, expected string, maxRetries int, interval time.Duration) (Outcome, error) {
	if maxRetries <= 0 {
		return OutcomeSkipped, nil
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	want := strings.TrimSpace(expected)

	for attempt := 0; ; attempt++ {
		device, err := fetcher.GetDevice(ctx, deviceID)
		if err != nil {
			log.Warn().Err(err).
				Str("device_id", deviceID).
				Int("attempt", attempt+1).
				Msg("verification fetch failed; counting as mismatch")
		} else if strings.TrimSpace(device.CategoryDisplayName) == want {
			return OutcomeSuccess, nil
		}
		if attempt >= maxRetries {
			return OutcomeTimedOut, nil
		}
		select {
		case <-ctx.Done():
			return OutcomeTimedOut, ctx.Err()
		case <-time.After(interval):
		}
	}
}
