package instrument

import (
	"context"
	"fmt"
	"time"
)

// ConnectMessage reads the identity parameter param and logs how long the
// connection took since begin. A driver typically calls it at the end of
// OnConnect.
func (i *Instrument) ConnectMessage(ctx context.Context, param string, begin time.Time) (string, error) {
	id, err := i.Get(ctx, param)
	if err != nil {
		return "", err
	}
	elapsed := time.Since(begin)
	msg := fmt.Sprintf("Connected to: %v (%s) in %.2fs", id, i.name, elapsed.Seconds())

	i.logger.Info("instrument connected",
		"instrument", i.name,
		"identity", fmt.Sprint(id),
		"elapsed", elapsed,
	)
	return msg, nil
}
