package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrHeld is returned by Acquire when another holder owns the key.
var ErrHeld = errors.New("lock: key already held")

type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// SendKey identifies one (tenant, lead, email) send.
func SendKey(companyID, leadID, emailID int64) string {
	return fmt.Sprintf("automationSendDupe::%d:%d:%d", companyID, leadID, emailID)
}
