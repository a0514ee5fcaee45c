package task

import (
	"time"

	"github.com/phrazzld/dispatch/internal/domain"
)

// EnqueueOption is a functional option for the Enqueue method.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority    domain.TaskPriority
	scheduledAt *time.Time
	maxRetries  int
	retryDelay  time.Duration
	tags        []string
	metadata    map[string]string
}

func defaultEnqueueOptions() enqueueOptions {
	return enqueueOptions{
		priority:   domain.TaskPriorityNormal,
		maxRetries: 3,
		retryDelay: 60 * time.Second,
	}
}

// WithPriority sets the scheduling priority for the task.
func WithPriority(priority domain.TaskPriority) EnqueueOption {
	return func(o *enqueueOptions) {
		if priority.Valid() {
			o.priority = priority
		}
	}
}

// WithScheduledAt delays the task until the given time. A time in the past
// is equivalent to not delaying at all.
func WithScheduledAt(at time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.scheduledAt = &at
	}
}

// WithMaxRetries sets how many automatic retries the task gets before it is
// marked permanently failed. Negative values are ignored.
func WithMaxRetries(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base delay for exponential backoff between
// retries. Non-positive values are ignored.
func WithRetryDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithTags attaches free-form tags to the task for querying. Tags play no
// part in scheduling.
func WithTags(tags ...string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.tags = tags
	}
}

// WithMetadata attaches free-form key/value annotations to the task.
func WithMetadata(metadata map[string]string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.metadata = metadata
	}
}
