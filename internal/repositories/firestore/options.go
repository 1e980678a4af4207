// Package firestore implements the repositories over Cloud Firestore.
package firestore

import "time"

// Option customises repository construction.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.now = clock
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
