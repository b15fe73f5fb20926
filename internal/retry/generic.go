package retry

import "context"

// DoWithResultTyped runs fn through r and returns its typed result. The
// zero value of T is returned with the error once retries give up.
func DoWithResultTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
