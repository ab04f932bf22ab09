// Package retry re-invokes operations that fail transiently.
//
// [Do] is the general entry point: it retries on errors selected by
// [WithRetryIf] or [On] for a bounded number of attempts, with a delay that
// starts at one second and grows by two seconds after every attempt
// (1s, 3s, 5s, 7s, ...). [WithExponentialBackoff] keeps the doubling
// schedule used for connection establishment.
package retry
