package binance

import "errors"

// ErrUnavailable is the terminal per-call failure: retries were exhausted or
// the exchange rejected the request outright. Callers must treat the data as
// missing, never as zero. Check with errors.Is.
var ErrUnavailable = errors.New("market data unavailable")
