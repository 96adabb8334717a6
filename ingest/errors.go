package ingest

import (
	"errors"
	"strings"
)

// Invariant breaches. A worker returning one of these has detected state it
// cannot trust and must stop rather than keep writing.
var (
	// ErrOrderViolation: a backfill page delivered a timestamp older than
	// one already admitted in the same backfill.
	ErrOrderViolation = errors.New("ingest: backfill order violation")

	// ErrLedgerViolation: the store rejected an entry as a duplicate that
	// the ledger claimed was new.
	ErrLedgerViolation = errors.New("ingest: ledger out of sync with store")
)

var permanentFetchHints = []string{
	"unauthorized",
	"forbidden",
	"not found",
	"invalid token",
	"bot was kicked",
	"api error 401",
	"api error 403",
	"api error 404",
}

// isTransientFetchError classifies a history-fetch failure. Auth and
// not-found failures never heal on their own; anything else (network,
// timeouts, 5xx, rate limits) is worth retrying.
func isTransientFetchError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range permanentFetchHints {
		if strings.Contains(msg, hint) {
			return false
		}
	}
	return true
}
