package dialer

import "errors"

var (
	errNoCandidates        = errors.New("host profile has no connection candidates")
	errAllCandidatesFailed = errors.New("all connection candidates failed")
)
