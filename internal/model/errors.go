package model

import "fmt"

// RejectCode is the closed taxonomy of typed rejection codes persisted on
// the match document (spec §7). Every stage returns rejections through
// this type instead of a bare error, so the orchestrator can always
// attribute a failure to the right match id and surface it upstream.
type RejectCode string

const (
	RejectOrderInvalid                  RejectCode = "OrderInvalid"
	RejectNotApprovedToTransferToken    RejectCode = "NotApprovedToTransferToken"
	RejectInsufficientTokenBalance      RejectCode = "InsufficientTokenBalance"
	RejectInsufficientCurrencyAllowance RejectCode = "InsufficientCurrencyAllowance"
	RejectInsufficientCurrencyBalance   RejectCode = "InsufficientCurrencyBalance"
	RejectMultipleOrdersUnsupported     RejectCode = "MultipleOrdersUnsupported"
	RejectBundleTooLarge                RejectCode = "BundleTooLarge"
	RejectUnknownError                  RejectCode = "UnknownError"
)

// Rejection pairs a match id with the reason its item did not make it
// through a pipeline stage.
type Rejection struct {
	MatchID string
	Code    RejectCode
	Message string
}

func (r Rejection) Error() string {
	if r.Message == "" {
		return string(r.Code)
	}
	return string(r.Code) + ": " + r.Message
}

// Reject is a convenience constructor.
func Reject(matchID string, code RejectCode, format string, args ...any) Rejection {
	msg := ""
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return Rejection{MatchID: matchID, Code: code, Message: msg}
}
