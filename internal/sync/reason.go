package sync

import (
	"errors"

	"github.com/tarimpazar/agrisync/internal/model"
	"github.com/tarimpazar/agrisync/internal/remote"
	"github.com/tarimpazar/agrisync/internal/store"
)

// Reason is a short, stable name for why an operation failed, suitable for
// choosing a user-facing message.
type Reason string

const (
	ReasonNone      Reason = "none"
	ReasonOffline   Reason = "offline"
	ReasonSignIn    Reason = "sign_in"
	ReasonForbidden Reason = "forbidden"
	ReasonNotFound  Reason = "not_found"
	ReasonStorage   Reason = "storage"
	ReasonInvalid   Reason = "invalid"
	ReasonUnknown   Reason = "unknown"
)

// Explain maps err onto a Reason and returns the most specific detail text
// available. A nil err is ReasonNone.
func Explain(err error) (Reason, string) {
	if err == nil {
		return ReasonNone, ""
	}

	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return ReasonInvalid, ve.Error()
	}
	var sf *store.Fault
	if errors.As(err, &sf) {
		if sf.Kind == store.ConstraintViolation {
			return ReasonInvalid, sf.Err.Error()
		}
		return ReasonStorage, sf.Error()
	}

	detail := err.Error()
	var rf *remote.Fault
	if errors.As(err, &rf) && rf.Detail != "" {
		detail = rf.Detail
	}
	switch remote.KindOf(err) {
	case remote.Unreachable:
		return ReasonOffline, detail
	case remote.Unauthenticated:
		return ReasonSignIn, detail
	case remote.PermissionDenied:
		return ReasonForbidden, detail
	case remote.NotFound:
		return ReasonNotFound, detail
	default:
		return ReasonUnknown, detail
	}
}
