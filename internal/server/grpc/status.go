package grpc

import (
	"errors"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// codeFor maps a service error onto a gRPC status code by its kind.
func codeFor(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case dbx.IsSerializationFailure(err):
		return codes.Aborted
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return codes.Unauthenticated
	case errors.Is(err, common.ErrDuplicateRequest),
		errors.Is(err, common.ErrAlreadyVoted),
		errors.Is(err, common.ErrAlreadyMember):
		return codes.AlreadyExists
	case errors.Is(err, common.ErrChainBroken):
		return codes.DataLoss
	}

	switch common.Kind(err) {
	case common.ErrValidation:
		return codes.InvalidArgument
	case common.ErrConflict, common.ErrIntegrity:
		return codes.FailedPrecondition
	case common.ErrNotFound:
		return codes.NotFound
	}
	return codes.Internal
}

// toStatus converts err for the wire. Internal errors are logged by the
// caller and reach the client without details.
func toStatus(err error) error {
	code := codeFor(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}
