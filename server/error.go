package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"

	"github.com/datmedevil17/apocalypse/account"
	"github.com/datmedevil17/apocalypse/auth"
	"github.com/datmedevil17/apocalypse/delegation"
	"github.com/datmedevil17/apocalypse/ledger"
	"github.com/datmedevil17/apocalypse/session"
	"github.com/datmedevil17/apocalypse/sign"
)

type ErrorResponse struct {
	Error Error `json:"error"`
}

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type errorKind struct {
	err    error
	status int
	code   string
}

var errorKinds = []errorKind{
	{auth.ErrInvalidAuth, fiber.StatusForbidden, "InvalidAuth"},
	{session.ErrNotSessionParty, fiber.StatusForbidden, "InvalidAuth"},
	{sign.ErrSignatureValidationFailed, fiber.StatusUnauthorized, "InvalidSignature"},
	{sign.ErrMissingSignature, fiber.StatusUnauthorized, "InvalidSignature"},
	{ErrTxExpired, fiber.StatusUnauthorized, "TransactionExpired"},
	{ErrReplay, fiber.StatusConflict, "Replay"},
	{ErrWrongNamespace, fiber.StatusBadRequest, "WrongNamespace"},
	{account.ErrGameAlreadyActive, fiber.StatusConflict, "GameAlreadyActive"},
	{account.ErrGameNotActive, fiber.StatusConflict, "GameNotActive"},
	{account.ErrBattleRoomFull, fiber.StatusConflict, "BattleRoomFull"},
	{account.ErrInvalidCapacity, fiber.StatusBadRequest, "InvalidCapacity"},
	{ledger.ErrDuplicateObject, fiber.StatusConflict, "DuplicateObject"},
	{ledger.ErrNotOwner, fiber.StatusConflict, "NotOwner"},
	{ledger.ErrObjectNotFound, fiber.StatusNotFound, "NotFound"},
	{delegation.ErrNotDelegated, fiber.StatusConflict, "NotDelegated"},
	{session.ErrSessionNotFound, fiber.StatusNotFound, "SessionNotFound"},
	{session.ErrSessionExpired, fiber.StatusForbidden, "SessionExpired"},
	{session.ErrSessionExists, fiber.StatusConflict, "SessionExists"},
	{session.ErrInvalidSessionTTL, fiber.StatusBadRequest, "InvalidSessionTTL"},
}

// ErrorHandler renders err as an ErrorResponse. Known error kinds get their own status and code; anything else
// is an internal error.
var ErrorHandler = func(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "Internal"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		code = "Request"
	} else {
		for _, kind := range errorKinds {
			if eris.Is(err, kind.err) {
				status = kind.status
				code = kind.code
				break
			}
		}
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(status).JSON(ErrorResponse{Error: Error{Message: err.Error(), Code: code}})
}
