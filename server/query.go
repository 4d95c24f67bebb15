package server

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
)

func (s *Server) getProfile(c *fiber.Ctx) error {
	authority := c.Params("authority")
	if !common.IsHexAddress(authority) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid authority address: "+authority)
	}
	state, err := s.prog.Profile(c.UserContext(), common.HexToAddress(authority))
	if err != nil {
		return err
	}
	return c.JSON(state)
}

func (s *Server) getBattle(c *fiber.Ctx) error {
	roomID, err := strconv.ParseUint(c.Params("room"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "room must be an unsigned integer")
	}
	state, err := s.prog.Battle(c.UserContext(), roomID)
	if err != nil {
		return err
	}
	return c.JSON(state)
}

func (s *Server) getSession(c *fiber.Ctx) error {
	id, err := parseSessionID(c.Params("id"))
	if err != nil {
		return err
	}
	token, err := s.prog.Session(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(token)
}
