package server

import (
	"github.com/gofiber/fiber/v2"
)

type HealthReply struct {
	Namespace string `json:"namespace"`
	IsReady   bool   `json:"isReady"`
}

func (s *Server) getHealth(c *fiber.Ctx) error {
	return c.JSON(HealthReply{Namespace: s.prog.Namespace(), IsReady: true})
}
