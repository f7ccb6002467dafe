package handler

import (
	"strconv"
	"time"

	"omg-license-server/internal/database"
	"omg-license-server/internal/model"
	"omg-license-server/internal/store"
	"omg-license-server/internal/util"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// AdminHandler serves the dashboard's read-only query interface plus
// login. The dashboard never mutates licensing state through these
// endpoints.
type AdminHandler struct {
	store *store.Store
}

func NewAdminHandler(st *store.Store) *AdminHandler {
	return &AdminHandler{store: st}
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AdminHandler) HandleLogin(c *fiber.Ctx) error {
	input := new(LoginInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid input",
		})
	}

	var user model.User
	result := database.DB.Where("username = ?", input.Username).First(&user)
	if result.Error != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid username or password",
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid username or password",
		})
	}

	user.LastLogin = time.Now()
	database.DB.Save(&user)

	tok, err := util.GenerateToken(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate session token",
		})
	}

	return c.JSON(fiber.Map{
		"token": tok,
		"user": fiber.Map{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
			"role":     user.Role,
		},
	})
}

func (h *AdminHandler) HandleListLicenses(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	licenses, total, err := h.store.ListLicenses(page, pageSize)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list licenses",
		})
	}

	return c.JSON(fiber.Map{
		"licenses": licenses,
		"total":    total,
		"page":     page,
		"size":     pageSize,
	})
}

func (h *AdminHandler) HandleLicenseSeats(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "license key is required",
		})
	}

	license, err := h.store.GetLicenseByKey(key)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "license not found",
		})
	}

	seats, err := h.store.ActiveSeats(license.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list seats",
		})
	}

	return c.JSON(fiber.Map{
		"license_id": license.ID,
		"used_seats": license.UsedSeats,
		"max_seats":  license.MaxSeats,
		"seats":      seats,
	})
}

func (h *AdminHandler) HandleAuditLog(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	entries, total, err := h.store.AuditEntries(c.Query("action"), page, pageSize)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to read audit log",
		})
	}

	return c.JSON(fiber.Map{
		"entries": entries,
		"total":   total,
		"page":    page,
		"size":    pageSize,
	})
}

func (h *AdminHandler) HandleStatistics(c *fiber.Ctx) error {
	stats, err := h.store.Statistics()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to compute statistics",
		})
	}
	return c.JSON(stats)
}
