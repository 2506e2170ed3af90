package routes

import (
	"log"
	"os"

	controller "zapflow/controllers"
	"zapflow/middleware"
	"zapflow/utils"
	"zapflow/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SetupRoutes wires the campaign management API and the gateway webhook.
func SetupRoutes(app *fiber.App, db *gorm.DB, store *worker.JobStore, instances *utils.InstanceCache, qr *utils.QRCache) {
	campaignController := controller.NewCampaignController(db, store, log.New(os.Stdout, "CAMPAIGN: ", log.LstdFlags))

	webhookLogger := logrus.New()
	webhookLogger.SetFormatter(&logrus.JSONFormatter{})
	webhookController := controller.NewWebhookController(db, instances, qr, webhookLogger)

	// Campaign management (JWT-protected)
	campaigns := app.Group("/campaigns", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}), middleware.Protected())

	campaigns.Get("/:id", campaignController.GetCampaign)

	mutations := campaigns.Group("", middleware.CampaignRateLimiter())
	mutations.Post("/", campaignController.CreateCampaign)
	mutations.Post("/:id/start", campaignController.StartCampaign)
	mutations.Post("/:id/pause", campaignController.PauseCampaign)
	mutations.Post("/:id/resume", campaignController.ResumeCampaign)
	mutations.Post("/:id/cancel", campaignController.CancelCampaign)

	// Gateway webhook: no auth, the gateway calls it from the private network
	webhook := app.Group("/webhook")
	webhook.Post("/whatsapp", webhookController.HandleWebhook)
	webhook.Get("/whatsapp/qr/:instance", webhookController.GetQRCode)
}
