package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"debate-tournament-system/config"
	"debate-tournament-system/handlers"
	"debate-tournament-system/models"
	"debate-tournament-system/services"
	"debate-tournament-system/utils"
	"debate-tournament-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration:", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitArchive(); err != nil {
		log.Fatal("failed to initialize transcript archive:", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Player{},
		&models.Room{},
		&models.Case{},
		&models.CaseUsage{},
		&models.Slot{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	conference := services.NewConferenceClient(cfg.ConferenceURL, cfg.ConferenceKey)
	notifier := services.NewNotifier(cfg.BotGatewayURL, cfg.BotToken)

	judge := services.NewAnalysisClient(cfg.JudgeAuthKey, cfg.JudgeOAuthURL, cfg.JudgeAPIURL)
	judge.Start()

	results := services.NewMatchResultService(db, judge, notifier, cfg.Location)
	capture := workers.NewCaptureWorker(db, conference, notifier, results,
		cfg.AnalyzeTime, cfg.CaptureLeadTime, cfg.Location)

	dispatcher := services.NewCaseDispatcher(db, notifier, cfg.DispatchLeadTime(), cfg.LinkFollowTime)
	attendance := services.NewAttendanceGuard(db, conference, notifier,
		cfg.AttendancePollInterval, cfg.AttendanceGracePeriod, cfg.Location)
	attendance.OnPresent = capture.Arm

	coordinator := services.NewConfirmationCoordinator(db, notifier, dispatcher, attendance,
		cfg.InvitationTimeout, cfg.Location)
	coordinator.OnConfirmed = capture.Arm
	coordinator.OnCanceled = capture.CancelSlot

	matchScheduler := services.NewMatchScheduler(db, conference, cfg)
	matchScheduler.Elimination = os.Getenv("ELIMINATION_MODE") == "true"
	matchScheduler.SendConfirmation = coordinator.SendRequests

	restoreWatchers(db, dispatcher, attendance, capture)

	sched, err := services.StartScheduler(matchScheduler, results, cfg.ScheduleHourUTC, cfg.RefreshCheckPeriod)
	if err != nil {
		log.Fatal("failed to start scheduler:", err)
	}

	app := fiber.New()
	handlers.SetupMatchRoutes(app, coordinator, matchScheduler, cfg.CallbackSecret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on %s", cfg.ListenAddr)
	log.Printf("✅ Pairing run daily at %02d:00 UTC, result sweep every %s", cfg.ScheduleHourUTC, cfg.RefreshCheckPeriod)

	<-ctx.Done()
	log.Println("Shutting down server...")

	_ = sched.Shutdown()
	coordinator.Shutdown()
	dispatcher.Shutdown()
	attendance.Shutdown()
	capture.Shutdown()
	judge.Stop()
	_ = app.Shutdown()
}

// restoreWatchers re-arms delivery, attendance and capture for matches that
// were live when the previous process died. Timers recompute their waits from
// the slot times, so a restart never skips a delivery that is still due.
func restoreWatchers(db *gorm.DB, dispatcher *services.CaseDispatcher, attendance *services.AttendanceGuard, capture *workers.CaptureWorker) {
	var slots []models.Slot
	err := db.Where("status = ? AND end_time > ?", models.StatusConfirmed, time.Now().UTC()).
		Find(&slots).Error
	if err != nil {
		log.Printf("Failed to restore watchers: %v", err)
		return
	}
	for _, s := range slots {
		dispatcher.Arm(s.ID)
		attendance.Watch(s.ID)
		capture.Arm(s.ID)
	}
	if len(slots) > 0 {
		log.Printf("Restored watchers for %d confirmed match(es)", len(slots))
	}
}
