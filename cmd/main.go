package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"circulation/internal/config"
	"circulation/internal/dispatch"
	"circulation/internal/handlers"
	"circulation/internal/models"
	"circulation/internal/repositories"
	"circulation/internal/scheduler"
	"circulation/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[INFO] no .env file loaded: %v", err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get generic DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	cfg := config.Load()

	memberRepo := repositories.NewMemberRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	bookCopyRepo := repositories.NewBookCopyRepository(db)
	loanRepo := repositories.NewLoanRepository(db)
	fineRepo := repositories.NewFineRepository(db)
	holdRepo := repositories.NewHoldRepository(db)
	reservationRepo := repositories.NewReservationRepository(db)
	notificationRepo := repositories.NewNotificationRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	dispatcher := dispatch.NewDispatcher(notificationRepo, auditRepo)

	holdService := services.NewHoldService(db, cfg, memberRepo, holdRepo, fineRepo, dispatcher)
	fineService := services.NewFineService(db, cfg, memberRepo, fineRepo, holdService, dispatcher)
	circulationService := services.NewCirculationService(db, cfg, memberRepo, bookRepo, bookCopyRepo,
		loanRepo, fineRepo, holdRepo, reservationRepo, dispatcher)
	catalogService := services.NewCatalogService(db, memberRepo, bookRepo, bookCopyRepo, reservationRepo, dispatcher)
	memberService := services.NewMemberService(cfg, memberRepo, loanRepo, holdRepo, fineRepo, notificationRepo, dispatcher)
	escalationService := services.NewEscalationService(db, cfg, loanRepo, fineRepo, holdRepo, notificationRepo, dispatcher)

	sched := scheduler.New(escalationService)
	if err := sched.Start(cfg.EscalationCronSpec); err != nil {
		log.Fatalf("failed to start escalation scheduler: %v", err)
	}
	defer sched.Stop()

	router := gin.Default()

	handlers.RegisterRoutes(router, circulationService, fineService, holdService,
		catalogService, memberService, sched)

	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = ":8080"
	}

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	log.Printf("Starting server on %s", serverAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
