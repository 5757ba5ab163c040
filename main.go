package main

import (
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"persona_back/characters"
	"persona_back/hedra"
	"persona_back/llm"
	"persona_back/relay"
	"persona_back/storage"
	"persona_back/tts"
	"persona_back/uploads"
	"persona_back/workflow"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func main() {
	mustLoadEnv()

	r := gin.Default()
	r.Use(cors.Default())

	store, err := storage.NewMediaStoreFromEnv()
	if err != nil {
		log.Fatalf("init media store: %v", err)
	}

	if _, err := uploads.RegisterRoutes(r, store); err != nil {
		log.Fatalf("register upload routes: %v", err)
	}

	ttsModule, err := tts.RegisterRoutes(r, store)
	if err != nil {
		log.Fatalf("register tts routes: %v", err)
	}

	hedraModule, err := hedra.RegisterRoutes(r, store)
	if err != nil {
		log.Fatalf("register hedra routes: %v", err)
	}

	orchestrator := workflow.NewOrchestratorFromEnv(ttsModule, hedraModule.Client())
	if _, err := workflow.RegisterRoutes(r, orchestrator); err != nil {
		log.Fatalf("register workflow routes: %v", err)
	}

	if _, err := characters.RegisterRoutes(r, orchestrator); err != nil {
		log.Fatalf("register character routes: %v", err)
	}

	if _, err := llm.RegisterRoutes(r); err != nil {
		log.Fatalf("register llm routes: %v", err)
	}

	if _, err := relay.RegisterRoutes(r); err != nil {
		log.Fatalf("register relay routes: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}
