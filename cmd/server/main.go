package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"policy-claims/backend/internal/api"
	"policy-claims/backend/internal/config"
)

func main() {
	cfg := config.Load()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{
			"http://localhost:1000",
			"http://127.0.0.1:1000",
		}
	}

	server, err := api.NewServer(api.Config{
		DBPath:         cfg.DBPath,
		UploadDir:      cfg.UploadDir,
		RulesPath:      cfg.RulesPath,
		AllowedOrigins: origins,
		AIConfig:       cfg.AI,
		DisableAI:      cfg.DisableAI,
		Embedding:      cfg.Embedding,
		TopK:           cfg.TopK,
	})
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer server.Close()

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	logrus.Infof("starting policy-claims backend on :%s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}
