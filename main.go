package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentboard/orchestrator/internal/adapter/agentclient"
	"github.com/agentboard/orchestrator/internal/config"
	store "github.com/agentboard/orchestrator/internal/repository"
	transport "github.com/agentboard/orchestrator/internal/transport/http"
	"github.com/agentboard/orchestrator/internal/workflow"
	"github.com/agentboard/orchestrator/policy"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting workflow engine...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Agent runner: %s", cfg.AgentRunnerURL)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize agent client
	agentClient := agentclient.NewClient(cfg.AgentRunnerURL, cfg.AgentTimeout)

	// Initialize ACL policy engine
	ctx := context.Background()
	policyContent := policy.DefaultPolicy
	if cfg.ACLPolicyFile != "" {
		raw, err := os.ReadFile(cfg.ACLPolicyFile)
		if err != nil {
			log.Fatalf("Failed to read ACL policy file: %v", err)
		}
		policyContent = string(raw)
	}
	aclEngine, err := policy.NewEngine(ctx, policyContent)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize engine components
	defs := workflow.NewDefinitions(db)
	machine := workflow.NewMachine(db, agentClient)
	sched := workflow.NewScheduler(db, defs, machine, aclEngine)

	// Re-advance runs whose retry backoff elapsed
	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	go sched.Poll(pollCtx, cfg.PollInterval)

	// Create HTTP server
	server := transport.NewServer(defs, sched)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down workflow engine...")
	cancelPoll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Workflow engine stopped")
}
