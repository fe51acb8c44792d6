// Command motioncore runs the biomechanical measurement core: serve stored
// session results over HTTP, replay a recorded frame log through a live
// session, or manage the database schema.
//
// Usage:
//
//	motioncore [flags]                       start the API server
//	motioncore [flags] -replay frames.jsonl  process a recorded frame log
//	motioncore migrate up|down|status        manage the database schema
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/physioassist/motioncore/internal/api"
	"github.com/physioassist/motioncore/internal/config"
	"github.com/physioassist/motioncore/internal/feedback"
	"github.com/physioassist/motioncore/internal/goniometry"
	"github.com/physioassist/motioncore/internal/pose"
	"github.com/physioassist/motioncore/internal/session"
	"github.com/physioassist/motioncore/internal/store"
	"github.com/physioassist/motioncore/internal/version"
)

var (
	dbPath     = flag.String("db", "motioncore.db", "Path to the sqlite database")
	listen     = flag.String("listen", ":8080", "Listen address for the API server")
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the clinical config JSON")

	replayPath = flag.String("replay", "", "Replay a JSONL pose-frame log instead of serving")
	exerciseID = flag.String("exercise", "", "Exercise id for the replayed session")
	patientID  = flag.String("patient", "", "Patient id for the replayed session")
	skill      = flag.String("skill", "beginner", "Patient skill level (beginner/intermediate/advanced)")
	primary    = flag.String("primary-joint", string(goniometry.JointKneeRight), "Primary joint for repetition segmentation")

	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("motioncore %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		runMigrate(args[1:])
		return
	}

	cfg, err := config.LoadClinicalConfig(*configPath)
	if err != nil {
		// Wrong clinical thresholds are a safety issue: refuse to start.
		log.Fatalf("failed to load clinical config: %v", err)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	if *replayPath != "" {
		if err := runReplay(st, cfg); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	serve(st, cfg)
}

func serve(st *store.Store, cfg *config.ClinicalConfig) {
	server := api.NewServer(st, cfg, *configPath, nil)

	httpServer := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(server.ServeMux()),
	}

	go func() {
		log.Printf("motioncore API listening on %s", *listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down")
	httpServer.Close()
}

// runReplay streams a recorded frame log (one pose.Frame JSON object per
// line) through a session and persists the finalized summary.
func runReplay(st *store.Store, cfg *config.ClinicalConfig) error {
	f, err := os.Open(*replayPath)
	if err != nil {
		return fmt.Errorf("failed to open frame log: %w", err)
	}
	defer f.Close()

	sess := session.New(cfg, session.Options{
		ExerciseID:   *exerciseID,
		PatientID:    *patientID,
		Skill:        feedback.SkillLevel(*skill),
		PrimaryJoint: goniometry.JointID(*primary),
	})

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame pose.Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			return fmt.Errorf("frame log line %d: %w", lineNo, err)
		}
		if _, err := sess.ProcessFrame(&frame); err != nil {
			return fmt.Errorf("frame log line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read frame log: %w", err)
	}
	if lineNo == 0 {
		return fmt.Errorf("frame log %s is empty", *replayPath)
	}

	summary := sess.Finalize()
	if err := st.SaveSummary(summary); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	log.Printf("session %s: %d frames, %d reps, %d events, %d feedback items",
		summary.SessionID, summary.FrameCount, summary.Repetitions,
		len(summary.Events), len(summary.Feedback))
	return nil
}

func runMigrate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: motioncore migrate up|down|status")
		os.Exit(1)
	}

	st, err := openWithoutMigrate(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	switch args[0] {
	case "up":
		if err := st.MigrateUp(); err != nil {
			log.Fatalf("migrate up failed: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := st.MigrateDown(); err != nil {
			log.Fatalf("migrate down failed: %v", err)
		}
		log.Println("rolled back one migration")
	case "status":
		version, dirty, err := st.MigrateVersion()
		if err != nil {
			log.Fatalf("migrate status failed: %v", err)
		}
		log.Printf("schema version %d (dirty=%v)", version, dirty)
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate action %q\n", args[0])
		os.Exit(1)
	}
}

// openWithoutMigrate opens the database without auto-migrating, so the
// migrate subcommand controls schema changes explicitly.
func openWithoutMigrate(path string) (*store.Store, error) {
	return store.OpenRaw(path)
}
