package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/park285/Cheese-PvP-Server/pkg/sessionclient"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

func main() {
	baseURL := flag.String("url", os.Getenv("PVP_BASE_URL"), "server base URL")
	token := flag.String("token", os.Getenv("PVP_TOKEN"), "bearer token")
	sessionID := flag.String("session", os.Getenv("PVP_SESSION_ID"), "session id")
	move := flag.String("move", "", "send a move (UCI or SAN) before reading")
	watch := flag.Duration("watch", 0, "poll interval; 0 reads once")
	flag.Parse()

	if *baseURL == "" {
		log.Fatal("PVP_BASE_URL or -url is required")
	}
	if *sessionID == "" {
		log.Fatal("PVP_SESSION_ID or -session is required")
	}

	client := sessionclient.New(*baseURL,
		sessionclient.WithToken(*token),
		sessionclient.WithTimeout(8*time.Second),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *move != "" {
		res, err := client.Send(ctx, *sessionID, sessiondto.Command{Type: sessiondto.CmdApplyMove, Move: *move})
		if err != nil {
			log.Fatalf("move error: %v", err)
		}
		log.Printf("move success=%v replayed=%v message=%q", res.Success, res.Replayed, res.Message)
	}

	if *watch <= 0 {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		snap, _, err := client.Snapshot(rctx, *sessionID)
		if err != nil {
			log.Fatalf("snapshot error: %v", err)
		}
		printSnapshot(snap)
		return
	}

	err := client.Watch(ctx, *sessionID, *watch, printSnapshot)
	if err != nil && ctx.Err() == nil {
		log.Fatalf("watch error: %v", err)
	}
}

func printSnapshot(s sessiondto.Snapshot) {
	status := s.Status
	if s.EndReason != "" {
		status += " (" + s.EndReason + ")"
	}
	fmt.Printf("session=%s v%d status=%s tc=%s\n", s.ID, s.Version, status, s.TimeControl)
	fmt.Printf("  white %-16s %s online=%v\n", s.White.Name, fmtMs(s.Clock.WhiteMs), s.White.Connected)
	fmt.Printf("  black %-16s %s online=%v\n", s.Black.Name, fmtMs(s.Clock.BlackMs), s.Black.Connected)
	fmt.Printf("  turn=%s fen=%s\n", s.Turn, s.FEN)
	if n := len(s.Moves); n > 0 {
		san := make([]string, 0, n)
		for _, m := range s.Moves {
			san = append(san, m.SAN)
		}
		fmt.Printf("  moves: %s\n", strings.Join(san, " "))
	}
	if s.Pause != nil {
		fmt.Printf("  paused: %s since %s\n", s.Pause.Reason, s.Pause.PausedAt.Format(time.RFC3339))
	}
	for _, n := range []*sessiondto.Negotiation{s.Resume, s.Draw} {
		if n != nil {
			fmt.Printf("  pending %s by %s until %s\n", n.Kind, n.RequestedBy, n.ExpiresAt.Format(time.RFC3339))
		}
	}
}

func fmtMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
