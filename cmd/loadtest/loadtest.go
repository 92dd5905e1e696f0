// Command loadtest drives a running huddle server: it mints tokens with the
// shared secret, opens one websocket per simulated user, has every user
// send messages into one group room and checks that each connection saw
// every message in the same order.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/huddle/internal/auth"
	"github.com/johndosdos/huddle/internal/model"
	"github.com/johndosdos/huddle/internal/protocol"
)

type user struct {
	id    auth.Identity
	token string
	conn  *websocket.Conn
	seen  []model.Message
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	clients := flag.Int("clients", 10, "number of simulated users")
	perClient := flag.Int("messages", 20, "messages sent by each user")
	interval := flag.Duration("interval", 50*time.Millisecond, "pause between a user's messages")
	timeout := flag.Duration("timeout", time.Minute, "overall deadline")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	users := make([]*user, *clients)
	for i := range users {
		id := auth.Identity{UserID: uuid.New(), Username: fmt.Sprintf("load-%d", i)}
		tok, err := auth.MakeJWT(id, secret, os.Getenv("JWT_ISS"), *timeout+time.Minute)
		if err != nil {
			log.Fatalf("failed to mint token: %v", err)
		}
		users[i] = &user{id: id, token: tok}
	}

	room, err := createRoom(ctx, *baseURL, users)
	if err != nil {
		log.Fatalf("failed to create room: %v", err)
	}
	log.Printf("created room %s for %d users", room.ID, len(users))

	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws"
	for _, u := range users {
		u.conn, _, err = websocket.Dial(ctx, wsURL+"?token="+u.token, nil)
		if err != nil {
			log.Fatalf("failed to dial websocket: %v", err)
		}
		defer u.conn.CloseNow()

		if err := write(ctx, u.conn, protocol.TypeJoinRoom, protocol.RoomRef{Room: room.ID}); err != nil {
			log.Fatalf("failed to join room: %v", err)
		}
	}

	want := *clients * *perClient
	var sendErrors atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range users {
		g.Go(func() error {
			return receive(gctx, u, want)
		})
		g.Go(func() error {
			for i := 0; i < *perClient; i++ {
				err := write(gctx, u.conn, protocol.TypeSendMessage, protocol.SendMessage{
					Room:    room.ID,
					Content: fmt.Sprintf("%s #%d", u.id.Username, i),
				})
				if err != nil {
					sendErrors.Add(1)
					return err
				}
				time.Sleep(*interval)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("load run ended early: %v", err)
	}
	elapsed := time.Since(start)

	report(users, want, sendErrors.Load(), elapsed)
}

func createRoom(ctx context.Context, baseURL string, users []*user) (model.Room, error) {
	participants := make([]uuid.UUID, 0, len(users)-1)
	for _, u := range users[1:] {
		participants = append(participants, u.id.UserID)
	}
	body, err := json.Marshal(map[string]any{
		"name":         "loadtest-" + uuid.NewString(),
		"participants": participants,
	})
	if err != nil {
		return model.Room{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/rooms/group", bytes.NewReader(body))
	if err != nil {
		return model.Room{}, err
	}
	req.Header.Set("Authorization", "Bearer "+users[0].token)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return model.Room{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		return model.Room{}, fmt.Errorf("unexpected status %s", res.Status)
	}
	var room model.Room
	return room, json.NewDecoder(res.Body).Decode(&room)
}

func write(ctx context.Context, conn *websocket.Conn, t protocol.EventType, data any) error {
	frame, err := protocol.Encode(t, data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

// receive collects receive-message events until want have arrived.
func receive(ctx context.Context, u *user, want int) error {
	for len(u.seen) < want {
		_, p, err := u.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("%s: read: %w", u.id.Username, err)
		}
		env, err := protocol.ParseEnvelope(p)
		if err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeReceiveMessage:
			var msg model.Message
			if err := json.Unmarshal(env.Data, &msg); err == nil {
				u.seen = append(u.seen, msg)
			}
		case protocol.TypeError:
			log.Printf("%s: server error: %s", u.id.Username, env.Data)
		}
	}
	return nil
}

func report(users []*user, want int, sendErrors int64, elapsed time.Duration) {
	var delivered, outOfOrder, mismatched int
	reference := users[0].seen
	for _, u := range users {
		delivered += len(u.seen)
		for i := 1; i < len(u.seen); i++ {
			if !u.seen[i-1].Before(u.seen[i]) {
				outOfOrder++
			}
		}
		for i := 0; i < len(u.seen) && i < len(reference); i++ {
			if u.seen[i].ID != reference[i].ID {
				mismatched++
				break
			}
		}
	}

	total := want * len(users)
	log.Printf("elapsed:            %s", elapsed.Round(time.Millisecond))
	log.Printf("send errors:        %d", sendErrors)
	log.Printf("delivered:          %d/%d", delivered, total)
	log.Printf("ordering violations: %d", outOfOrder)
	log.Printf("diverging clients:  %d", mismatched)
	if delivered > 0 {
		log.Printf("throughput:         %.1f deliveries/s", float64(delivered)/elapsed.Seconds())
	}

	if delivered != total || outOfOrder > 0 || mismatched > 0 {
		os.Exit(1)
	}
}
